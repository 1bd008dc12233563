// Package reachability tracks sustained network silence while a user is
// authorizing in the browser.
package reachability

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTimeout is how long without successful network activity before a
// network-lost notification fires.
const DefaultTimeout = 30 * time.Second

// Monitor is a resettable silence timer. It is not safe for concurrent use;
// the owning session loop drives it and selects on C.
//
// A zero interval disables the monitor: C stays nil and nothing fires.
type Monitor struct {
	clock    clockwork.Clock
	interval time.Duration
	timer    clockwork.Timer
}

// New returns a stopped monitor. A nil clock uses the real clock.
func New(clock clockwork.Clock, interval time.Duration) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval < 0 {
		interval = 0
	}
	return &Monitor{clock: clock, interval: interval}
}

// Interval returns the configured timeout.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Running reports whether the timer is armed.
func (m *Monitor) Running() bool {
	return m.timer != nil
}

// Start arms the timer. Starting a running monitor restarts it.
func (m *Monitor) Start() {
	if m.interval == 0 {
		return
	}
	m.arm()
}

// Activity records successful network activity, restarting the interval.
// It has no effect on a stopped monitor.
func (m *Monitor) Activity() {
	if m.timer == nil {
		return
	}
	m.arm()
}

// Fired must be called after a value is received from C; it arms the timer
// for the next uninterrupted interval.
func (m *Monitor) Fired() {
	if m.timer == nil {
		return
	}
	m.timer = m.clock.NewTimer(m.interval)
}

// Stop disarms the timer and discards any pending expiry.
func (m *Monitor) Stop() {
	if m.timer == nil {
		return
	}
	m.disarm()
}

// C delivers one value per elapsed interval. It is nil while stopped, so a
// select on it blocks forever.
func (m *Monitor) C() <-chan time.Time {
	if m.timer == nil {
		return nil
	}
	return m.timer.Chan()
}

func (m *Monitor) arm() {
	m.disarm()
	m.timer = m.clock.NewTimer(m.interval)
}

func (m *Monitor) disarm() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	select {
	case <-m.timer.Chan():
	default:
	}
	m.timer = nil
}
