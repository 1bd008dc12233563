package reachability

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain counts the values currently buffered on the monitor channel,
// re-arming after each like the session loop does.
func drain(m *Monitor) int {
	n := 0
	for {
		select {
		case <-m.C():
			n++
			m.Fired()
			if n > 100 {
				return n
			}
		default:
			return n
		}
	}
}

func TestActivityResetsTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(clock, 30*time.Second)
	m.Start()
	require.True(t, m.Running())

	for range 6 {
		clock.Advance(20 * time.Second)
		assert.Equal(t, 0, drain(m), "activity every 20s must keep the 30s timer quiet")
		m.Activity()
	}
}

func TestFiresOnceAfterSilence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(clock, 30*time.Second)
	m.Start()

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, drain(m))

	// Re-armed at fire time; next fire is one full interval later.
	clock.Advance(28 * time.Second)
	assert.Equal(t, 0, drain(m))
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, drain(m))
}

func TestNoFiringAfterStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(clock, 30*time.Second)
	m.Start()

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, drain(m))

	m.Stop()
	assert.False(t, m.Running())
	assert.Nil(t, m.C())

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 0, drain(m))

	// Activity on a stopped monitor does not re-arm it.
	m.Activity()
	assert.False(t, m.Running())
}

func TestStopDiscardsPendingExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(clock, 10*time.Second)
	m.Start()
	ch := m.C()

	clock.Advance(11 * time.Second)
	m.Stop()

	select {
	case <-ch:
		t.Fatal("pending expiry should have been drained by Stop")
	default:
	}
}

func TestZeroIntervalDisables(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(clock, 0)
	m.Start()
	assert.False(t, m.Running())
	assert.Nil(t, m.C())

	clock.Advance(time.Hour)
	assert.Equal(t, 0, drain(m))
}

func TestNegativeIntervalDisables(t *testing.T) {
	m := New(nil, -time.Second)
	assert.Equal(t, time.Duration(0), m.Interval())
	m.Start()
	assert.False(t, m.Running())
}
