package reachability

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/basecamp/oauth1-cli/internal/transport"
)

// Prober periodically checks that the provider still answers. It stands in
// for page-load activity on surfaces that cannot observe the user's browser.
type Prober struct {
	clock    clockwork.Clock
	tr       transport.Transport
	target   string
	interval time.Duration
}

// NewProber returns a prober sending HEAD requests for target through tr
// every interval. A nil clock uses the real clock.
func NewProber(clock clockwork.Clock, tr transport.Transport, target string, interval time.Duration) *Prober {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Prober{clock: clock, tr: tr, target: target, interval: interval}
}

// ProbeInterval returns the probe spacing for a network-loss timeout: three
// probes per window, so one slow answer does not trip the monitor.
func ProbeInterval(timeout time.Duration) time.Duration {
	return timeout / 3
}

// Check reports whether the target answered. Any HTTP status counts; only a
// transport failure means the provider is unreachable.
func (p *Prober) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	resp, _ := p.tr.Send(ctx, &transport.Request{Method: http.MethodHead, URL: p.target})
	return resp != nil
}

// Run probes until ctx is done, calling onReachable after each successful
// check. A non-positive interval returns immediately.
func (p *Prober) Run(ctx context.Context, onReachable func()) {
	if p.interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
		}
		if p.Check(ctx) {
			onReachable()
		}
	}
}
