package reachability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/oauth1-cli/internal/transport"
)

func TestProberCheckCountsAnyStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer server.Close()

	p := NewProber(nil, transport.NewHTTP(nil), server.URL+"/authorize", time.Second)
	assert.True(t, p.Check(context.Background()), "a 405 still proves the provider answers")
}

func TestProberCheckFailsWhenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	target := server.URL + "/authorize"
	server.Close()

	p := NewProber(nil, transport.NewHTTP(nil), target, time.Second)
	assert.False(t, p.Check(context.Background()))
}

func TestProberRunReportsEachAnswer(t *testing.T) {
	var heads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		heads.Add(1)
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	p := NewProber(clock, transport.NewHTTP(nil), server.URL, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reached := make(chan struct{}, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, func() { reached <- struct{}{} })
	}()

	for i := range 3 {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
		select {
		case <-reached:
		case <-time.After(5 * time.Second):
			t.Fatalf("probe %d was not reported", i+1)
		}
	}
	assert.Equal(t, int32(3), heads.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestProberRunWithoutIntervalReturns(t *testing.T) {
	p := NewProber(clockwork.NewFakeClock(), transport.NewHTTP(nil), "http://127.0.0.1:1/", 0)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), func() { t.Error("no probe expected") })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately with a zero interval")
	}
}

func TestProbeInterval(t *testing.T) {
	require.Equal(t, 10*time.Second, ProbeInterval(30*time.Second))
	assert.Equal(t, time.Duration(0), ProbeInterval(0))
}
