package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/basecamp/oauth1-cli/internal/signin"
	"github.com/basecamp/oauth1-cli/internal/transport"
)

func driveSession(h *CLIHooks) {
	ctx := context.Background()
	h.OnPhaseChange(ctx, "s1", signin.Idle, signin.RequestingToken)

	info := transport.RequestInfo{Method: "POST", URL: "https://photos.example.net/request_token"}
	ctx = h.OnRequestStart(ctx, info)
	h.OnRequestEnd(ctx, info, transport.RequestResult{StatusCode: 200, Duration: 45 * time.Millisecond})

	h.OnPhaseChange(ctx, "s1", signin.RequestingToken, signin.AwaitingUserAuthorization)
	h.OnNetworkLost(ctx, "s1")
}

func TestCLIHooks_SetLevel(t *testing.T) {
	h := NewCLIHooks(0, nil, nil)

	assert.Equal(t, 0, h.Level())

	h.SetLevel(2)
	assert.Equal(t, 2, h.Level())
}

func TestCLIHooks_Level0_Silent(t *testing.T) {
	var buf bytes.Buffer
	collector := NewSessionCollector()
	h := NewCLIHooks(0, collector, NewTraceWriterTo(&buf))

	driveSession(h)

	// Level 0 should produce no output
	assert.Equal(t, 0, buf.Len(), "expected no output at level 0")

	// But metrics should still be collected
	summary := collector.Summary()
	assert.Equal(t, 1, summary.TotalRequests)
	assert.Equal(t, 2, summary.PhaseChanges)
	assert.Equal(t, 1, summary.NetworkLost)
	assert.Equal(t, "awaiting_user_authorization", summary.FinalPhase)
}

func TestCLIHooks_Level1_PhasesOnly(t *testing.T) {
	var buf bytes.Buffer
	h := NewCLIHooks(1, nil, NewTraceWriterTo(&buf))

	driveSession(h)

	output := buf.String()
	assert.Contains(t, output, "idle -> requesting_token")
	assert.Contains(t, output, "network unreachable")
	assert.NotContains(t, output, "-> POST", "requests are level 2")
	assert.NotContains(t, output, "<- 200")
}

func TestCLIHooks_Level2_PhasesAndRequests(t *testing.T) {
	var buf bytes.Buffer
	h := NewCLIHooks(2, nil, NewTraceWriterTo(&buf))

	driveSession(h)

	output := buf.String()
	assert.Contains(t, output, "idle -> requesting_token")
	assert.Contains(t, output, "-> POST https://photos.example.net/request_token")
	assert.Contains(t, output, "<- 200 (45ms)")
}

func TestCLIHooks_NilWriter(t *testing.T) {
	collector := NewSessionCollector()
	h := NewCLIHooks(2, collector, nil)

	assert.NotPanics(t, func() { driveSession(h) })
	assert.Equal(t, 1, collector.Summary().TotalRequests)
}

func TestCLIHooks_FailedRequestCounted(t *testing.T) {
	collector := NewSessionCollector()
	h := NewCLIHooks(0, collector, nil)

	info := transport.RequestInfo{Method: "POST", URL: "https://photos.example.net/access_token"}
	h.OnRequestEnd(context.Background(), info, transport.RequestResult{Error: errors.New("reset by peer")})

	assert.Equal(t, 1, collector.Summary().FailedRequests)
}

func TestCLIHooks_PreservesContext(t *testing.T) {
	type key struct{}
	h := NewCLIHooks(2, nil, nil)

	ctx := context.WithValue(context.Background(), key{}, "v")
	got := h.OnRequestStart(ctx, transport.RequestInfo{Method: "GET", URL: "https://x.example.com"})

	assert.Equal(t, "v", got.Value(key{}))
}
