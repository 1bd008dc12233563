package observability

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basecamp/oauth1-cli/internal/signin"
	"github.com/basecamp/oauth1-cli/internal/transport"
)

func TestSessionCollector_RecordRequest(t *testing.T) {
	c := NewSessionCollector()

	c.RecordRequest(RequestMetrics{
		Method:     "POST",
		URL:        "https://photos.example.net/request_token",
		StatusCode: 200,
		Duration:   50 * time.Millisecond,
	})
	c.RecordRequest(RequestMetrics{
		Method:     "POST",
		URL:        "https://photos.example.net/access_token",
		StatusCode: 401,
		Duration:   10 * time.Millisecond,
	})

	summary := c.Summary()
	if summary.TotalRequests != 2 {
		t.Errorf("expected 2 total requests, got %d", summary.TotalRequests)
	}
	if summary.FailedRequests != 1 {
		t.Errorf("expected 1 failed request, got %d", summary.FailedRequests)
	}
	if summary.TotalLatency != 60*time.Millisecond {
		t.Errorf("expected 60ms latency, got %v", summary.TotalLatency)
	}
}

func TestSessionCollector_RecordRequestFromTransport(t *testing.T) {
	c := NewSessionCollector()

	info := transport.RequestInfo{Method: "POST", URL: "https://photos.example.net/request_token"}
	c.RecordRequestFromTransport(info, transport.RequestResult{Error: errors.New("connection refused")})

	summary := c.Summary()
	if summary.TotalRequests != 1 || summary.FailedRequests != 1 {
		t.Errorf("expected 1 failed request, got %+v", summary)
	}
}

func TestSessionCollector_PhasesAndNetwork(t *testing.T) {
	c := NewSessionCollector()

	c.RecordPhaseChange(signin.Idle, signin.RequestingToken)
	c.RecordPhaseChange(signin.RequestingToken, signin.AwaitingUserAuthorization)
	c.RecordNetworkLost()
	c.RecordPhaseChange(signin.AwaitingUserAuthorization, signin.Canceled)

	summary := c.Summary()
	if summary.PhaseChanges != 3 {
		t.Errorf("expected 3 transitions, got %d", summary.PhaseChanges)
	}
	if summary.NetworkLost != 1 {
		t.Errorf("expected 1 network-lost event, got %d", summary.NetworkLost)
	}
	if summary.FinalPhase != "canceled" {
		t.Errorf("expected final phase canceled, got %q", summary.FinalPhase)
	}
}

func TestSessionCollector_Reset(t *testing.T) {
	c := NewSessionCollector()
	c.RecordRequest(RequestMetrics{StatusCode: 500})
	c.RecordNetworkLost()
	c.RecordPhaseChange(signin.Idle, signin.RequestingToken)

	c.Reset()

	summary := c.Summary()
	if summary.TotalRequests != 0 || summary.FailedRequests != 0 || summary.NetworkLost != 0 || summary.PhaseChanges != 0 {
		t.Errorf("expected zeroed counters after reset, got %+v", summary)
	}
	if summary.FinalPhase != "" {
		t.Errorf("expected empty final phase, got %q", summary.FinalPhase)
	}
}

func TestSessionCollector_Concurrent(t *testing.T) {
	c := NewSessionCollector()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.RecordRequest(RequestMetrics{StatusCode: 200, Duration: time.Millisecond})
		}()
		go func() {
			defer wg.Done()
			c.RecordNetworkLost()
		}()
	}
	wg.Wait()

	summary := c.Summary()
	if summary.TotalRequests != 50 {
		t.Errorf("expected 50 requests, got %d", summary.TotalRequests)
	}
	if summary.NetworkLost != 50 {
		t.Errorf("expected 50 network-lost events, got %d", summary.NetworkLost)
	}
}

func TestSessionMetrics_MapRoundTrip(t *testing.T) {
	start := time.Now()
	m := SessionMetrics{
		StartTime:      start,
		EndTime:        start.Add(1500 * time.Millisecond),
		TotalRequests:  2,
		FailedRequests: 1,
		TotalLatency:   120 * time.Millisecond,
		PhaseChanges:   4,
		NetworkLost:    1,
		FinalPhase:     "succeeded",
	}

	// Stats travel through the JSON envelope, so numbers come back as float64.
	raw, err := json.Marshal(m.ToMap())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := SessionMetricsFromMap(decoded)
	if got.TotalRequests != 2 || got.FailedRequests != 1 || got.NetworkLost != 1 || got.PhaseChanges != 4 {
		t.Errorf("counters lost in round trip: %+v", got)
	}
	if got.TotalLatency != 120*time.Millisecond {
		t.Errorf("latency = %v", got.TotalLatency)
	}
	if got.EndTime.Sub(got.StartTime) != 1500*time.Millisecond {
		t.Errorf("duration = %v", got.EndTime.Sub(got.StartTime))
	}
	if got.FinalPhase != "succeeded" {
		t.Errorf("phase = %q", got.FinalPhase)
	}
}

func TestSessionMetrics_FormatParts(t *testing.T) {
	start := time.Now()
	m := SessionMetrics{
		StartTime:      start,
		EndTime:        start.Add(2 * time.Second),
		TotalRequests:  2,
		FailedRequests: 1,
		NetworkLost:    2,
		FinalPhase:     "failed",
	}

	got := strings.Join(m.FormatParts(), " | ")
	want := "2.0s | 2 requests (1 failed) | network lost 2x | failed"
	if got != want {
		t.Errorf("FormatParts() = %q, want %q", got, want)
	}

	single := SessionMetrics{TotalRequests: 1}
	if parts := single.FormatParts(); len(parts) != 1 || parts[0] != "1 request" {
		t.Errorf("FormatParts() = %v", parts)
	}

	if parts := (SessionMetrics{}).FormatParts(); len(parts) != 0 {
		t.Errorf("empty metrics should have no parts, got %v", parts)
	}
}
