// Package observability provides metrics collection and tracing for sign-in
// sessions and token requests.
package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/basecamp/oauth1-cli/internal/signin"
	"github.com/basecamp/oauth1-cli/internal/transport"
)

// RequestMetrics holds timing and status information for a single HTTP request.
type RequestMetrics struct {
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	Error      error
}

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime      time.Time
	EndTime        time.Time
	TotalRequests  int
	FailedRequests int
	TotalLatency   time.Duration
	PhaseChanges   int
	NetworkLost    int
	FinalPhase     string
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu sync.Mutex

	startTime      time.Time
	totalRequests  int
	failedRequests int
	totalLatency   time.Duration
	phaseChanges   int
	networkLost    int
	finalPhase     string
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordRequest records metrics for an HTTP request.
func (c *SessionCollector) RecordRequest(m RequestMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += m.Duration
	if m.Error != nil || m.StatusCode >= 400 {
		c.failedRequests++
	}
}

// RecordRequestFromTransport records metrics from transport hook types.
func (c *SessionCollector) RecordRequestFromTransport(info transport.RequestInfo, result transport.RequestResult) {
	c.RecordRequest(RequestMetrics{
		Method:     info.Method,
		URL:        info.URL,
		StatusCode: result.StatusCode,
		Duration:   result.Duration,
		Error:      result.Error,
	})
}

// RecordPhaseChange records a sign-in phase transition.
func (c *SessionCollector) RecordPhaseChange(_, to signin.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phaseChanges++
	c.finalPhase = to.String()
}

// RecordNetworkLost records a network-lost notification.
func (c *SessionCollector) RecordNetworkLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkLost++
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:      c.startTime,
		EndTime:        time.Now(),
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		TotalLatency:   c.totalLatency,
		PhaseChanges:   c.phaseChanges,
		NetworkLost:    c.networkLost,
		FinalPhase:     c.finalPhase,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.failedRequests = 0
	c.totalLatency = 0
	c.phaseChanges = 0
	c.networkLost = 0
	c.finalPhase = ""
}

// ToMap renders the metrics for the response meta "stats" field.
func (m SessionMetrics) ToMap() map[string]any {
	out := map[string]any{
		"requests":     m.TotalRequests,
		"failed":       m.FailedRequests,
		"latency_ms":   m.TotalLatency.Milliseconds(),
		"duration_ms":  m.EndTime.Sub(m.StartTime).Milliseconds(),
		"transitions":  m.PhaseChanges,
		"network_lost": m.NetworkLost,
	}
	if m.FinalPhase != "" {
		out["phase"] = m.FinalPhase
	}
	return out
}

// SessionMetricsFromMap reverses ToMap. Numbers may arrive as float64 after
// a JSON round-trip.
func SessionMetricsFromMap(stats map[string]any) SessionMetrics {
	num := func(key string) int64 {
		switch v := stats[key].(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		default:
			return 0
		}
	}

	m := SessionMetrics{
		TotalRequests:  int(num("requests")),
		FailedRequests: int(num("failed")),
		TotalLatency:   time.Duration(num("latency_ms")) * time.Millisecond,
		PhaseChanges:   int(num("transitions")),
		NetworkLost:    int(num("network_lost")),
	}
	m.EndTime = m.StartTime.Add(time.Duration(num("duration_ms")) * time.Millisecond)
	m.FinalPhase, _ = stats["phase"].(string)
	return m
}

// FormatParts returns compact human-readable stats fragments.
func (m SessionMetrics) FormatParts() []string {
	var parts []string
	if d := m.EndTime.Sub(m.StartTime); d > 0 {
		parts = append(parts, fmt.Sprintf("%.1fs", d.Seconds()))
	}
	if m.TotalRequests > 0 {
		s := fmt.Sprintf("%d requests", m.TotalRequests)
		if m.TotalRequests == 1 {
			s = "1 request"
		}
		if m.FailedRequests > 0 {
			s += fmt.Sprintf(" (%d failed)", m.FailedRequests)
		}
		parts = append(parts, s)
	}
	if m.NetworkLost > 0 {
		parts = append(parts, fmt.Sprintf("network lost %dx", m.NetworkLost))
	}
	if m.FinalPhase != "" {
		parts = append(parts, m.FinalPhase)
	}
	return parts
}
