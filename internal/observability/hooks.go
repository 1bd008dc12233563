package observability

import (
	"context"
	"sync"

	"github.com/basecamp/oauth1-cli/internal/signin"
	"github.com/basecamp/oauth1-cli/internal/transport"
)

// Verify CLIHooks implements both hook interfaces at compile time.
var (
	_ transport.Hooks = (*CLIHooks)(nil)
	_ signin.Hooks    = (*CLIHooks)(nil)
)

// CLIHooks observes sign-in sessions and their token requests.
// It supports configurable verbosity levels:
//   - 0: Silent (collect stats only, no output)
//   - 1: Phases only (log sign-in phase transitions)
//   - 2: Phases + requests (log both transitions and HTTP requests)
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
}

// NewCLIHooks creates a new CLIHooks with the given verbosity level.
// If collector is nil, metrics are not collected.
// If writer is nil, no trace output is produced.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{
		level:     level,
		collector: collector,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *CLIHooks) snapshot() (int, *SessionCollector, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer
}

// OnPhaseChange is called after a session moves to a new phase.
func (h *CLIHooks) OnPhaseChange(_ context.Context, _ string, from, to signin.Phase) {
	level, collector, writer := h.snapshot()

	if collector != nil {
		collector.RecordPhaseChange(from, to)
	}

	if level >= 1 && writer != nil {
		writer.WritePhaseChange(from, to)
	}
}

// OnNetworkLost is called when the provider has been unreachable for the
// session's network-loss timeout.
func (h *CLIHooks) OnNetworkLost(_ context.Context, _ string) {
	level, collector, writer := h.snapshot()

	if collector != nil {
		collector.RecordNetworkLost()
	}

	if level >= 1 && writer != nil {
		writer.WriteNetworkLost()
	}
}

// OnRequestStart is called before an HTTP request is sent.
func (h *CLIHooks) OnRequestStart(ctx context.Context, info transport.RequestInfo) context.Context {
	level, _, writer := h.snapshot()

	if level >= 2 && writer != nil {
		writer.WriteRequestStart(info)
	}

	return ctx
}

// OnRequestEnd is called after an HTTP request completes.
func (h *CLIHooks) OnRequestEnd(_ context.Context, info transport.RequestInfo, result transport.RequestResult) {
	level, collector, writer := h.snapshot()

	if collector != nil {
		collector.RecordRequestFromTransport(info, result)
	}

	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(info, result)
	}
}
