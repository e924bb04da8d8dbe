package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// HandlerFailure describes one isolated handler error or panic during a dispatch.
type HandlerFailure struct {
	Event   push.EventName
	Index   int
	Handler Handler
	Err     error
	Panic   bool
}

func (f *HandlerFailure) Error() string {
	return fmt.Sprintf("%s handler #%d failed: %v", f.Event, f.Index, f.Err)
}

func (f *HandlerFailure) Unwrap() error { return f.Err }

// Kind is "panic" or "error".
func (f *HandlerFailure) Kind() string {
	if f.Panic {
		return "panic"
	}
	return "error"
}

// FailureSink is the observability hook for isolated handler failures.
// Implementations must not panic and should return quickly.
type FailureSink interface {
	HandlerFailed(ctx context.Context, failure *HandlerFailure)
}

// DispatchObserver is optionally implemented by sinks that also want to see every dispatch.
type DispatchObserver interface {
	Dispatched(ctx context.Context, name push.EventName, delivered, failed int)
}

// LogSink writes failures to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) HandlerFailed(ctx context.Context, failure *HandlerFailure) {
	s.logger.ErrorContext(ctx, "Event handler failed",
		"event", failure.Event,
		"index", failure.Index,
		"kind", failure.Kind(),
		"err", failure.Err,
	)
}

// MultiSink fans a failure out to several sinks in order.
type MultiSink []FailureSink

func (m MultiSink) HandlerFailed(ctx context.Context, failure *HandlerFailure) {
	for _, s := range m {
		s.HandlerFailed(ctx, failure)
	}
}

func (m MultiSink) Dispatched(ctx context.Context, name push.EventName, delivered, failed int) {
	for _, s := range m {
		if obs, ok := s.(DispatchObserver); ok {
			obs.Dispatched(ctx, name, delivered, failed)
		}
	}
}
