// Package events implements the Event Hub: an in-process registry connecting
// native-layer push events to application handlers.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

var (
	// ErrHandlerNotComparable is returned when a handler cannot be identified by equality.
	ErrHandlerNotComparable = errors.New("handler type is not comparable")
	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler is nil")
	// ErrPayloadMismatch is returned when a payload is dispatched under another event's name.
	ErrPayloadMismatch = errors.New("payload does not belong to event")
)

// Hub maps each event name to an ordered set of handlers.
//
// Subscribe and Unsubscribe may be called from any goroutine, including from inside a
// handler. Dispatch delivers to a snapshot of the handlers registered when it starts.
type Hub struct {
	mu       sync.RWMutex
	handlers map[push.EventName][]Handler

	sink   FailureSink
	logger *slog.Logger
}

type Option func(*Hub)

// WithFailureSink replaces the default log sink.
func WithFailureSink(sink FailureSink) Option {
	return func(h *Hub) {
		if sink != nil {
			h.sink = sink
		}
	}
}

// NewHub creates an empty hub. Handler failures go to a LogSink on logger unless
// WithFailureSink is given.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		handlers: make(map[push.EventName][]Handler, len(push.EventNames)),
		logger:   logger.With("component", "EventHub"),
	}
	h.sink = NewLogSink(h.logger)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe appends handler to name's list. Subscribing the same handler twice is a no-op.
func (h *Hub) Subscribe(name push.EventName, handler Handler) error {
	if !name.Valid() {
		return &push.InvalidEventNameError{Name: string(name)}
	}
	if handler == nil {
		return ErrNilHandler
	}
	if !isComparable(handler) {
		return fmt.Errorf("%w: %T", ErrHandlerNotComparable, handler)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, existing := range h.handlers[name] {
		if existing == handler {
			return nil
		}
	}
	h.handlers[name] = append(h.handlers[name], handler)
	h.logger.Debug("Handler subscribed", "event", name, "count", len(h.handlers[name]))
	return nil
}

// Unsubscribe removes handler from name's list, or every handler for name when
// handler is nil. Removing a handler that was never registered is not an error.
func (h *Hub) Unsubscribe(name push.EventName, handler Handler) error {
	if !name.Valid() {
		return &push.InvalidEventNameError{Name: string(name)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if handler == nil {
		delete(h.handlers, name)
		h.logger.Debug("All handlers unsubscribed", "event", name)
		return nil
	}
	if !isComparable(handler) {
		// Could never have been registered.
		return nil
	}

	current := h.handlers[name]
	for i, existing := range current {
		if existing != handler {
			continue
		}
		// Build a fresh slice: in-flight dispatches may still be iterating the old one.
		next := make([]Handler, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(h.handlers, name)
		} else {
			h.handlers[name] = next
		}
		h.logger.Debug("Handler unsubscribed", "event", name, "count", len(next))
		return nil
	}
	return nil
}

// Len reports how many handlers are registered for name.
func (h *Hub) Len(name push.EventName) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[name])
}

// Dispatch delivers payload to every handler registered for name, in registration
// order, on the calling goroutine. Each handler receives its own copy of payload.
// Handler errors and panics are reported to the
// failure sink and never returned; the returned error only signals a bad call.
func (h *Hub) Dispatch(ctx context.Context, name push.EventName, payload push.Payload) error {
	if !name.Valid() {
		return &push.InvalidEventNameError{Name: string(name)}
	}
	if payload == nil {
		return fmt.Errorf("%w: nil payload for %s", ErrPayloadMismatch, name)
	}
	if payload.Event() != name {
		return fmt.Errorf("%w: %s payload dispatched as %s", ErrPayloadMismatch, payload.Event(), name)
	}

	h.mu.RLock()
	snapshot := h.handlers[name]
	h.mu.RUnlock()

	failures := 0
	for i, handler := range snapshot {
		if failure := h.invoke(ctx, name, i, handler, push.ClonePayload(payload)); failure != nil {
			failures++
			h.sink.HandlerFailed(ctx, failure)
		}
	}

	if obs, ok := h.sink.(DispatchObserver); ok {
		obs.Dispatched(ctx, name, len(snapshot), failures)
	}
	return nil
}

// isComparable reports whether handler can be compared with ==. A comparable type
// is not enough: a struct with an interface field holding a func panics on ==.
func isComparable(handler Handler) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return handler == handler
}

func (h *Hub) invoke(ctx context.Context, name push.EventName, index int, handler Handler, payload push.Payload) (failure *HandlerFailure) {
	defer func() {
		if r := recover(); r != nil {
			failure = &HandlerFailure{
				Event:   name,
				Index:   index,
				Handler: handler,
				Err:     fmt.Errorf("handler panicked: %v", r),
				Panic:   true,
			}
		}
	}()

	if err := handler.Handle(ctx, payload); err != nil {
		return &HandlerFailure{Event: name, Index: index, Handler: handler, Err: err}
	}
	return nil
}
