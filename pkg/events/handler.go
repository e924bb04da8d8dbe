package events

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// Handler receives payloads for the events it is subscribed to.
//
// The hub identifies handlers by interface equality, so the dynamic value must be
// comparable. The adapters in this file return pointers and always are. The payload
// passed to Handle is a private copy; mutating it does not affect other handlers.
type Handler interface {
	Handle(ctx context.Context, payload push.Payload) error
}

// FuncHandler adapts a plain function. Each call to Func yields a distinct handler,
// so keep the returned value to unsubscribe it later.
type FuncHandler struct {
	fn func(ctx context.Context, payload push.Payload) error
}

func Func(fn func(ctx context.Context, payload push.Payload) error) *FuncHandler {
	return &FuncHandler{fn: fn}
}

func (h *FuncHandler) Handle(ctx context.Context, payload push.Payload) error {
	return h.fn(ctx, payload)
}

// TypedHandler narrows the payload to a concrete type before calling fn.
type TypedHandler[P push.Payload] struct {
	fn func(ctx context.Context, payload P) error
}

func (h *TypedHandler[P]) Handle(ctx context.Context, payload push.Payload) error {
	p, ok := payload.(P)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for %s handler", payload, payload.Event())
	}
	return h.fn(ctx, p)
}

func OnReceived(fn func(ctx context.Context, n push.ReceivedNotification) error) *TypedHandler[push.ReceivedNotification] {
	return &TypedHandler[push.ReceivedNotification]{fn: fn}
}

func OnOpened(fn func(ctx context.Context, r push.OpenResult) error) *TypedHandler[push.OpenResult] {
	return &TypedHandler[push.OpenResult]{fn: fn}
}

func OnIDs(fn func(ctx context.Context, ids push.IDs) error) *TypedHandler[push.IDs] {
	return &TypedHandler[push.IDs]{fn: fn}
}
