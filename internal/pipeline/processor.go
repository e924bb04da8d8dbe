package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// Deliverer applies an inbound event to the native layer and dispatches it.
type Deliverer interface {
	Deliver(ctx context.Context, env push.Envelope) error
}

// NewProcessor hands each decoded envelope to deliverer. A delivery error is
// returned so the message is nacked and retried.
func NewProcessor(deliverer Deliverer, logger *slog.Logger) messagepipeline.StreamProcessor[push.Envelope] {
	return func(ctx context.Context, original messagepipeline.Message, env *push.Envelope) error {
		procLogger := logger.With(
			"event", env.Event,
			"pubsub_msg_id", original.ID,
		)

		if err := deliverer.Deliver(ctx, *env); err != nil {
			procLogger.Error("Failed to deliver event", "err", err)
			return err
		}
		procLogger.Debug("Event delivered")
		return nil
	}
}
