// Package pipeline turns the native-layer event stream into hub dispatches.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

// EnvelopeTransformer decodes a message payload into a push.Envelope.
//
// Malformed JSON, an unknown event name or a payload of the wrong shape cannot
// succeed on redelivery, so the message is skipped and left to the dead-letter policy.
func EnvelopeTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.Envelope, bool, error) {
	var env push.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, true, fmt.Errorf("failed to decode event envelope from message %s: %w", msg.ID, err)
	}
	return &env, false, nil
}
