package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) Deliver(ctx context.Context, env push.Envelope) error {
	return m.Called(ctx, env).Error(0)
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	env := &push.Envelope{Event: push.EventIDs, Payload: push.IDs{UserID: "p-1"}}
	original := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}

	t.Run("Forwards the envelope", func(t *testing.T) {
		deliverer := new(mockDeliverer)
		deliverer.On("Deliver", ctx, *env).Return(nil)

		processor := pipeline.NewProcessor(deliverer, newTestLogger())
		err := processor(ctx, original, env)

		require.NoError(t, err)
		deliverer.AssertExpectations(t)
	})

	t.Run("Delivery failure is returned for retry", func(t *testing.T) {
		deliverer := new(mockDeliverer)
		deliverer.On("Deliver", ctx, *env).Return(errors.New("store unavailable"))

		processor := pipeline.NewProcessor(deliverer, newTestLogger())
		err := processor(ctx, original, env)

		assert.ErrorContains(t, err, "store unavailable")
	})
}
