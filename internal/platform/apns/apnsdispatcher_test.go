package apns

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
)

type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func TestDispatch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	badge := 2
	msg := dispatch.Message{
		NotificationContent: notification.NotificationContent{Title: "Hello iOS"},
		NotificationID:      "n-1",
		Badge:               &badge,
		Data:                map[string]string{"msg_id": "123"},
	}

	t.Run("sends with topic and payload", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newDispatcher(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool {
			raw, err := json.Marshal(n.Payload)
			if err != nil {
				return false
			}
			var body map[string]any
			if err := json.Unmarshal(raw, &body); err != nil {
				return false
			}
			aps, _ := body["aps"].(map[string]any)
			return n.DeviceToken == "token-1" &&
				n.Topic == "com.test.app" &&
				n.CollapseID == "n-1" &&
				body["msg_id"] == "123" &&
				body["notification_id"] == "n-1" &&
				aps["badge"] == float64(2)
		})).Return(&apns2.Response{StatusCode: http.StatusOK}, nil)

		receipt, invalid, err := dispatcher.Dispatch(ctx, []string{"token-1"}, msg)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Contains(t, receipt, "success:1")
		mockClient.AssertExpectations(t)
	})

	t.Run("dead tokens are returned for cleanup", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newDispatcher(mockClient, "com.test.app", logger)

		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "bad-token"
		})).Return(&apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonBadDeviceToken}, nil)
		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "gone-token"
		})).Return(&apns2.Response{StatusCode: http.StatusGone, Reason: apns2.ReasonUnregistered}, nil)
		mockClient.On("PushWithContext", mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "topic-token"
		})).Return(&apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonTopicDisallowed}, nil)

		receipt, invalid, err := dispatcher.Dispatch(ctx, []string{"bad-token", "gone-token", "topic-token"}, msg)

		require.NoError(t, err)
		assert.Equal(t, []string{"bad-token", "gone-token"}, invalid)
		assert.Contains(t, receipt, "total_fail:3")
	})

	t.Run("transport failure is counted, not returned", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newDispatcher(mockClient, "com.test.app", logger)
		mockClient.On("PushWithContext", mock.Anything).Return(nil, errors.New("connection refused"))

		receipt, invalid, err := dispatcher.Dispatch(ctx, []string{"token-1"}, msg)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Contains(t, receipt, "total_fail:1")
	})

	t.Run("cancelled context stops the fan-out", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newDispatcher(mockClient, "com.test.app", logger)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, _, err := dispatcher.Dispatch(cctx, []string{"token-1"}, msg)

		assert.ErrorIs(t, err, context.Canceled)
		mockClient.AssertNotCalled(t, "PushWithContext", mock.Anything)
	})

	t.Run("bad key fails construction", func(t *testing.T) {
		_, err := NewDispatcher(Config{P8KeyContent: "not a key"}, logger)
		assert.Error(t, err)
	})
}
