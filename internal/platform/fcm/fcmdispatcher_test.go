package fcm_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"github.com/tinywideclouds/go-push-bridge/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func successes(n int) *messaging.BatchResponse {
	br := &messaging.BatchResponse{SuccessCount: n}
	for i := 0; i < n; i++ {
		br.Responses = append(br.Responses, &messaging.SendResponse{Success: true, MessageID: fmt.Sprintf("msg-%d", i)})
	}
	return br
}

func TestFCMDispatch(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	badge := 3
	msg := dispatch.Message{
		NotificationContent: notification.NotificationContent{Title: "Hello", Body: "World"},
		NotificationID:      "n-1",
		Badge:               &badge,
		LaunchURL:           "https://example.com/open",
		Data:                map[string]string{"k": "v"},
	}

	t.Run("maps the message onto every platform block", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return m.Notification.Title == "Hello" &&
				m.Data["k"] == "v" &&
				m.Data["notification_id"] == "n-1" &&
				m.Data["launch_url"] == "https://example.com/open" &&
				m.Android.Notification.Sound == "default" &&
				*m.APNS.Payload.Aps.Badge == 3 &&
				m.Webpush.FCMOptions.Link == "https://example.com/open"
		})).Return(successes(2), nil)

		receipt, invalid, err := dispatcher.Dispatch(ctx, []string{"t-1", "t-2"}, msg)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Equal(t, "success:2 invalid:0", receipt)
		mockClient.AssertExpectations(t)
	})

	t.Run("no tokens is a no-op", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		receipt, invalid, err := dispatcher.Dispatch(ctx, nil, msg)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Contains(t, receipt, "skipped")
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})

	t.Run("splits large token sets into batches", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		tokens := make([]string, 501)
		for i := range tokens {
			tokens[i] = fmt.Sprintf("t-%d", i)
		}
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 500
		})).Return(successes(500), nil).Once()
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 1 && m.Tokens[0] == "t-500"
		})).Return(successes(1), nil).Once()

		receipt, _, err := dispatcher.Dispatch(ctx, tokens, msg)

		require.NoError(t, err)
		assert.Equal(t, "success:501 invalid:0", receipt)
		mockClient.AssertExpectations(t)
	})

	t.Run("transport failure is retryable", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, _, err := dispatcher.Dispatch(ctx, []string{"t-1"}, msg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})

	t.Run("unclassified per-token failures are retryable", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true},
				{Success: false, Error: errors.New("quota exceeded")},
			},
		}, nil)

		_, _, err := dispatcher.Dispatch(ctx, []string{"t-1", "t-2"}, msg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 retryable")
	})
}
