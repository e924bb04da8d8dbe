//go:build integration

package pushbridge_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-push-bridge/internal/hosted"
	fsStore "github.com/tinywideclouds/go-push-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/events"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
	"github.com/tinywideclouds/go-push-bridge/pushbridge"
	"github.com/tinywideclouds/go-push-bridge/pushbridge/config"
)

// --- Helpers ---

// eventLog records hub deliveries across goroutines.
type eventLog struct {
	mu       sync.Mutex
	payloads []push.Payload
}

func (l *eventLog) Handle(_ context.Context, p push.Payload) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payloads = append(l.payloads, p)
	return nil
}

func (l *eventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.payloads)
}

func (l *eventLog) Last() push.Payload {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payloads[len(l.payloads)-1]
}

func noopAuth(h http.Handler) http.Handler { return h }

// newBridge registers a hosted player backed by store and returns it with a log of
// every hub event.
func newBridge(t *testing.T, ctx context.Context, store dispatch.DeviceStore, logger *slog.Logger) (*hosted.Bridge, *eventLog) {
	t.Helper()
	log := &eventLog{}
	hub := events.NewHub(logger)
	for _, name := range push.EventNames {
		require.NoError(t, hub.Subscribe(name, log))
	}
	bridge := hosted.New(store, hub, hosted.Dispatchers{}, hosted.Device{
		PlayerID:  "integ-player-" + uuid.NewString(),
		Platform:  dispatch.PlatformFCM,
		PushToken: "first-token",
	}, logger)
	require.NoError(t, bridge.Init(ctx, "integ-app", push.DefaultSettings()))
	return bridge, log
}

func startService(t *testing.T, ctx context.Context, psClient *pubsub.Client, subID string, bridge *hosted.Bridge, logger *slog.Logger) {
	t.Helper()
	consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
	consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
	require.NoError(t, err)

	svc, err := pushbridge.New(
		&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
		consumer,
		bridge,
		noopAuth,
		nil,
		logger,
	)
	require.NoError(t, err)

	svcCtx, svcCancel := context.WithCancel(ctx)
	go func() { _ = svc.Start(svcCtx) }()
	t.Cleanup(func() {
		svcCancel()
		_ = svc.Shutdown(context.Background())
	})
}

// --- Tests ---

func TestPushBridgeService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	store := fsStore.NewDeviceStore(fsClient)

	t.Run("Received event reaches listeners and is tracked", func(t *testing.T) {
		topicID := "push-events-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		bridge, log := newBridge(t, ctx, store, logger)
		startService(t, ctx, psClient, subID, bridge, logger)

		payload := []byte(`{"event":"received","payload":{"payload":{"notificationID":"n-42","title":"Hi","additionalData":{"chat":"c-1"}}}}`)
		_, err := psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return log.Len() == 2 }, 10*time.Second, 100*time.Millisecond)

		received, ok := log.Last().(push.ReceivedNotification)
		require.True(t, ok)
		assert.True(t, received.Shown)
		assert.Equal(t, push.DisplayInAppAlert, received.DisplayType)
		assert.Equal(t, "c-1", received.Payload.AdditionalData.GetFields()["chat"].GetStringValue())

		d, err := store.Get(ctx, bridge.PlayerID())
		require.NoError(t, err)
		assert.Equal(t, []string{"n-42"}, d.ActiveNotifications)
	})

	t.Run("Ids event updates the stored token", func(t *testing.T) {
		topicID := "push-ids-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		bridge, log := newBridge(t, ctx, store, logger)
		startService(t, ctx, psClient, subID, bridge, logger)

		_, err := psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: []byte(`{"event":"ids","payload":{"pushToken":"rotated-token"}}`)}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return log.Len() == 2 }, 10*time.Second, 100*time.Millisecond)
		assert.Equal(t, push.IDs{UserID: bridge.PlayerID(), PushToken: "rotated-token"}, log.Last())

		d, err := store.Get(ctx, bridge.PlayerID())
		require.NoError(t, err)
		assert.Equal(t, "rotated-token", d.PushToken)
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
