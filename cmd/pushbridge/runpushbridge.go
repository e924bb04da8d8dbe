package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-bridge/internal/hosted"
	"github.com/tinywideclouds/go-push-bridge/internal/platform/apns"
	"github.com/tinywideclouds/go-push-bridge/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-bridge/internal/platform/web"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/memory"
	"github.com/tinywideclouds/go-push-bridge/pkg/client"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/events"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"

	"github.com/tinywideclouds/go-push-bridge/pushbridge"
	"github.com/tinywideclouds/go-push-bridge/pushbridge/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// SetLogLevel on the bridge adjusts this at runtime.
	levelVar := new(slog.LevelVar)
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		levelVar.Set(slog.LevelDebug)
	case "warn", "WARN":
		levelVar.Set(slog.LevelWarn)
	case "error", "ERROR":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelVar,
	})).With("service", "go-push-bridge")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	// --- Device Store (Decorated) ---
	var store dispatch.DeviceStore
	switch cfg.StoreBackend {
	case config.StoreMemory:
		store = memory.NewDeviceStore()
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		store = fsStore.NewDeviceStore(fsClient)
	}
	logger.Info("DeviceStore initialized", "type", cfg.StoreBackend)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedDeviceStore(store, redisClient, 24*time.Hour)
		logger.Info("DeviceStore upgraded", "type", "redis_cached_"+cfg.StoreBackend)
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)

	// --- Dispatchers ---
	dispatchers, err := newDispatchers(ctx, cfg, logger)
	if err != nil {
		logger.Error("Dispatcher setup failed", "err", err)
		os.Exit(1)
	}

	// --- Event Hub, Bridge & Client ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hub := events.NewHub(logger, events.WithFailureSink(events.MultiSink{
		events.NewLogSink(logger),
		events.NewMetricsSink(registry),
	}))

	bridge := hosted.New(store, hub, dispatchers, hosted.Device{
		PlayerID:  cfg.Device.PlayerID,
		Platform:  cfg.Device.Platform,
		PushToken: cfg.Device.PushToken,
	}, logger, hosted.WithLevelVar(levelVar))

	pushClient := client.New(bridge, hub, logger, client.WithErrorHandler(func(op string, err error) {
		logger.Error("Push call failed", "op", op, "err", err)
	}))
	if err := registerListeners(pushClient, logger); err != nil {
		logger.Error("Listener registration failed", "err", err)
		os.Exit(1)
	}

	if cfg.Device.RequiresConsent {
		pushClient.SetRequiresUserPrivacyConsent(true)
	}
	settings := push.DefaultSettings()
	settings.AutoPrompt = cfg.Device.AutoPrompt
	pushClient.Init(cfg.Device.AppID, &settings)

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer setup failed", "err", err)
		os.Exit(1)
	}

	service, err := pushbridge.New(cfg, consumer, bridge, authMiddleware, registry, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...")
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Service shutdown failed", "err", err)
	}
	if err := pushClient.Close(shutdownCtx); err != nil {
		logger.Error("Push client shutdown failed", "err", err)
	}
}

func newDispatchers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (hosted.Dispatchers, error) {
	var d hosted.Dispatchers

	// A. Android (FCM)
	if cfg.FCMEnabled {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return d, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return d, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		d.FCM = fcm.NewDispatcher(fcmMessaging, logger)
	}

	// B. iOS (APNs)
	if cfg.APNS.Enabled {
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8Key,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			return d, fmt.Errorf("failed to create APNs dispatcher: %w", err)
		}
		d.APNS = apnsDispatcher
	}

	// C. Web (VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push disabled.")
	} else {
		logger.Info("Web Dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
		d.Web = web.NewDispatcher(cfg.Vapid, logger)
	}
	return d, nil
}

func registerListeners(c *client.Client, logger *slog.Logger) error {
	listeners := map[push.EventName]events.Handler{
		push.EventReceived: events.OnReceived(func(_ context.Context, n push.ReceivedNotification) error {
			logger.Info("Notification received", "notification_id", n.Payload.NotificationID, "shown", n.Shown)
			return nil
		}),
		push.EventOpened: events.OnOpened(func(_ context.Context, r push.OpenResult) error {
			logger.Info("Notification opened", "notification_id", r.Notification.Payload.NotificationID, "action_id", r.Action.ActionID)
			return nil
		}),
		push.EventIDs: events.OnIDs(func(_ context.Context, ids push.IDs) error {
			logger.Info("Player ids assigned", "player_id", ids.UserID, "has_token", ids.PushToken != "")
			return nil
		}),
	}
	for name, h := range listeners {
		if err := c.AddEventListener(name, h); err != nil {
			return err
		}
	}
	return nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
