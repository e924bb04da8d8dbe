package config_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pushbridge/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			SubscriptionID:     "base-sub",
			NumPipelineWorkers: 2,
			Vapid: config.VapidConfig{
				PublicKey:  "base-pub",
				PrivateKey: "base-priv",
			},
			Device: config.DeviceConfig{AppID: "base-app"},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("NUM_PIPELINE_WORKERS", "4")
		t.Setenv("STORE_BACKEND", "Memory")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("VAPID_PUBLIC_KEY", "env-pub")
		t.Setenv("VAPID_PRIVATE_KEY", "env-priv")
		t.Setenv("VAPID_SUB_EMAIL", "env@test.com")
		t.Setenv("APNS_KEY_ID", "kid")
		t.Setenv("APNS_TEAM_ID", "team")
		t.Setenv("APNS_BUNDLE_ID", "com.test.app")
		t.Setenv("APNS_P8_KEY", "pem")
		t.Setenv("PUSH_APP_ID", "env-app")
		t.Setenv("PUSH_PLAYER_ID", "player-1")
		t.Setenv("PUSH_PLATFORM", "APNS")
		t.Setenv("PUSH_TOKEN", "tok")
		t.Setenv("PUSH_REQUIRES_CONSENT", "true")
		t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.com, ,http://b.com ")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.Equal(t, "env-sub", finalCfg.PubsubConsumerConfig.SubscriptionID)
		assert.Equal(t, 4, finalCfg.NumPipelineWorkers)
		assert.Equal(t, config.StoreMemory, finalCfg.StoreBackend)
		assert.True(t, finalCfg.Redis.Enabled)

		assert.Equal(t, "env-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, "env-priv", finalCfg.Vapid.PrivateKey)
		assert.Equal(t, "env@test.com", finalCfg.Vapid.SubscriberEmail)

		assert.True(t, finalCfg.APNS.Enabled)
		assert.Equal(t, "com.test.app", finalCfg.APNS.BundleID)

		assert.Equal(t, "env-app", finalCfg.Device.AppID)
		assert.Equal(t, "player-1", finalCfg.Device.PlayerID)
		assert.Equal(t, dispatch.PlatformAPNS, finalCfg.Device.Platform)
		assert.Equal(t, "tok", finalCfg.Device.PushToken)
		assert.True(t, finalCfg.Device.RequiresConsent)

		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)
	})

	t.Run("Success - Defaults applied", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ListenAddr = ""
		cfg.NumPipelineWorkers = 0

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.Equal(t, "base-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, ":8080", finalCfg.ListenAddr)
		assert.Equal(t, 1, finalCfg.NumPipelineWorkers)
		assert.Equal(t, 60, finalCfg.Vapid.TTL)
		assert.Equal(t, config.StoreFirestore, finalCfg.StoreBackend)
		assert.Equal(t, dispatch.PlatformFCM, finalCfg.Device.Platform)
		require.NotNil(t, finalCfg.PubsubConsumerConfig)
		assert.Equal(t, "base-sub", finalCfg.PubsubConsumerConfig.SubscriptionID)
	})

	t.Run("Validation Failure - Missing ProjectID", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "")
		cfg := baseConfig()
		cfg.ProjectID = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "project_id")
	})

	t.Run("Validation Failure - Missing AppID", func(t *testing.T) {
		t.Setenv("PUSH_APP_ID", "")
		cfg := baseConfig()
		cfg.Device.AppID = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "app_id")
	})

	t.Run("Validation Failure - Unknown platform", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Device.Platform = "blackberry"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "platform")
	})

	t.Run("Validation Failure - Unknown store backend", func(t *testing.T) {
		cfg := baseConfig()
		cfg.StoreBackend = "postgres"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "store backend")
	})

	t.Run("Validation Failure - Partial APNs credentials", func(t *testing.T) {
		cfg := baseConfig()
		cfg.APNS = config.APNSConfig{Enabled: true, KeyID: "kid"}
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "apns")
	})
}
