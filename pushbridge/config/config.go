package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
)

const (
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTL             int
}

type APNSConfig struct {
	Enabled  bool
	KeyID    string
	TeamID   string
	BundleID string
	P8Key    string
	Sandbox  bool
}

// DeviceConfig describes the player this process registers as on Init.
type DeviceConfig struct {
	AppID           string
	PlayerID        string
	Platform        dispatch.Platform
	PushToken       string
	RequiresConsent bool
	AutoPrompt      bool
}

// Config is the resolved runtime configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	StoreBackend           string
	FCMEnabled             bool

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	APNS       APNSConfig
	Device     DeviceConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and validates the result.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}
	overrideBool := func(key string, dst *bool) {
		override(key, func(val string) {
			if b, err := strconv.ParseBool(val); err == nil {
				*dst = b
			}
		})
	}

	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("TOPIC_ID", func(v string) { cfg.TopicID = v })
	override("SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	override("NUM_PIPELINE_WORKERS", func(v string) {
		if workers, err := strconv.Atoi(v); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	})
	override("STORE_BACKEND", func(v string) { cfg.StoreBackend = strings.ToLower(v) })
	overrideBool("FCM_ENABLED", &cfg.FCMEnabled)

	// Redis
	override("REDIS_ADDR", func(v string) {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	})
	override("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	override("REDIS_DB", func(v string) {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	})
	overrideBool("REDIS_ENABLED", &cfg.Redis.Enabled)

	// VAPID
	override("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	override("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	override("VAPID_SUB_EMAIL", func(v string) { cfg.Vapid.SubscriberEmail = v })

	// APNs
	override("APNS_KEY_ID", func(v string) { cfg.APNS.KeyID = v })
	override("APNS_TEAM_ID", func(v string) { cfg.APNS.TeamID = v })
	override("APNS_BUNDLE_ID", func(v string) { cfg.APNS.BundleID = v })
	override("APNS_P8_KEY", func(v string) {
		cfg.APNS.P8Key = v
		cfg.APNS.Enabled = true
	})
	overrideBool("APNS_SANDBOX", &cfg.APNS.Sandbox)
	overrideBool("APNS_ENABLED", &cfg.APNS.Enabled)

	// Device
	override("PUSH_APP_ID", func(v string) { cfg.Device.AppID = v })
	override("PUSH_PLAYER_ID", func(v string) { cfg.Device.PlayerID = v })
	override("PUSH_PLATFORM", func(v string) { cfg.Device.Platform = dispatch.Platform(strings.ToLower(v)) })
	override("PUSH_TOKEN", func(v string) { cfg.Device.PushToken = v })
	overrideBool("PUSH_REQUIRES_CONSENT", &cfg.Device.RequiresConsent)

	override("CORS_ALLOWED_ORIGINS", func(v string) {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = origins
	})

	// Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.Device.AppID == "" {
		return nil, fmt.Errorf("device.app_id is required (set via YAML or PUSH_APP_ID env var)")
	}
	if cfg.Device.Platform == "" {
		cfg.Device.Platform = dispatch.PlatformFCM
	}
	if !cfg.Device.Platform.Valid() {
		return nil, fmt.Errorf("unknown device platform %q", cfg.Device.Platform)
	}
	switch cfg.StoreBackend {
	case "":
		cfg.StoreBackend = StoreFirestore
	case StoreMemory, StoreFirestore:
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %s or %s)", cfg.StoreBackend, StoreMemory, StoreFirestore)
	}
	if cfg.APNS.Enabled && (cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" || cfg.APNS.P8Key == "") {
		return nil, fmt.Errorf("apns is enabled but key_id, team_id, bundle_id and p8_key are not all set")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Vapid.TTL <= 0 {
		cfg.Vapid.TTL = 60
	}
	if cfg.PubsubConsumerConfig == nil {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
