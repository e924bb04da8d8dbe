package config

import (
	"log/slog"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TTL             int    `yaml:"ttl"`
}

type YamlAPNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlDeviceConfig struct {
	AppID           string `yaml:"app_id"`
	PlayerID        string `yaml:"player_id"`
	Platform        string `yaml:"platform"`
	PushToken       string `yaml:"push_token"`
	RequiresConsent bool   `yaml:"requires_consent"`
	AutoPrompt      bool   `yaml:"auto_prompt"`
}

// YamlConfig mirrors the raw config file. Secrets (the APNs key) are env-only.
type YamlConfig struct {
	ProjectID              string           `yaml:"project_id"`
	ListenAddr             string           `yaml:"listen_addr"`
	TopicID                string           `yaml:"topic_id"`
	SubscriptionID         string           `yaml:"subscription_id"`
	SubscriptionDLQTopicID string           `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int              `yaml:"num_pipeline_workers"`
	StoreBackend           string           `yaml:"store_backend"`
	FCMEnabled             bool             `yaml:"fcm_enabled"`
	CorsConfig             YamlCorsConfig   `yaml:"cors"`
	RedisConfig            YamlRedisConfig  `yaml:"redis"`
	VapidConfig            YamlVapidConfig  `yaml:"vapid"`
	APNSConfig             YamlAPNSConfig   `yaml:"apns"`
	DeviceConfig           YamlDeviceConfig `yaml:"device"`
}

// NewConfigFromYaml maps the raw YAML shape onto Config.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		StoreBackend:           strings.ToLower(baseCfg.StoreBackend),
		FCMEnabled:             baseCfg.FCMEnabled,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
			TTL:             baseCfg.VapidConfig.TTL,
		},
		APNS: APNSConfig{
			Enabled:  baseCfg.APNSConfig.Enabled,
			KeyID:    baseCfg.APNSConfig.KeyID,
			TeamID:   baseCfg.APNSConfig.TeamID,
			BundleID: baseCfg.APNSConfig.BundleID,
			Sandbox:  baseCfg.APNSConfig.Sandbox,
		},
		Device: DeviceConfig{
			AppID:           baseCfg.DeviceConfig.AppID,
			PlayerID:        baseCfg.DeviceConfig.PlayerID,
			Platform:        dispatch.Platform(strings.ToLower(baseCfg.DeviceConfig.Platform)),
			PushToken:       baseCfg.DeviceConfig.PushToken,
			RequiresConsent: baseCfg.DeviceConfig.RequiresConsent,
			AutoPrompt:      baseCfg.DeviceConfig.AutoPrompt,
		},
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"store_backend", cfg.StoreBackend,
	)

	return cfg, nil
}
