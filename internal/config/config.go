// Package config defines all configuration for the account monitor.
// Runtime settings come from FW_* environment variables (viper with defaults);
// the per-asset position rule-set is a separate JSON file loaded by rules.go.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration assembled from the environment.
type Config struct {
	API      APIConfig
	Webhooks WebhookConfig
	Monitor  MonitorConfig
	Logging  LoggingConfig
}

// APIConfig holds exchange credentials and endpoints.
type APIConfig struct {
	Key         string
	Secret      string
	RESTBaseURL string
	WSBaseURL   string
	// ApexBaseURL serves the token-info endpoint (market cap, 24h volume).
	ApexBaseURL string
}

// WebhookConfig holds the three chat-webhook sink URLs.
type WebhookConfig struct {
	LifecycleURL string // order life-cycle cards (NEW / CANCELED / EXPIRED)
	FillURL      string // fill cards (FILLED)
	AlertURL     string // position-validation digest cards
	MaxRetry     int    // POST retries after the first attempt before a card is dropped
}

// MonitorConfig tunes the aggregation and validation engines.
//
//   - AggregationWindow: partial-fill coalescing deadline (window W).
//   - DedupTTL: replay-suppression horizon for wire messages and finalized contexts.
//   - ListenKeyKeepAlive: how often the listen key is refreshed.
//   - ValidationInterval: position rule-battery tick period.
//   - RulesPath: path of the position-rules JSON file.
type MonitorConfig struct {
	AggregationWindow  time.Duration
	DedupTTL           time.Duration
	ListenKeyKeepAlive time.Duration
	ValidationInterval time.Duration
	RulesPath          string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load assembles configuration from FW_* environment variables with defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("rest_base_url", "https://fapi.binance.com")
	v.SetDefault("ws_base_url", "wss://fstream.binance.com")
	v.SetDefault("apex_base_url", "https://www.binance.com")
	v.SetDefault("aggregation_window_ms", 10_000)
	v.SetDefault("dedup_ttl_ms", 60_000)
	v.SetDefault("listen_key_keepalive_ms", 1_500_000)
	v.SetDefault("position_validation_interval_ms", 30_000)
	v.SetDefault("position_rules_config", "config/position-rules.json")
	v.SetDefault("max_retry", 3)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	cfg := &Config{
		API: APIConfig{
			Key:         v.GetString("api_key"),
			Secret:      v.GetString("api_secret"),
			RESTBaseURL: v.GetString("rest_base_url"),
			WSBaseURL:   v.GetString("ws_base_url"),
			ApexBaseURL: v.GetString("apex_base_url"),
		},
		Webhooks: WebhookConfig{
			LifecycleURL: v.GetString("webhook_lifecycle"),
			FillURL:      v.GetString("webhook_fill"),
			AlertURL:     v.GetString("webhook_alert"),
			MaxRetry:     v.GetInt("max_retry"),
		},
		Monitor: MonitorConfig{
			AggregationWindow:  time.Duration(v.GetInt64("aggregation_window_ms")) * time.Millisecond,
			DedupTTL:           time.Duration(v.GetInt64("dedup_ttl_ms")) * time.Millisecond,
			ListenKeyKeepAlive: time.Duration(v.GetInt64("listen_key_keepalive_ms")) * time.Millisecond,
			ValidationInterval: time.Duration(v.GetInt64("position_validation_interval_ms")) * time.Millisecond,
			RulesPath:          v.GetString("position_rules_config"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.Key == "" {
		return fmt.Errorf("api key is required (set FW_API_KEY)")
	}
	if c.API.Secret == "" {
		return fmt.Errorf("api secret is required (set FW_API_SECRET)")
	}
	if c.Webhooks.LifecycleURL == "" {
		return fmt.Errorf("lifecycle webhook is required (set FW_WEBHOOK_LIFECYCLE)")
	}
	if c.Webhooks.FillURL == "" {
		return fmt.Errorf("fill webhook is required (set FW_WEBHOOK_FILL)")
	}
	if c.Webhooks.AlertURL == "" {
		return fmt.Errorf("alert webhook is required (set FW_WEBHOOK_ALERT)")
	}
	if c.Webhooks.MaxRetry < 0 {
		return fmt.Errorf("max_retry must be >= 0")
	}
	if c.Monitor.AggregationWindow <= 0 {
		return fmt.Errorf("aggregation_window_ms must be > 0")
	}
	if c.Monitor.DedupTTL <= 0 {
		return fmt.Errorf("dedup_ttl_ms must be > 0")
	}
	if c.Monitor.ListenKeyKeepAlive <= 0 {
		return fmt.Errorf("listen_key_keepalive_ms must be > 0")
	}
	if c.Monitor.ValidationInterval <= 0 {
		return fmt.Errorf("position_validation_interval_ms must be > 0")
	}
	return nil
}
