// Package config provides the configuration structure for the render-gateway.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// GatewayConfig holds the configuration for the inbound HTTP surface.
type GatewayConfig struct {
	ListenAddr string `toml:"listen_addr"`
	GinMode    string `toml:"gin_mode"`
}

// RenderConfig holds the configuration for the upstream rendering API.
type RenderConfig struct {
	APIBase             string `toml:"api_base"`
	AccountID           string `toml:"account_id"`
	APIToken            string `toml:"api_token"`
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds"`
	MaxBodyBytes        int64  `toml:"max_body_bytes"`
}

// SpeechConfig holds the configuration for the upstream synthesis API.
type SpeechConfig struct {
	Endpoint       string `toml:"endpoint"`
	APIToken       string `toml:"api_token"`
	DefaultVoice   string `toml:"default_voice"`
	DefaultFormat  string `toml:"default_format"`
	MaxChars       int    `toml:"max_chars"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// CacheConfig holds the configuration for the response cache.
type CacheConfig struct {
	RedisURL   string `toml:"redis_url"`
	TTLSeconds int    `toml:"ttl_seconds"`
	CacheHTML  *bool  `toml:"cache_html"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	SpeechJobSubject       string `toml:"speech_job_subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Render  RenderConfig  `toml:"render"`
	Speech  SpeechConfig  `toml:"speech"`
	Cache   CacheConfig   `toml:"cache"`
	NATS    NATSConfig    `toml:"nats"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the render-gateway.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
