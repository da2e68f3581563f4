package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path" validate:"required"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error disabled off"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=console json"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required,min=8"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" validate:"gt=0"`

	// MaxMessageBytes caps a single inbound WebSocket frame.
	MaxMessageBytes    int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gt=0"`
	RateLimitPerMinute int   `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`
	// SessionBuffer is the outbound queue depth of one session.
	SessionBuffer int `mapstructure:"session_buffer" yaml:"session_buffer" validate:"gt=0"`

	StoreTimeout   time.Duration `mapstructure:"store_timeout" yaml:"store_timeout" validate:"gt=0"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size" yaml:"worker_pool_size" validate:"gt=0"`

	// RedisURL enables cross-instance fanout when set.
	RedisURL           string `mapstructure:"redis_url" yaml:"redis_url" validate:"omitempty,url"`
	RedisChannelPrefix string `mapstructure:"redis_channel_prefix" yaml:"redis_channel_prefix"`

	MetricsEnabled bool     `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	OriginPatterns []string `mapstructure:"origin_patterns" yaml:"origin_patterns"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		DatabasePath:       "proxichat.db",
		LogLevel:           "info",
		LogFormat:          "console",
		JWTSecret:          "change-me-in-production",
		JWTIssuer:          "proxichat",
		JWTAudience:        "proxichat",
		TokenTTL:           24 * time.Hour,
		MaxMessageBytes:    64 << 10,
		RateLimitPerMinute: 120,
		SessionBuffer:      32,
		StoreTimeout:       5 * time.Second,
		WorkerPoolSize:     16,
		RedisChannelPrefix: "proxichat:",
		MetricsEnabled:     true,
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
}
