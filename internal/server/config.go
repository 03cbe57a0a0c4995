// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the Zentra relay.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// RateLimitConfig defines one cooldown limiter: at most Requests per Window
// for each key.
type RateLimitConfig struct {
	Requests int           `env:"REQUESTS"`
	Window   time.Duration `env:"WINDOW"`
}

// Config holds the server configuration settings.
type Config struct {
	Port           string   `env:"SERVER_PORT"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE"`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_RESPONSE_TIMEOUT"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE"`

	GlobalRateLimit RateLimitConfig `envPrefix:"GLOBAL_RATE_LIMIT_"`
	SendRateLimit   RateLimitConfig `envPrefix:"SEND_RATE_LIMIT_"`
	RedisURL        string          `env:"REDIS_URL"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable it only behind a proxy that overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS"`

	LogLevel        string        `env:"LOG_LEVEL"`
	LogFormat       string        `env:"LOG_FORMAT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:    512,
		MaxBodyBytes:      8 * 1024,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		SendBufferSize:    256,
		GlobalRateLimit: RateLimitConfig{
			Requests: 25,
			Window:   10 * time.Second,
		},
		SendRateLimit: RateLimitConfig{
			Requests: 10,
			Window:   5 * time.Second,
		},
		TrustProxyHeaders: false,
		LogLevel:          "info",
		LogFormat:         "console",
		ShutdownTimeout:   10 * time.Second,
	}
}

func sanitizeRateLimit(rl, fallback RateLimitConfig) RateLimitConfig {
	if rl.Requests <= 0 {
		rl.Requests = fallback.Requests
	}
	if rl.Window <= 0 {
		rl.Window = fallback.Window
	}
	return rl
}

// sanitizeConfig replaces every unset or non-positive value with its default.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}

	cfg.GlobalRateLimit = sanitizeRateLimit(cfg.GlobalRateLimit, def.GlobalRateLimit)
	cfg.SendRateLimit = sanitizeRateLimit(cfg.SendRateLimit, def.SendRateLimit)

	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, reading a
// .env file first when one exists. Unset variables keep their defaults.
func NewConfigFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}
