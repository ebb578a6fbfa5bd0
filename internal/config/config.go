// Package config loads process bootstrap configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all bootstrap configuration for the engine.
type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	Webhook       WebhookConfig
	AI            AIConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	Security      SecurityConfig
}

type ServerConfig struct {
	Addr         string
	MetricsAddr  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL             string
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// WebhookConfig carries the shared-secret/admin-token auth and the
// per-symbol rate limiting knobs named in spec.md §6.
type WebhookConfig struct {
	Secret              string
	AdminToken          string
	RateLimitWindowSec  int
	RateLimitMaxEvents  int
}

type AIConfig struct {
	Provider string // "dummy" | "openai"
	APIKey   string
	Model    string
	BaseURL  string
}

type ObservabilityConfig struct {
	ServiceName string
	LogLevel    string
	LogFormat   string // "json" | "text"
}

// RateLimitConfig guards the HTTP surface as a whole (process-level burst
// protection), distinct from the per-symbol domain rate limiter in
// internal/dedupe which is driven by WebhookConfig.RateLimit*.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type SecurityConfig struct {
	CORSAllowedOrigins []string
}

// Load reads configuration from the environment, applying the defaults
// named in SPEC_FULL.md §10.3.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("HTTP_ADDR", ":8080"),
			MetricsAddr:  getEnv("METRICS_ADDR", ":9090"),
			ReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("HTTP_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379"),
			PoolSize:        getIntEnv("REDIS_POOL_SIZE", 20),
			MinIdleConns:    getIntEnv("REDIS_MIN_IDLE_CONNS", 5),
			PoolTimeout:     getDurationEnv("REDIS_POOL_TIMEOUT", 4*time.Second),
			MaxRetries:      getIntEnv("REDIS_MAX_RETRIES", 3),
			MinRetryBackoff: getDurationEnv("REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
			MaxRetryBackoff: getDurationEnv("REDIS_MAX_RETRY_BACKOFF", 512*time.Millisecond),
		},
		Webhook: WebhookConfig{
			Secret:             getEnv("TV_WEBHOOK_SECRET", ""),
			AdminToken:         getEnv("ADMIN_TOKEN", ""),
			RateLimitWindowSec: getIntEnv("RATE_LIMIT_WINDOW_SEC", 60),
			RateLimitMaxEvents: getIntEnv("RATE_LIMIT_MAX_EVENTS", 30),
		},
		AI: AIConfig{
			Provider: getEnv("AI_PROVIDER", "dummy"),
			APIKey:   getEnv("AI_API_KEY", ""),
			Model:    getEnv("AI_MODEL", "gpt-4o-mini"),
			BaseURL:  getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
		},
		Observability: ObservabilityConfig{
			ServiceName: getEnv("APP_ENV", "tv-signal-engine"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   logFormat(getBoolEnv("LOG_JSON", true)),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getIntEnv("HTTP_RATE_LIMIT_PER_MINUTE", 600),
			Burst:             getIntEnv("HTTP_RATE_LIMIT_BURST", 50),
		},
		Security: SecurityConfig{
			CORSAllowedOrigins: getSliceEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func logFormat(json bool) string {
	if json {
		return "json"
	}
	return "text"
}

func (c *Config) validate() error {
	if c.Webhook.Secret == "" {
		return fmt.Errorf("TV_WEBHOOK_SECRET is required")
	}
	if c.Webhook.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required")
	}
	return nil
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
