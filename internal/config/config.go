package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the consultation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	BaseLanguage string

	RedisAddr     string
	RedisDB       int
	RedisPassword string
	DatabaseURL   string

	SessionTTL    time.Duration
	ContextTTL    time.Duration
	ContextWindow int

	RateCeiling int
	RateWindow  time.Duration

	ChunkThreshold int
	BufferHardCap  int
	MaxMessageSize int

	CacheConfidenceThreshold float64
	CacheMaxTextLength       int
	CacheDuration            time.Duration
	CacheSweepInterval       time.Duration

	ProviderTimeout      time.Duration
	MaxConcurrentStreams int64
	RetryAttempts        int
	RetryBaseDelay       time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "consult"),
		BaseLanguage:             envOrDefault("APP_BASE_LANGUAGE", "en"),
		RedisAddr:                trimmedEnv("REDIS_ADDR"),
		RedisPassword:            trimmedEnv("REDIS_PASSWORD"),
		DatabaseURL:              trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionTTL:               time.Hour,
		ContextTTL:               time.Hour,
		ContextWindow:            20,
		RateCeiling:              30,
		RateWindow:               60 * time.Second,
		ChunkThreshold:           32 * 1024,
		BufferHardCap:            1024 * 1024,
		MaxMessageSize:           1024 * 1024,
		CacheConfidenceThreshold: 0.8,
		CacheMaxTextLength:       1000,
		CacheDuration:            7 * 24 * time.Hour,
		CacheSweepInterval:       24 * time.Hour,
		ProviderTimeout:          30 * time.Second,
		MaxConcurrentStreams:     5,
		RetryAttempts:            3,
		RetryBaseDelay:           500 * time.Millisecond,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = intFromEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationFromEnv("APP_SESSION_TTL", cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.ContextTTL, err = durationFromEnv("APP_CONTEXT_TTL", cfg.ContextTTL); err != nil {
		return Config{}, err
	}
	if cfg.ContextWindow, err = intFromEnv("APP_CONTEXT_WINDOW", cfg.ContextWindow); err != nil {
		return Config{}, err
	}
	if cfg.RateCeiling, err = intFromEnv("APP_RATE_CEILING", cfg.RateCeiling); err != nil {
		return Config{}, err
	}
	if cfg.RateWindow, err = durationFromEnv("APP_RATE_WINDOW", cfg.RateWindow); err != nil {
		return Config{}, err
	}
	if cfg.ChunkThreshold, err = intFromEnv("APP_CHUNK_THRESHOLD", cfg.ChunkThreshold); err != nil {
		return Config{}, err
	}
	if cfg.BufferHardCap, err = intFromEnv("APP_BUFFER_HARD_CAP", cfg.BufferHardCap); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessageSize, err = intFromEnv("APP_MAX_MESSAGE_SIZE", cfg.MaxMessageSize); err != nil {
		return Config{}, err
	}
	if cfg.CacheConfidenceThreshold, err = floatFromEnv("APP_CACHE_CONFIDENCE_THRESHOLD", cfg.CacheConfidenceThreshold); err != nil {
		return Config{}, err
	}
	if cfg.CacheMaxTextLength, err = intFromEnv("APP_CACHE_MAX_TEXT_LENGTH", cfg.CacheMaxTextLength); err != nil {
		return Config{}, err
	}
	if cfg.CacheDuration, err = durationFromEnv("APP_CACHE_DURATION", cfg.CacheDuration); err != nil {
		return Config{}, err
	}
	if cfg.CacheSweepInterval, err = durationFromEnv("APP_CACHE_SWEEP_INTERVAL", cfg.CacheSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.ProviderTimeout, err = durationFromEnv("APP_PROVIDER_TIMEOUT", cfg.ProviderTimeout); err != nil {
		return Config{}, err
	}
	maxStreams, err := intFromEnv("APP_MAX_CONCURRENT_STREAMS", int(cfg.MaxConcurrentStreams))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentStreams = int64(maxStreams)
	if cfg.RetryAttempts, err = intFromEnv("APP_RETRY_ATTEMPTS", cfg.RetryAttempts); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = durationFromEnv("APP_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return Config{}, err
	}

	if cfg.BaseLanguage == "" {
		return Config{}, fmt.Errorf("APP_BASE_LANGUAGE must not be empty")
	}
	if cfg.ContextWindow <= 0 {
		return Config{}, fmt.Errorf("APP_CONTEXT_WINDOW must be positive")
	}
	if cfg.RateCeiling <= 0 {
		return Config{}, fmt.Errorf("APP_RATE_CEILING must be positive")
	}
	if cfg.ChunkThreshold <= 0 {
		return Config{}, fmt.Errorf("APP_CHUNK_THRESHOLD must be positive")
	}
	if cfg.BufferHardCap < cfg.ChunkThreshold {
		return Config{}, fmt.Errorf("APP_BUFFER_HARD_CAP must be >= APP_CHUNK_THRESHOLD")
	}
	if cfg.CacheConfidenceThreshold < 0 || cfg.CacheConfidenceThreshold > 1 {
		return Config{}, fmt.Errorf("APP_CACHE_CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	if cfg.CacheMaxTextLength <= 0 {
		return Config{}, fmt.Errorf("APP_CACHE_MAX_TEXT_LENGTH must be positive")
	}
	if cfg.MaxConcurrentStreams <= 0 {
		return Config{}, fmt.Errorf("APP_MAX_CONCURRENT_STREAMS must be positive")
	}
	if cfg.RetryAttempts <= 0 {
		return Config{}, fmt.Errorf("APP_RETRY_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
