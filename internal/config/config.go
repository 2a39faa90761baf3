// Package config provides client configuration loaded from environment
// variables with defaults and validation. It centralizes settings such as the
// API base URL, request timeout/retry policy, cache TTLs, local storage path,
// logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIConfig defines the outbound HTTP policy applied by the API client.
type APIConfig struct {
	BaseURL     string        // SHOP_API_BASE_URL (e.g. "https://shop.example.com/api")
	Timeout     time.Duration // per-request timeout
	RetryMax    int           // total attempts, including the first
	RetryBase   time.Duration // initial backoff delay
	RetryGrowth float64       // backoff multiplier between attempts
	RateRPS     float64       // outbound tokens per second (>= 0)
	RateBurst   int           // outbound bucket size (>= 1)
}

// CacheConfig defines TTL and sweep behavior for the response cache.
type CacheConfig struct {
	DefaultTTL    time.Duration // entry lifetime when the caller does not override
	SweepInterval time.Duration // how often expired entries are collected
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-shop-client")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the client.
type Config struct {
	API APIConfig

	// Caching
	Cache     CacheConfig
	CouponTTL time.Duration // lifetime of a cached (code, subtotal) validation

	// Local persistence
	StoragePath string // SQLite path for the client state store

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		API: APIConfig{
			BaseURL:     strings.TrimRight(getenv("SHOP_API_BASE_URL", "http://localhost:8080/api"), "/"),
			Timeout:     getdur("SHOP_API_TIMEOUT", 30*time.Second),
			RetryMax:    getint("SHOP_API_RETRY_MAX", 3),
			RetryBase:   getdur("SHOP_API_RETRY_BASE", time.Second),
			RetryGrowth: getfloat("SHOP_API_RETRY_GROWTH", 1.5),
			RateRPS:     getfloat("SHOP_API_RATE_RPS", 20.0),
			RateBurst:   getint("SHOP_API_RATE_BURST", 40),
		},

		Cache: CacheConfig{
			DefaultTTL:    getdur("SHOP_CACHE_TTL", 5*time.Minute),
			SweepInterval: getdur("SHOP_CACHE_SWEEP", 60*time.Second),
		},
		CouponTTL: getdur("SHOP_COUPON_TTL", 5*time.Minute),

		StoragePath: getenv("SHOP_STORAGE_PATH", "shop-client.db"),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-shop-client"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.API.BaseURL) == "" {
		return cfg, errors.New("SHOP_API_BASE_URL must not be empty")
	}
	if cfg.API.Timeout <= 0 {
		return cfg, errors.New("SHOP_API_TIMEOUT must be a positive duration")
	}
	if cfg.API.RetryMax < 1 {
		return cfg, errors.New("SHOP_API_RETRY_MAX must be >= 1")
	}
	if cfg.API.RetryBase <= 0 {
		return cfg, errors.New("SHOP_API_RETRY_BASE must be > 0")
	}
	if cfg.API.RetryGrowth < 1 {
		return cfg, errors.New("SHOP_API_RETRY_GROWTH must be >= 1")
	}
	if cfg.API.RateRPS < 0 {
		return cfg, errors.New("SHOP_API_RATE_RPS must be >= 0")
	}
	if cfg.API.RateBurst < 1 {
		return cfg, errors.New("SHOP_API_RATE_BURST must be >= 1")
	}
	if cfg.Cache.DefaultTTL <= 0 || cfg.Cache.SweepInterval <= 0 {
		return cfg, errors.New("cache TTL and sweep interval must be positive durations")
	}
	if cfg.CouponTTL <= 0 {
		return cfg, errors.New("SHOP_COUPON_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.StoragePath) == "" {
		return cfg, errors.New("SHOP_STORAGE_PATH must not be empty")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
