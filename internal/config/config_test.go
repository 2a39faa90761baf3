package config

import (
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// API policy (valid overrides)
	t.Setenv("SHOP_API_BASE_URL", "https://shop.example.com/api/") // trailing slash -> trimmed
	t.Setenv("SHOP_API_TIMEOUT", "10s")
	t.Setenv("SHOP_API_RETRY_MAX", "5")
	t.Setenv("SHOP_API_RETRY_BASE", "250ms")
	t.Setenv("SHOP_API_RETRY_GROWTH", "2.0")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("SHOP_API_RATE_RPS", "x")      // -> default 20.0
	t.Setenv("SHOP_API_RATE_BURST", "nope") // -> default 40

	// Caching
	t.Setenv("SHOP_CACHE_TTL", "90s")
	t.Setenv("SHOP_COUPON_TTL", "2m")

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")

	// Persistence
	t.Setenv("SHOP_STORAGE_PATH", "state.db")

	// OTEL
	t.Setenv("OTEL_ENABLED", "on")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if cfg.API.BaseURL != "https://shop.example.com/api" {
		t.Fatalf("BaseURL = %q; want trailing slash trimmed", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Fatalf("Timeout = %v; want 10s", cfg.API.Timeout)
	}
	if cfg.API.RetryMax != 5 || cfg.API.RetryBase != 250*time.Millisecond || cfg.API.RetryGrowth != 2.0 {
		t.Fatalf("retry policy = %+v", cfg.API)
	}
	if cfg.API.RateRPS != 20.0 {
		t.Fatalf("RateRPS = %v; want default 20.0 on parse failure", cfg.API.RateRPS)
	}
	if cfg.API.RateBurst != 40 {
		t.Fatalf("RateBurst = %d; want default 40 on parse failure", cfg.API.RateBurst)
	}
	if cfg.Cache.DefaultTTL != 90*time.Second {
		t.Fatalf("Cache.DefaultTTL = %v; want 90s", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.SweepInterval != 60*time.Second {
		t.Fatalf("Cache.SweepInterval = %v; want default 60s", cfg.Cache.SweepInterval)
	}
	if cfg.CouponTTL != 2*time.Minute {
		t.Fatalf("CouponTTL = %v; want 2m", cfg.CouponTTL)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q; want normalized to warn", cfg.LogLevel)
	}
	if !cfg.LogPretty {
		t.Fatalf("LogPretty should parse 'yes' as true")
	}
	if cfg.StoragePath != "state.db" {
		t.Fatalf("StoragePath = %q", cfg.StoragePath)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Insecure || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.SampleRatio != 0.5 {
		t.Fatalf("OTEL = %+v", cfg.OTEL)
	}
}

// --- validation failures ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"empty base url", "SHOP_API_BASE_URL", "   "},
		{"non-positive timeout", "SHOP_API_TIMEOUT", "-1s"},
		{"retry max below one", "SHOP_API_RETRY_MAX", "0"},
		{"non-positive retry base", "SHOP_API_RETRY_BASE", "0s"},
		{"retry growth below one", "SHOP_API_RETRY_GROWTH", "0.5"},
		{"negative rate rps", "SHOP_API_RATE_RPS", "-1"},
		{"rate burst below one", "SHOP_API_RATE_BURST", "0"},
		{"non-positive cache ttl", "SHOP_CACHE_TTL", "0s"},
		{"non-positive sweep", "SHOP_CACHE_SWEEP", "-5s"},
		{"non-positive coupon ttl", "SHOP_COUPON_TTL", "0s"},
		{"storage path blank", "SHOP_STORAGE_PATH", "  "},
		{"sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error for %s=%q", tc.key, tc.val)
			}
		})
	}
}
