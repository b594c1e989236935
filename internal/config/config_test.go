package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HAPIBRIDGE_ENDPOINT", "")
	t.Setenv("HAPIBRIDGE_LOG_LEVEL", "")
	t.Setenv("HAPIBRIDGE_PUSH_LEVEL", "")
	t.Setenv("HAPIBRIDGE_JWT_LIFETIME", "")

	cfg := LoadConfig()
	if cfg.Endpoint != "" {
		t.Fatalf("endpoint should stay empty when unset, got %s", cfg.Endpoint)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected LogLevel: %s", cfg.LogLevel)
	}
	if cfg.PushLevel != "" {
		t.Fatalf("push level should stay empty when unset, got %s", cfg.PushLevel)
	}
	if cfg.JWTLifetime != 900*time.Second {
		t.Fatalf("unexpected JWTLifetime: %s", cfg.JWTLifetime)
	}
	if cfg.RefreshBefore != 180*time.Second {
		t.Fatalf("unexpected RefreshBefore: %s", cfg.RefreshBefore)
	}
	if cfg.MaxBackoff != 60*time.Second {
		t.Fatalf("unexpected MaxBackoff: %s", cfg.MaxBackoff)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("HAPIBRIDGE_ENDPOINT", "https://hapi.example.com/")
	t.Setenv("HAPIBRIDGE_ACCESS_TOKEN", "tok")
	t.Setenv("HAPIBRIDGE_JWT_LIFETIME", "300")
	t.Setenv("HAPIBRIDGE_MAX_BACKOFF", "30")

	cfg := LoadConfig()
	if cfg.Endpoint != "https://hapi.example.com/" {
		t.Fatalf("unexpected Endpoint: %s", cfg.Endpoint)
	}
	if cfg.AccessToken != "tok" {
		t.Fatalf("unexpected AccessToken: %s", cfg.AccessToken)
	}
	if cfg.JWTLifetime != 300*time.Second {
		t.Fatalf("unexpected JWTLifetime: %s", cfg.JWTLifetime)
	}
	if cfg.MaxBackoff != 30*time.Second {
		t.Fatalf("unexpected MaxBackoff: %s", cfg.MaxBackoff)
	}
}

func TestLoadConfig_MalformedDurationFallsBack(t *testing.T) {
	t.Setenv("HAPIBRIDGE_JWT_LIFETIME", "12x")
	cfg := LoadConfig()
	if cfg.JWTLifetime != 900*time.Second {
		t.Fatalf("malformed lifetime should fall back, got %s", cfg.JWTLifetime)
	}
}

func TestGetConfig_UsesCacheWithinTTL(t *testing.T) {
	t.Setenv("HAPIBRIDGE_ENDPOINT", "http://first")
	LoadConfig()

	t.Setenv("HAPIBRIDGE_ENDPOINT", "http://second")
	base := time.Now()
	nowFunc = func() time.Time { return base }
	defer func() { nowFunc = time.Now }()

	if got := GetConfig().Endpoint; got != "http://first" {
		t.Fatalf("expected cached endpoint, got %s", got)
	}

	nowFunc = func() time.Time { return base.Add(cacheTTL + time.Second) }
	if got := GetConfig().Endpoint; got != "http://second" {
		t.Fatalf("expected refreshed endpoint, got %s", got)
	}
}
