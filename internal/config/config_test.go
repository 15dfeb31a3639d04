package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEKIT_PG_DSN", "postgres://localhost/gatekit")
	t.Setenv("GATEKIT_TOKEN_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 336*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.RefreshTTL)
	}
	if cfg.CacheSize != 4096 || cfg.CacheTTL != 15*time.Minute {
		t.Fatalf("unexpected cache settings: %d %v", cfg.CacheSize, cfg.CacheTTL)
	}
	if cfg.InactivityTimeout != 30*time.Minute || cfg.SessionCap != 10 {
		t.Fatalf("unexpected session settings: %v %d", cfg.InactivityTimeout, cfg.SessionCap)
	}
	if cfg.AnomalyWindow != 24*time.Hour || cfg.AnomalyThreshold != 5 {
		t.Fatalf("unexpected anomaly settings: %v %d", cfg.AnomalyWindow, cfg.AnomalyThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEKIT_PG_DSN", "postgres://localhost/gatekit")
	t.Setenv("GATEKIT_TOKEN_SECRET", "test-secret")
	t.Setenv("GATEKIT_LISTEN_ADDR", ":9090")
	t.Setenv("GATEKIT_ACCESS_TTL", "5m")
	t.Setenv("GATEKIT_SESSION_CAP", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.AccessTTL != 5*time.Minute || cfg.SessionCap != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("GATEKIT_PG_DSN", "")
	t.Setenv("GATEKIT_TOKEN_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when required settings are missing")
	}
}
