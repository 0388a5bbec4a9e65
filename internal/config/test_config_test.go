package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "APP_ENV", "DATABASE_URL", "METAUI_TOKEN", "METAUI_GATEWAY_URL", "METAUI_CLIENT_ID",
		"METAUI_BACKOFF_BASE_MS", "METAUI_BACKOFF_MAX_MS", "METAUI_BACKOFF_MULTIPLIER",
		"METAUI_PENDING_CAPACITY", "METAUI_MAX_SURFACES", "METAUI_ROOT_FALLBACK",
		"METAUI_EVENT_CAPACITY", "METAUI_EVENT_RATE", "METAUI_EVENT_BURST",
		"METAUI_LOG_LEVEL", "METAUI_LOG_FILE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadGatewayDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadGateway(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != ":8081" || cfg.Env != "local" {
		t.Fatalf("unexpected port/env: %q %q", cfg.Port, cfg.Env)
	}
	if cfg.EventCapacity != 512 || cfg.EventRate != 20 || cfg.EventBurst != 40 {
		t.Fatalf("unexpected event limits: %+v", cfg)
	}
	if cfg.Log.Level != "info" || cfg.Log.File != "" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadGatewayPortOverride(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadGateway([]string{"-port", ":9000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != ":9000" {
		t.Fatalf("flag port = %q", cfg.Port)
	}

	t.Setenv("PORT", "7000")
	t.Setenv("DATABASE_URL", "postgres://x")
	cfg, err = LoadGateway([]string{"-port", ":9000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != ":7000" {
		t.Fatalf("PORT should win over the flag, got %q", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://x" {
		t.Fatalf("database url = %q", cfg.DatabaseURL)
	}
}

func TestLoadGatewayRejectsBadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("METAUI_EVENT_CAPACITY", "lots")
	if _, err := LoadGateway(nil); err == nil {
		t.Fatalf("expected error for a non-numeric capacity")
	}
}

func TestLoadRuntime(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadRuntime(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GatewayURL != "ws://localhost:8081/ws" {
		t.Fatalf("local default url = %q", cfg.GatewayURL)
	}
	if cfg.BackoffBase != 500*time.Millisecond || cfg.BackoffMax != 30*time.Second || cfg.BackoffMultiplier != 2 {
		t.Fatalf("unexpected backoff: %+v", cfg)
	}
	if cfg.PendingCapacity != 128 || cfg.MaxSurfaces != 24 || !cfg.RootFallback {
		t.Fatalf("unexpected limits: %+v", cfg)
	}

	t.Setenv("METAUI_ROOT_FALLBACK", "false")
	t.Setenv("METAUI_BACKOFF_BASE_MS", "250")
	t.Setenv("METAUI_CLIENT_ID", "env-client")
	cfg, err = LoadRuntime([]string{"-client-id", "flag-client", "-gateway", "ws://gw/ws"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RootFallback || cfg.BackoffBase != 250*time.Millisecond {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.ClientID != "flag-client" || cfg.GatewayURL != "ws://gw/ws" {
		t.Fatalf("flags should win: %+v", cfg)
	}
}

func TestLoadRuntimeRequiresURLOutsideLocal(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	if _, err := LoadRuntime(nil); err == nil {
		t.Fatalf("expected error without a gateway url")
	}
}
