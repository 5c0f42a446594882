package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STALLSCOPE_LOG_LEVEL", "debug")
	t.Setenv("STALLSCOPE_LOG_FORMAT", "json")
	t.Setenv("STALLSCOPE_POLL_INTERVAL", "250ms")
	t.Setenv("STALLSCOPE_REGISTRY_WATCH", "false")
	t.Setenv("STALLSCOPE_HISTORY_RETENTION", "48h")
	t.Setenv("STALLSCOPE_ADMIN_ADDR", "127.0.0.1:9999")

	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Watchdog.PollInterval != 250*time.Millisecond {
		t.Errorf("Watchdog.PollInterval = %s, want 250ms", cfg.Watchdog.PollInterval)
	}
	if cfg.Registry.Watch {
		t.Error("Registry.Watch = true, want false")
	}
	if cfg.History.Retention != 48*time.Hour {
		t.Errorf("History.Retention = %s, want 48h", cfg.History.Retention)
	}
	if cfg.Admin.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("Admin.ListenAddr = %q, want %q", cfg.Admin.ListenAddr, "127.0.0.1:9999")
	}
}

func TestLoadFromEnv_UnsetLeavesDefaults(t *testing.T) {
	cfg := Default()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Watchdog.PollInterval != 1*time.Second {
		t.Errorf("Watchdog.PollInterval = %s, want default 1s", cfg.Watchdog.PollInterval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want default info", cfg.Log.Level)
	}
}

func TestLoadFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("STALLSCOPE_PROBE_TIMEOUT", "not-a-duration")

	cfg := Default()
	if err := LoadFromEnv(cfg); err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
}

func TestLoadFromEnv_InvalidBool(t *testing.T) {
	t.Setenv("STALLSCOPE_REGISTRY_WATCH", "maybe")

	cfg := Default()
	if err := LoadFromEnv(cfg); err == nil {
		t.Fatal("expected error for invalid boolean, got nil")
	}
}
