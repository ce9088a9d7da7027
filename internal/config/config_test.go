package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("WAVE_SIZE", "")
	t.Setenv("SERVICE_AREAS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected development mode by default")
	}
	if cfg.WaveSize != 3 {
		t.Fatalf("expected default wave size 3, got %d", cfg.WaveSize)
	}
	if cfg.WaveDelay != 120*time.Second {
		t.Fatalf("expected default wave delay 120s, got %s", cfg.WaveDelay)
	}
	if len(cfg.ServiceAreas) != 4 || cfg.ServiceAreas[3] != "Laredo" {
		t.Fatalf("unexpected default service areas: %v", cfg.ServiceAreas)
	}
	deposits := cfg.DepositAmounts()
	if deposits["home_lockout"] != 4900 || deposits["smart_lock"] != 9900 {
		t.Fatalf("unexpected default deposits: %v", deposits)
	}
	if cfg.PhotoURLTTL != 5*time.Minute {
		t.Fatalf("expected default photo url ttl, got %s", cfg.PhotoURLTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("SERVICE_AREAS", "Laredo, Eagle Pass ,")
	t.Setenv("WAVE_SIZE", "5")
	t.Setenv("WAVE_DELAY_SECONDS", "60")
	t.Setenv("DEPOSIT_REKEY_CENTS", "8400")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.IsDev() {
		t.Fatalf("expected production mode")
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if len(cfg.ServiceAreas) != 2 || cfg.ServiceAreas[1] != "Eagle Pass" {
		t.Fatalf("unexpected service areas: %v", cfg.ServiceAreas)
	}
	if cfg.WaveSize != 5 {
		t.Fatalf("expected wave size override, got %d", cfg.WaveSize)
	}
	if cfg.WaveDelay != 60*time.Second {
		t.Fatalf("expected wave delay override, got %s", cfg.WaveDelay)
	}
	if cfg.DepositAmounts()["rekey"] != 8400 {
		t.Fatalf("expected rekey deposit override, got %d", cfg.DepositAmounts()["rekey"])
	}
	if !cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue override")
	}
}

func TestWaveDelayDurationTakesPrecedence(t *testing.T) {
	t.Setenv("WAVE_DELAY", "3m")
	t.Setenv("WAVE_DELAY_SECONDS", "15")
	cfg := Load()
	if cfg.WaveDelay != 3*time.Minute {
		t.Fatalf("expected WAVE_DELAY to win, got %s", cfg.WaveDelay)
	}
}
