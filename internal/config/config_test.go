package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AnshRaj112/workbridge/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OTP_TTL", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OTPTTL != 10*time.Minute {
		t.Errorf("OTPTTL = %v, want 10m", cfg.OTPTTL)
	}
	if cfg.IsProduction() {
		t.Errorf("expected development by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("WORK_TIMEZONE", "Asia/Kolkata")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OTPTTL != 5*time.Minute {
		t.Errorf("OTPTTL = %v, want 5m", cfg.OTPTTL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Kolkata" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workbridge.yaml")
	data := []byte("env: Production\notp_ttl: 2m\nsocket_event_burst: 5\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.IsProduction() {
		t.Errorf("expected production from overlay")
	}
	if cfg.OTPTTL != 2*time.Minute {
		t.Errorf("OTPTTL = %v, want 2m", cfg.OTPTTL)
	}
	if cfg.SocketEventBurst != 5 {
		t.Errorf("SocketEventBurst = %d, want 5", cfg.SocketEventBurst)
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("WORK_TIMEZONE", "Mars/Olympus")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unknown time zone")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
