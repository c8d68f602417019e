package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.DatabasePath != "analytics.db" {
		t.Errorf("DatabasePath = %q, want analytics.db", cfg.DatabasePath)
	}
	if cfg.AdminAPITimeout != 10*time.Second {
		t.Errorf("AdminAPITimeout = %v, want 10s", cfg.AdminAPITimeout)
	}
	if cfg.ActivationTimeout != 15*time.Second {
		t.Errorf("ActivationTimeout = %v, want 15s", cfg.ActivationTimeout)
	}
	if cfg.LockTTL != 30*time.Second {
		t.Errorf("LockTTL = %v, want 30s", cfg.LockTTL)
	}
	if cfg.PixelSessionCapacity != 1024 {
		t.Errorf("PixelSessionCapacity = %d, want 1024", cfg.PixelSessionCapacity)
	}
	if cfg.TemporalEnabled() {
		t.Error("Temporal should be disabled by default")
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("AllowedOrigins = %v, want [*]", got)
	}
	if len(cfg.Patterns()) != 0 {
		t.Errorf("Patterns = %v, want none", cfg.Patterns())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ADMIN_API_TIMEOUT", "3s")
	t.Setenv("ACTIVATION_ALREADY_EXISTS_PATTERNS", "taken, ^duplicate pixel$ ,")
	t.Setenv("TEMPORAL_HOSTPORT", "localhost:7233")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.AdminAPITimeout != 3*time.Second {
		t.Errorf("AdminAPITimeout = %v, want 3s", cfg.AdminAPITimeout)
	}
	patterns := cfg.Patterns()
	if len(patterns) != 2 || patterns[0] != "taken" || patterns[1] != "^duplicate pixel$" {
		t.Errorf("Patterns = %q", patterns)
	}
	if !cfg.TemporalEnabled() {
		t.Error("Temporal should be enabled when TEMPORAL_HOSTPORT is set")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "DATABASE_PATH=/tmp/pixel.db\nREDIS_ADDR=localhost:6379\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabasePath != "/tmp/pixel.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"admin url without placeholder", "ADMIN_API_URL", "https://example.com/graphql"},
		{"non-positive activation timeout", "ACTIVATION_TIMEOUT", "0s"},
		{"non-positive session capacity", "PIXEL_SESSION_CAPACITY", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadFile(""); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
