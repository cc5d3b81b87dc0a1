package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadBaseline(t *testing.T) {
	cfg := LoadBaseline()

	if cfg.DrainInterval != 100*time.Millisecond {
		t.Errorf("DrainInterval = %v, want 100ms", cfg.DrainInterval)
	}
	if cfg.NoDataTimeout != 30*time.Second {
		t.Errorf("NoDataTimeout = %v, want 30s", cfg.NoDataTimeout)
	}
	if cfg.ChamberTimeout != 10*time.Second {
		t.Errorf("ChamberTimeout = %v, want 10s", cfg.ChamberTimeout)
	}
	if cfg.DefaultSupplyVoltage != 15.0 {
		t.Errorf("DefaultSupplyVoltage = %v, want 15", cfg.DefaultSupplyVoltage)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("baseline does not validate: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("baseline should not require auth")
	}
	if !cfg.AuditEnabled() {
		t.Error("baseline audit should be enabled (stdout)")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PUMPMON_DRAIN_INTERVAL", "250ms")
	t.Setenv("PUMPMON_BUFFER_CAPACITY", "64")
	t.Setenv("PUMPMON_DEFAULT_SYSTEM_ID", "bench")
	t.Setenv("PUMPMON_LOG_LEVEL", "DEBUG")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() with env overrides failed: %v", err)
	}

	if cfg.DrainInterval != 250*time.Millisecond {
		t.Errorf("DrainInterval = %v, want 250ms", cfg.DrainInterval)
	}
	if cfg.BufferCapacity != 64 {
		t.Errorf("BufferCapacity = %d, want 64", cfg.BufferCapacity)
	}
	if cfg.DefaultSystemID != "bench" {
		t.Errorf("DefaultSystemID = %q, want bench", cfg.DefaultSystemID)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadMalformedEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PUMPMON_STALE_INTERVAL", "soon")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	data := []byte(`
listenAddr: ":9090"
staleInterval: 500ms
staleThreshold: 3s
maxConnections: 10
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s) failed: %v", path, err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.StaleInterval != 500*time.Millisecond {
		t.Errorf("StaleInterval = %v, want 500ms", cfg.StaleInterval)
	}
	if cfg.StaleThreshold != 3*time.Second {
		t.Errorf("StaleThreshold = %v, want 3s", cfg.StaleThreshold)
	}
	if cfg.MaxConnections != 10 {
		t.Errorf("MaxConnections = %d, want 10", cfg.MaxConnections)
	}
	// Untouched keys keep the baseline.
	if cfg.BufferCapacity != 1024 {
		t.Errorf("BufferCapacity = %d, want 1024", cfg.BufferCapacity)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pumpmon.yaml")
	if err := os.WriteFile(path, []byte("listenAddr: \":9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PUMPMON_LISTEN_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want :7070", cfg.ListenAddr)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("heartbeatInterval: 15s\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"nonpositive_drain_interval", func(c *Config) { c.DrainInterval = 0 }},
		{"threshold_below_interval", func(c *Config) { c.StaleThreshold = c.StaleInterval / 2 }},
		{"no_data_below_chamber", func(c *Config) { c.NoDataTimeout = c.ChamberTimeout - time.Second }},
		{"zero_buffer_capacity", func(c *Config) { c.BufferCapacity = 0 }},
		{"zero_queue", func(c *Config) { c.ClientQueueSize = 0 }},
		{"zero_max_connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero_memory_ceiling", func(c *Config) { c.MaxMemoryBytes = 0 }},
		{"empty_default_system", func(c *Config) { c.DefaultSystemID = "" }},
		{"negative_voltage", func(c *Config) { c.DefaultSupplyVoltage = -1 }},
		{"bad_log_level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad_log_format", func(c *Config) { c.LogFormat = "xml" }},
		{"empty_listen_addr", func(c *Config) { c.ListenAddr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadBaseline()
			tt.modify(cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("Validate() expected error for %s", tt.name)
			}
		})
	}

	if err := Validate(nil); err == nil {
		t.Error("Validate(nil) expected error")
	}
}
