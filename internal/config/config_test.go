package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/murmurchat/murmur/internal/log"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(log.Nop(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.Backend != BackendMatrix {
		t.Fatalf("expected default backend, got %q", cfg.Backend)
	}
	if cfg.SessionRefresh != 2*time.Hour {
		t.Fatalf("expected default session refresh, got %v", cfg.SessionRefresh)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file was not written: %v", err)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "backend: hosted\nhosted_app_id: my-app\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(log.Nop(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendHosted {
		t.Fatalf("expected hosted backend, got %q", cfg.Backend)
	}
	if cfg.HostedAppID != "my-app" {
		t.Fatalf("expected app id from file, got %q", cfg.HostedAppID)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from file, got %q", cfg.LogLevel)
	}
	if cfg.DatabasePath != Default().DatabasePath {
		t.Fatalf("unset keys must keep their defaults, got %q", cfg.DatabasePath)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MURMUR_LOG_LEVEL", "trace")
	t.Setenv("MURMUR_DATABASE_PATH", "/tmp/override.db")

	cfg, _, err := Load(log.Nop(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "trace" {
		t.Fatalf("env must win over the file, got %q", cfg.LogLevel)
	}
	if cfg.DatabasePath != "/tmp/override.db" {
		t.Fatalf("env must win over defaults, got %q", cfg.DatabasePath)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend: irc\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(log.Nop(), path); err == nil {
		t.Fatal("an unknown backend must be rejected")
	}
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Backend: BackendHosted, LogLevel: "debug"})

	if cfg.Backend != BackendHosted {
		t.Fatalf("expected overridden backend, got %q", cfg.Backend)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected overridden log level, got %q", cfg.LogLevel)
	}
	if cfg.HomeserverURL != Default().HomeserverURL {
		t.Fatalf("zero values must not overwrite, got %q", cfg.HomeserverURL)
	}
}
