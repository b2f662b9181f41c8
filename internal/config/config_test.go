package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Limits.MaxBodyBytes != 1_000_000 {
		t.Errorf("max body bytes = %d, want 1000000", cfg.Limits.MaxBodyBytes)
	}
	if cfg.RateLimit.Store != "memory" {
		t.Errorf("rate limit store = %q, want memory", cfg.RateLimit.Store)
	}
	if cfg.Timeouts.Default != 30 || cfg.Timeouts.Image != 60 {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if got := cfg.RateLimit.Tiers.IP["chat"].MaxRequests; got != 30 {
		t.Errorf("ip chat ceiling = %d, want 30", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROMPTGATE_SERVER__PORT", "9000")
	t.Setenv("PROMPTGATE_RATE_LIMIT__STORE", "redis")
	t.Setenv("PROMPTGATE_RATE_LIMIT__REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.RateLimit.Store != "redis" {
		t.Errorf("store = %q, want redis", cfg.RateLimit.Store)
	}
	if cfg.RateLimit.RedisAddr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.RateLimit.RedisAddr)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9090
limits:
  chat_message_chars: 2000
audit:
  backend: sqlite
  sqlite_path: /tmp/audit.db
timeouts:
  default: 15
  image: 60
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Limits.ChatMessageChars != 2000 {
		t.Errorf("chat message chars = %d, want 2000", cfg.Limits.ChatMessageChars)
	}
	// Fields the file omits keep their defaults.
	if cfg.Limits.MaxBodyBytes != 1_000_000 {
		t.Errorf("max body bytes = %d, want default", cfg.Limits.MaxBodyBytes)
	}
	if cfg.Audit.Backend != "sqlite" || cfg.Audit.SQLitePath != "/tmp/audit.db" {
		t.Errorf("audit = %+v", cfg.Audit)
	}
	if cfg.Timeouts.Default != 15 || cfg.Timeouts.Image != 60 {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROMPTGATE_SERVER__PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("port = %d, want env override 7000", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}
