// Package config loads the gateway configuration from an optional YAML file
// overlaid with PROMPTGATE_-prefixed environment variables. A double
// underscore in an environment variable name separates nesting levels, so
// PROMPTGATE_SERVER__PORT maps to server.port.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/promptgate/promptgate/internal/ratelimit"
	"github.com/promptgate/promptgate/internal/validate"
)

const envPrefix = "PROMPTGATE_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Limits    validate.Limits `koanf:"limits"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Timeouts  TimeoutConfig   `koanf:"timeouts"`
	Audit     AuditConfig     `koanf:"audit"`
	Rules     RulesConfig     `koanf:"rules"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

// RateLimitConfig selects the counter store and the per-tier ceilings.
// Store is "memory" or "redis".
type RateLimitConfig struct {
	Store     string          `koanf:"store"`
	RedisAddr string          `koanf:"redis_addr"`
	Tiers     ratelimit.Tiers `koanf:"tiers"`
}

// TimeoutConfig bounds handler execution, in seconds. A zero per-modality
// value falls back to Default.
type TimeoutConfig struct {
	Default int `koanf:"default"`
	Chat    int `koanf:"chat"`
	Image   int `koanf:"image"`
	TTS     int `koanf:"tts"`
}

// AuditConfig selects the security-event sink. Backend is "memory" or
// "sqlite".
type AuditConfig struct {
	Backend        string `koanf:"backend"`
	SQLitePath     string `koanf:"sqlite_path"`
	MemoryCapacity int    `koanf:"memory_capacity"`
}

// RulesConfig points at an optional sanitizer rule file. When Watch is set
// the file is reloaded on change.
type RulesConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Limits: validate.DefaultLimits(),
		RateLimit: RateLimitConfig{
			Store: "memory",
			Tiers: ratelimit.DefaultTiers(),
		},
		Timeouts: TimeoutConfig{Default: 30, Image: 60, TTS: 60},
		Audit: AuditConfig{
			Backend:        "memory",
			MemoryCapacity: 1024,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
