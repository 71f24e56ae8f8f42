// Package config loads client-wide tuning parameters from a TOML file
// via github.com/BurntSushi/toml, the format the rest of the example
// corpus reaches for over a hand-rolled flag/env parser.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds client tuning values decoded from a file. The client
// package does not read it; a caller maps these values onto client
// options and links itself.
type Config struct {
	Transport struct {
		URL    string `toml:"url"`
		Origin string `toml:"origin"`
	} `toml:"transport"`

	Cache struct {
		Enabled bool     `toml:"enabled"`
		TTL     duration `toml:"ttl"`
	} `toml:"cache"`

	Retry struct {
		Enabled     bool `toml:"enabled"`
		MaxAttempts uint64 `toml:"max_attempts"`
	} `toml:"retry"`

	Tracing struct {
		Enabled     bool   `toml:"enabled"`
		ServiceName string `toml:"service_name"`
	} `toml:"tracing"`

	BatchFetch bool `toml:"batch_fetch"`
}

// duration parses a TOML string like "30s" into a time.Duration via
// encoding.TextUnmarshaler, the same knob shape BurntSushi/toml expects.
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used as the base that Load decodes
// a file on top of.
func Default() *Config {
	cfg := &Config{}
	cfg.Cache.TTL = duration{30 * time.Second}
	cfg.Retry.MaxAttempts = 3
	return cfg
}

// Load decodes a TOML file at path into a Config seeded with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// CacheTTL returns the configured cache TTL.
func (c *Config) CacheTTL() time.Duration { return c.Cache.TTL.Duration }
