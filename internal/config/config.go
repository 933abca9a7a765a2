// Package config handles the bridge's CLI-derived configuration: a
// bind address and a log level. There is no persisted configuration
// file — the bridge's only external interface is the two CLI flags
// named in §6 — but the shape (a struct with applyDefaults/Validate/
// Default) follows the same idiom the rest of this codebase uses for
// richer, file-backed configuration.
package config

import (
	"fmt"
	"log/slog"
	"net"
)

// Config holds the bridge's runtime configuration.
type Config struct {
	Address  string
	LogLevel slog.Level
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in zero-value fields with the defaults from §6.
func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = "127.0.0.1:2024"
	}
}

// Validate checks that the configuration is usable. It runs after
// applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("address %q: %w", c.Address, err)
	}
	return nil
}
