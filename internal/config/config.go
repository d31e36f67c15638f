// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/chatwire/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete chatwire configuration.
type Config struct {
	Stream StreamConfig `toml:"stream"`
	Bus    BusConfig    `toml:"bus"`
	Cache  CacheConfig  `toml:"cache"`
	Typing TypingConfig `toml:"typing"`
}

// StreamConfig configures the chat stream client.
type StreamConfig struct {
	// BaseURL is the chat endpoint root.
	BaseURL string `toml:"base_url"`
	// TimeoutSeconds is the hard per-session timeout.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// TokenDelayMS is the inter-token reveal delay; -1 disables pacing.
	TokenDelayMS int `toml:"token_delay_ms"`
}

// BusConfig configures the event bus connection.
type BusConfig struct {
	// URL is the persistent stream endpoint.
	URL string `toml:"url"`
	// TokenInQuery authenticates via query parameter instead of header.
	TokenInQuery bool `toml:"token_in_query"`
	// ReconnectBaseMS is the first reconnect delay.
	ReconnectBaseMS int `toml:"reconnect_base_ms"`
	// ReconnectMaxMS is the reconnect delay ceiling.
	ReconnectMaxMS int `toml:"reconnect_max_ms"`
	// HeartbeatTimeoutSeconds is the liveness threshold.
	HeartbeatTimeoutSeconds int `toml:"heartbeat_timeout_seconds"`
}

// CacheConfig configures the conversation cache.
type CacheConfig struct {
	// TTLSeconds is the staleness threshold for cached conversations.
	TTLSeconds int `toml:"ttl_seconds"`
	// MaxMessages caps per-conversation in-memory history.
	MaxMessages int `toml:"max_messages"`
}

// TypingConfig configures the typing coordinator.
type TypingConfig struct {
	// AutoStopSeconds is the inactivity window before typing auto-stops.
	AutoStopSeconds int `toml:"auto_stop_seconds"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			BaseURL:        "https://api.chatwire.local",
			TimeoutSeconds: 120,
			TokenDelayMS:   15,
		},
		Bus: BusConfig{
			URL:                     "https://api.chatwire.local/events",
			ReconnectBaseMS:         1000,
			ReconnectMaxMS:          30000,
			HeartbeatTimeoutSeconds: 90,
		},
		Cache: CacheConfig{
			TTLSeconds:  300,
			MaxMessages: 1000,
		},
		Typing: TypingConfig{
			AutoStopSeconds: 8,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".chatwire", "config.toml")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file at path (missing file means defaults),
// applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(raw), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults.
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies CHATWIRE_* environment variables on top of
// file values. The bearer token itself is not config; see auth.Env.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATWIRE_API_URL"); v != "" {
		cfg.Stream.BaseURL = v
	}
	if v := os.Getenv("CHATWIRE_BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
}

// Save writes the config atomically to path.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the config for values that cannot work.
func (c *Config) Validate() error {
	if err := validURL(c.Stream.BaseURL); err != nil {
		return fmt.Errorf("stream.base_url: %w", err)
	}
	if err := validURL(c.Bus.URL); err != nil {
		return fmt.Errorf("bus.url: %w", err)
	}
	if c.Stream.TimeoutSeconds <= 0 {
		return errors.New("stream.timeout_seconds must be positive")
	}
	if c.Bus.ReconnectBaseMS <= 0 || c.Bus.ReconnectMaxMS < c.Bus.ReconnectBaseMS {
		return errors.New("bus reconnect delays must be positive and max >= base")
	}
	if c.Cache.TTLSeconds <= 0 {
		return errors.New("cache.ttl_seconds must be positive")
	}
	if c.Typing.AutoStopSeconds <= 0 {
		return errors.New("typing.auto_stop_seconds must be positive")
	}
	return nil
}

// validURL requires an absolute http(s) URL.
func validURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("not an absolute http(s) URL: %q", s)
	}
	return nil
}

// =============================================================================
// DURATION ACCESSORS
// =============================================================================

// Timeout returns the stream session timeout as a duration.
func (s StreamConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// TokenDelay returns the inter-token delay; negative disables pacing.
func (s StreamConfig) TokenDelay() time.Duration {
	return time.Duration(s.TokenDelayMS) * time.Millisecond
}

// ReconnectBase returns the first reconnect delay.
func (b BusConfig) ReconnectBase() time.Duration {
	return time.Duration(b.ReconnectBaseMS) * time.Millisecond
}

// ReconnectMax returns the reconnect delay ceiling.
func (b BusConfig) ReconnectMax() time.Duration {
	return time.Duration(b.ReconnectMaxMS) * time.Millisecond
}

// HeartbeatTimeout returns the liveness threshold.
func (b BusConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(b.HeartbeatTimeoutSeconds) * time.Second
}

// TTL returns the cache staleness threshold.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// AutoStop returns the typing auto-stop window.
func (t TypingConfig) AutoStop() time.Duration {
	return time.Duration(t.AutoStopSeconds) * time.Second
}
