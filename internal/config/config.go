// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the auth core.
//
// Configuration is TOML with built-in defaults and environment variable
// overrides. File location (in order of precedence):
//   - path passed explicitly by the caller
//   - ~/.msis/authcore.toml
//   - built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete auth core configuration.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Lockout LockoutConfig `toml:"lockout"`
	Session SessionConfig `toml:"session"`
	MFA     MFAConfig     `toml:"mfa"`
}

// StorageConfig selects and locates the durable state backend.
type StorageConfig struct {
	// Driver is the storage backend: "file" or "sqlite".
	Driver string `toml:"driver"`
	// Path is the state directory (file driver) or database file
	// (sqlite driver).
	Path string `toml:"path"`
}

// LockoutConfig controls the brute-force lockout policy.
type LockoutConfig struct {
	// MaxAttempts is the consecutive-failure threshold.
	MaxAttempts int `toml:"max_attempts"`
	// LockoutMinutes is the lockout window length.
	LockoutMinutes int `toml:"lockout_minutes"`
}

// SessionConfig controls session expiry.
type SessionConfig struct {
	// IdleTimeoutMinutes is the inactivity window before forced logout.
	IdleTimeoutMinutes int `toml:"idle_timeout_minutes"`
}

// MFAConfig controls TOTP enrollment and verification.
type MFAConfig struct {
	// Issuer is embedded in enrollment URIs.
	Issuer string `toml:"issuer"`
	// StrictEnrollment requires a valid code before an enrollment is
	// persisted, instead of trusting the caller's assertion.
	StrictEnrollment bool `toml:"strict_enrollment"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: "file",
			Path:   defaultStatePath(),
		},
		Lockout: LockoutConfig{
			MaxAttempts:    5,
			LockoutMinutes: 15,
		},
		Session: SessionConfig{
			IdleTimeoutMinutes: 10,
		},
		MFA: MFAConfig{
			Issuer:           "MSIS_Admin",
			StrictEnrollment: false,
		},
	}
}

// defaultStatePath returns the default state directory (~/.msis).
func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".msis")
}

// DefaultConfigPath returns the default config file path (~/.msis/authcore.toml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".msis", "authcore.toml")
}

// =============================================================================
// LOADING
// =============================================================================

// Load builds the configuration: defaults, then the TOML file at path (or
// the default location when path is empty; a missing file is not an
// error), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies MSIS_AUTH_* environment variables on top of
// the loaded configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MSIS_AUTH_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("MSIS_AUTH_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("MSIS_AUTH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Lockout.MaxAttempts = n
		}
	}
	if v := os.Getenv("MSIS_AUTH_LOCKOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Lockout.LockoutMinutes = n
		}
	}
	if v := os.Getenv("MSIS_AUTH_IDLE_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.IdleTimeoutMinutes = n
		}
	}
	if v := os.Getenv("MSIS_AUTH_MFA_ISSUER"); v != "" {
		c.MFA.Issuer = v
	}
	if v := os.Getenv("MSIS_AUTH_STRICT_ENROLLMENT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.MFA.StrictEnrollment = b
		}
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage driver %q (want \"file\" or \"sqlite\")", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("config: storage path required")
	}
	if c.Lockout.MaxAttempts <= 0 {
		return fmt.Errorf("config: lockout max_attempts must be positive, got %d", c.Lockout.MaxAttempts)
	}
	if c.Lockout.LockoutMinutes <= 0 {
		return fmt.Errorf("config: lockout_minutes must be positive, got %d", c.Lockout.LockoutMinutes)
	}
	if c.Session.IdleTimeoutMinutes <= 0 {
		return fmt.Errorf("config: idle_timeout_minutes must be positive, got %d", c.Session.IdleTimeoutMinutes)
	}
	if c.MFA.Issuer == "" {
		return fmt.Errorf("config: mfa issuer required")
	}
	return nil
}
