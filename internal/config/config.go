// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// Doctor Assist.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.doctorassist/config.toml
//   - ~/.doctorassist/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete Doctor Assist configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Server configuration
	Server ServerConfig `toml:"server" json:"server"`

	// Gemini provider configuration
	Gemini GeminiConfig `toml:"gemini" json:"gemini"`

	// Per-client rate limiting
	RateLimit RateLimitConfig `toml:"rate_limit" json:"rate_limit"`

	// Account storage
	Storage StorageConfig `toml:"storage" json:"storage"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address for the API server.
	Addr string `toml:"addr" json:"addr"`
	// SessionTTLHours is how long a login session stays valid.
	SessionTTLHours int `toml:"session_ttl_hours" json:"session_ttl_hours"`
}

// GeminiConfig contains Generative Language API configuration.
type GeminiConfig struct {
	// APIKey is the Gemini API key. Prefer the GEMINI_API_KEY env var.
	APIKey string `toml:"api_key" json:"api_key"`
	// Model is the generation model.
	Model string `toml:"model" json:"model"`
	// BaseURL overrides the API endpoint (testing, proxies).
	BaseURL string `toml:"base_url" json:"base_url"`
	// TimeoutSecs is the per-request timeout in seconds.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the number of attempts for transient upstream errors.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RequestsPerMinute paces outbound calls (0 = unpaced).
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
}

// RateLimitConfig contains per-client admission control configuration.
type RateLimitConfig struct {
	// Limit is the number of requests admitted per window per client.
	Limit int `toml:"limit" json:"limit"`
	// WindowSecs is the fixed window length in seconds.
	WindowSecs int `toml:"window_secs" json:"window_secs"`
	// EvictionEnabled controls background cleanup of stale client entries.
	EvictionEnabled bool `toml:"eviction_enabled" json:"eviction_enabled"`
}

// StorageConfig contains account database configuration.
type StorageConfig struct {
	// DBPath is the SQLite database path (empty = ~/.doctorassist/doctors.db).
	DBPath string `toml:"db_path" json:"db_path"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:            "127.0.0.1:8790",
			SessionTTLHours: 8,
		},

		Gemini: GeminiConfig{
			APIKey:            "",
			Model:             "gemini-2.5-flash",
			BaseURL:           "",
			TimeoutSecs:       30,
			MaxRetries:        3,
			RequestsPerMinute: 0,
		},

		RateLimit: RateLimitConfig{
			Limit:           20,
			WindowSecs:      60,
			EvictionEnabled: true,
		},

		Storage: StorageConfig{
			DBPath: "",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the Doctor Assist configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".doctorassist"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finishLoad(cfg)
			}
		}
	}

	cfg, err = finishLoad(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// finishLoad applies env overrides, defaults, and validation.
func finishLoad(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finishLoad(cfg)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// SECURITY: Ensure permissions are correct even if file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# Doctor Assist configuration file")
	fmt.Fprintln(file, "# Edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables always win over file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("DOCTOR_ASSIST_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DOCTOR_ASSIST_MODEL"); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv("DOCTOR_ASSIST_DB"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("DOCTOR_ASSIST_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.Limit = n
		}
	}
	if v := os.Getenv("DOCTOR_ASSIST_RATE_WINDOW_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.WindowSecs = n
		}
	}
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// SetDefaults fills in any zero values with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.SessionTTLHours <= 0 {
		c.Server.SessionTTLHours = defaults.Server.SessionTTLHours
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = defaults.Gemini.Model
	}
	if c.Gemini.TimeoutSecs <= 0 {
		c.Gemini.TimeoutSecs = defaults.Gemini.TimeoutSecs
	}
	if c.Gemini.MaxRetries <= 0 {
		c.Gemini.MaxRetries = defaults.Gemini.MaxRetries
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = defaults.RateLimit.Limit
	}
	if c.RateLimit.WindowSecs <= 0 {
		c.RateLimit.WindowSecs = defaults.RateLimit.WindowSecs
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Addr != "" && !strings.Contains(c.Server.Addr, ":") {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: fmt.Sprintf("invalid listen address %q, want host:port", c.Server.Addr),
		})
	}

	if c.Gemini.BaseURL != "" {
		if u, err := url.Parse(c.Gemini.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   "gemini.base_url",
				Message: fmt.Sprintf("invalid URL %q, want http(s)://...", c.Gemini.BaseURL),
			})
		}
	}

	if c.Gemini.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "gemini.requests_per_minute",
			Message: "cannot be negative",
		})
	}

	if c.RateLimit.Limit < 1 {
		errs = append(errs, ValidationError{
			Field:   "rate_limit.limit",
			Message: "must be at least 1",
		})
	}
	if c.RateLimit.WindowSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "rate_limit.window_secs",
			Message: "must be at least 1",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// DBPath returns the configured database path, or the default under the
// config directory.
func (c *Config) DBPath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "doctors.db"), nil
}

// Redacted returns a JSON rendering of the config safe for logs.
func (c *Config) Redacted() string {
	safe := *c
	if safe.Gemini.APIKey != "" {
		safe.Gemini.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		globalConfigMu.RLock()
		set := globalConfig != nil
		globalConfigMu.RUnlock()
		if set {
			// SetGlobal ran before the first Global call; keep it.
			return
		}

		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}

		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
