// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != "127.0.0.1:8790" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.RateLimit.Limit != 20 || cfg.RateLimit.WindowSecs != 60 {
		t.Errorf("RateLimit = %+v, want 20 per 60s", cfg.RateLimit)
	}
	if cfg.Gemini.Model != "gemini-2.5-flash" {
		t.Errorf("Gemini.Model = %q", cfg.Gemini.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1.0.0"

[server]
addr = "0.0.0.0:9000"

[gemini]
model = "gemini-2.0-pro"
timeout_secs = 10

[rate_limit]
limit = 5
window_secs = 30
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Gemini.Model != "gemini-2.0-pro" || cfg.Gemini.TimeoutSecs != 10 {
		t.Errorf("Gemini = %+v", cfg.Gemini)
	}
	if cfg.RateLimit.Limit != 5 || cfg.RateLimit.WindowSecs != 30 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}

	// Omitted fields keep defaults.
	if cfg.Gemini.MaxRetries != 3 {
		t.Errorf("Gemini.MaxRetries = %d, want default 3", cfg.Gemini.MaxRetries)
	}
}

func TestLoadFromPath_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"server": {"addr": "127.0.0.1:8000"}, "rate_limit": {"limit": 7}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8000" || cfg.RateLimit.Limit != 7 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("DOCTOR_ASSIST_ADDR", "127.0.0.1:7777")
	t.Setenv("DOCTOR_ASSIST_RATE_LIMIT", "99")
	t.Setenv("DOCTOR_ASSIST_RATE_WINDOW_SECS", "not-a-number")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Gemini.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.Gemini.APIKey)
	}
	if cfg.Server.Addr != "127.0.0.1:7777" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.RateLimit.Limit != 99 {
		t.Errorf("RateLimit.Limit = %d", cfg.RateLimit.Limit)
	}
	// Unparseable value is ignored.
	if cfg.RateLimit.WindowSecs != 60 {
		t.Errorf("WindowSecs = %d, want default 60", cfg.RateLimit.WindowSecs)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = "no-port"
	cfg.Gemini.BaseURL = "not a url"
	cfg.RateLimit.Limit = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil for invalid config")
	}

	msg := err.Error()
	for _, want := range []string{"server.addr", "gemini.base_url", "rate_limit.limit"} {
		if !strings.Contains(msg, want) {
			t.Errorf("validation error %q missing field %s", msg, want)
		}
	}
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.Server.Addr == "" || cfg.RateLimit.Limit == 0 || cfg.Gemini.Model == "" {
		t.Errorf("SetDefaults left zero values: %+v", cfg)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Gemini.APIKey = "super-secret-key"

	out := cfg.Redacted()
	if strings.Contains(out, "super-secret-key") {
		t.Error("Redacted() leaked the API key")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("Redacted() did not mark the key as redacted")
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Server.Addr = "127.0.0.1:8123"
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}

	// SECURITY: saved config must be owner-only.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Server.Addr != "127.0.0.1:8123" {
		t.Errorf("round-trip Addr = %q", loaded.Server.Addr)
	}
}

func TestGlobal(t *testing.T) {
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	custom := Default()
	custom.RateLimit.Limit = 42
	SetGlobal(custom)

	if Global().RateLimit.Limit != 42 {
		t.Errorf("Global().RateLimit.Limit = %d, want 42", Global().RateLimit.Limit)
	}
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	write := func(limit int) {
		cfg := Default()
		cfg.RateLimit.Limit = limit
		if err := SaveTOML(cfg, path); err != nil {
			t.Fatal(err)
		}
	}
	write(20)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	write(55)

	select {
	case cfg := <-reloaded:
		if cfg.RateLimit.Limit != 55 {
			t.Errorf("reloaded limit = %d, want 55", cfg.RateLimit.Limit)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
