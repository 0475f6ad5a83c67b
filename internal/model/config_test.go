package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.BaseURL != "http://localhost:3000" {
		t.Errorf("base_url = %q, want http://localhost:3000", cfg.Server.BaseURL)
	}
	if cfg.Realtime.MaxReconnectAttempts != 5 {
		t.Errorf("max_reconnect_attempts = %d, want 5", cfg.Realtime.MaxReconnectAttempts)
	}
	if cfg.Realtime.ReconnectDelay != time.Second {
		t.Errorf("reconnect_delay = %v, want 1s", cfg.Realtime.ReconnectDelay)
	}
	if cfg.Store.InitialDelay != 500*time.Millisecond {
		t.Errorf("initial_delay = %v, want 500ms", cfg.Store.InitialDelay)
	}
	if cfg.Store.SafetyRefetchDelay != 2*time.Second {
		t.Errorf("safety_refetch_delay = %v, want 2s", cfg.Store.SafetyRefetchDelay)
	}
	if cfg.RealtimeURL() != cfg.Server.BaseURL {
		t.Errorf("RealtimeURL() = %q, want base url fallback", cfg.RealtimeURL())
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  base_url: https://acs.example.com/
realtime:
  url: wss://rt.example.com
  max_reconnect_attempts: 3
  reconnect_delay: 250ms
sync:
  poll_interval: 5m
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.BaseURL != "https://acs.example.com" {
		t.Errorf("base_url = %q, want trailing slash trimmed", cfg.Server.BaseURL)
	}
	if cfg.RealtimeURL() != "wss://rt.example.com" {
		t.Errorf("RealtimeURL() = %q", cfg.RealtimeURL())
	}
	if cfg.Realtime.MaxReconnectAttempts != 3 {
		t.Errorf("max_reconnect_attempts = %d, want 3", cfg.Realtime.MaxReconnectAttempts)
	}
	if cfg.Realtime.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("reconnect_delay = %v, want 250ms", cfg.Realtime.ReconnectDelay)
	}
	if cfg.Sync.PollInterval != 5*time.Minute {
		t.Errorf("poll_interval = %v, want 5m", cfg.Sync.PollInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.Store.SettleDelay != time.Second {
		t.Errorf("settle_delay = %v, want 1s", cfg.Store.SettleDelay)
	}
}

func TestLoadConfig_EnvAndFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	t.Setenv("ACCESS_CONSOLE_LOG_LEVEL", "debug")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--server", "http://flag.example:9000"}); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}

	cfg, err := LoadConfig(path, fs)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want env value debug", cfg.Log.Level)
	}
	if cfg.Server.BaseURL != "http://flag.example:9000" {
		t.Errorf("base_url = %q, want flag value", cfg.Server.BaseURL)
	}
}

func TestSaveConfig_ReadableByLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := defaultAppConfig()
	cfg.Server.BaseURL = "http://saved.example"
	cfg.Realtime.ForceReconnectDelay = 3 * time.Second

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Server.BaseURL != "http://saved.example" {
		t.Errorf("base_url = %q", loaded.Server.BaseURL)
	}
	if loaded.Realtime.ForceReconnectDelay != 3*time.Second {
		t.Errorf("force_reconnect_delay = %v, want 3s", loaded.Realtime.ForceReconnectDelay)
	}
}
