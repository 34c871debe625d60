package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.JWT.Secret = "test-secret"
	cfg.Encryption.Key = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 3000 {
		t.Errorf("server port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.IMAP.Port != 993 {
		t.Errorf("imap port = %d, want 993", cfg.IMAP.Port)
	}
	if cfg.Sync.FetchLimit != 50 || cfg.Sync.CacheLimit != 15 || cfg.Sync.SearchMonths != 6 {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
	if !cfg.Signaling.Enabled {
		t.Error("signaling disabled by default")
	}
	if cfg.Signaling.MaxConnections != 5 {
		t.Errorf("max connections = %d, want 5", cfg.Signaling.MaxConnections)
	}
	if cfg.Signaling.HeartbeatInterval() != 30*time.Second {
		t.Errorf("heartbeat = %v, want 30s", cfg.Signaling.HeartbeatInterval())
	}
	if cfg.Signaling.LivenessTimeout() != 90*time.Second {
		t.Errorf("liveness = %v, want 90s", cfg.Signaling.LivenessTimeout())
	}
	if cfg.Signaling.DebounceWindow() != 2*time.Second {
		t.Errorf("debounce = %v, want 2s", cfg.Signaling.DebounceWindow())
	}
	if cfg.RateLimit.Window() != time.Minute {
		t.Errorf("rate limit window = %v, want 1m", cfg.RateLimit.Window())
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"missing jwt secret",
			func(c *Config) { c.JWT.Secret = "" },
			"jwt.secret",
		},
		{
			"short encryption key",
			func(c *Config) { c.Encryption.Key = "too-short" },
			"32 bytes",
		},
		{
			"liveness not above heartbeat",
			func(c *Config) { c.Signaling.LivenessSeconds = c.Signaling.HeartbeatSeconds },
			"liveness_seconds",
		},
		{
			"zero max connections",
			func(c *Config) { c.Signaling.MaxConnections = 0 },
			"max_connections",
		},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: Validate accepted a broken config", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("%s: err = %q, want mention of %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `[jwt]
secret = "file-secret"

[encryption]
key = "0123456789abcdef0123456789abcdef"

[server]
port = 8080

[sync]
cache_limit = 30

[signaling]
debounce_millis = 500
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	// File values override defaults.
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sync.CacheLimit != 30 {
		t.Errorf("cache limit = %d, want 30", cfg.Sync.CacheLimit)
	}
	if cfg.Signaling.DebounceMillis != 500 {
		t.Errorf("debounce = %d, want 500", cfg.Signaling.DebounceMillis)
	}
	// Untouched knobs keep their defaults.
	if cfg.Sync.FetchLimit != 50 {
		t.Errorf("fetch limit = %d, want default 50", cfg.Sync.FetchLimit)
	}
	if cfg.JWT.Secret != "file-secret" {
		t.Errorf("jwt secret = %q", cfg.JWT.Secret)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = 8080\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig accepted a config without jwt.secret")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("LoadConfig accepted a missing file")
	}
}
