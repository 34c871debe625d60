package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type ServerConfig struct {
	Port         int    `toml:"port"`
	TemplatesDir string `toml:"templates_dir"`
	LocalesDir   string `toml:"locales_dir"`
}

// IMAPConfig holds fallback connection defaults applied to accounts
// created without an explicit server.
type IMAPConfig struct {
	Server string `toml:"server"`
	Port   int    `toml:"port"`
}

type JWTConfig struct {
	Secret string `toml:"secret"`
}

type EncryptionConfig struct {
	Key string `toml:"key"` // 32-byte key for AES-GCM credential encryption
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// SyncConfig bounds the inbox synchronization engine.
type SyncConfig struct {
	FetchLimit   int `toml:"fetch_limit"`   // default window size per sync/fetch
	CacheLimit   int `toml:"cache_limit"`   // default per-mailbox cache size, clamped [5,100]
	SearchMonths int `toml:"search_months"` // initial search window
}

// SignalingConfig tunes the push hub. Disabling it leaves the client in
// pull-only mode; everything else keeps working.
type SignalingConfig struct {
	Enabled            bool `toml:"enabled"`
	HeartbeatSeconds   int  `toml:"heartbeat_seconds"`
	LivenessSeconds    int  `toml:"liveness_seconds"`
	DebounceMillis     int  `toml:"debounce_millis"`
	MaxConnections     int  `toml:"max_connections"`
	SendBufferMessages int  `toml:"send_buffer_messages"`
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (s SignalingConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatSeconds) * time.Second
}

// LivenessTimeout returns the liveness deadline as a duration.
func (s SignalingConfig) LivenessTimeout() time.Duration {
	return time.Duration(s.LivenessSeconds) * time.Second
}

// DebounceWindow returns the signal debounce window as a duration.
func (s SignalingConfig) DebounceWindow() time.Duration {
	return time.Duration(s.DebounceMillis) * time.Millisecond
}

type RateLimitConfig struct {
	Requests      int `toml:"requests"`
	WindowSeconds int `toml:"window_seconds"`
}

// Window returns the rate limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	IMAP       IMAPConfig       `toml:"imap"`
	JWT        JWTConfig        `toml:"jwt"`
	Encryption EncryptionConfig `toml:"encryption"`
	Storage    StorageConfig    `toml:"storage"`
	Sync       SyncConfig       `toml:"sync"`
	Signaling  SignalingConfig  `toml:"signaling"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
	Log        LogConfig        `toml:"log"`
}

// LoadConfig reads a TOML config file, applying defaults first so a
// sparse file still yields a runnable configuration.
func LoadConfig(filepath string) (*Config, error) {
	config := Defaults()

	if _, err := toml.DecodeFile(filepath, config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Defaults returns a configuration with every knob at its default.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         3000,
			TemplatesDir: "./templates",
			LocalesDir:   "./locales",
		},
		IMAP:       IMAPConfig{Port: 993},
		Storage:    StorageConfig{DataDir: "./data"},
		Sync:       SyncConfig{FetchLimit: 50, CacheLimit: 15, SearchMonths: 6},
		Signaling:  SignalingConfig{Enabled: true, HeartbeatSeconds: 30, LivenessSeconds: 90, DebounceMillis: 2000, MaxConnections: 5, SendBufferMessages: 16},
		RateLimit:  RateLimitConfig{Requests: 100, WindowSeconds: 60},
		Log:        LogConfig{Level: "info"},
	}
}

// Validate rejects configurations that cannot work at runtime.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if len(c.Encryption.Key) != 32 {
		return fmt.Errorf("encryption.key must be exactly 32 bytes, got %d", len(c.Encryption.Key))
	}
	if c.Signaling.LivenessSeconds <= c.Signaling.HeartbeatSeconds {
		return fmt.Errorf("signaling.liveness_seconds (%d) must exceed heartbeat_seconds (%d)",
			c.Signaling.LivenessSeconds, c.Signaling.HeartbeatSeconds)
	}
	if c.Signaling.MaxConnections < 1 {
		return fmt.Errorf("signaling.max_connections must be at least 1")
	}
	return nil
}
