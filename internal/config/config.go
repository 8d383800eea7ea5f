package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	semver "github.com/Masterminds/semver/v3"
	"github.com/joho/godotenv"
)

const (
	defaultHandleExpiryMinutes  = 120
	defaultIdleThresholdMinutes = 5
	defaultSyncIntervalMinutes  = 30
	defaultSyncTimeoutSeconds   = 10
	defaultDaemonListenAddr     = "127.0.0.1:8431"
)

type DatabaseConfig struct {
	Path string `json:"path"`
}

type SessionConfig struct {
	HandleExpiryMinutes  int `json:"handle_expiry_minutes"`
	IdleThresholdMinutes int `json:"idle_threshold_minutes"`
}

type SyncConfig struct {
	Enabled         bool   `json:"enabled"`
	URL             string `json:"url"`
	AuthToken       string `json:"auth_token"`
	UserID          string `json:"user_id"`
	IntervalMinutes int    `json:"interval_minutes"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

type DiscordConfig struct {
	WebhookID    string `json:"webhook_id"`
	WebhookToken string `json:"webhook_token"`
}

type NotifyConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DaemonConfig struct {
	ListenAddr string `json:"listen_addr"`
}

type ToolsConfig struct {
	// MinShimVersions maps a tool kind to a semver constraint its hook shim
	// must satisfy, e.g. {"claude-code": ">= 1.2.0"}.
	MinShimVersions map[string]string `json:"min_shim_versions"`
}

type ImportConfig struct {
	OpenCodeURL string `json:"opencode_url"`
}

type Config struct {
	DataDir  string         `json:"data_dir"`
	Database DatabaseConfig `json:"database"`
	Session  SessionConfig  `json:"session"`
	Sync     SyncConfig     `json:"sync"`
	Notify   NotifyConfig   `json:"notify"`
	Daemon   DaemonConfig   `json:"daemon"`
	Tools    ToolsConfig    `json:"tools"`
	Import   ImportConfig   `json:"import"`
}

// DefaultDataDir returns ~/.devtally, falling back to the working directory
// when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devtally"
	}
	return filepath.Join(home, ".devtally")
}

// DefaultPath returns the default config file location inside the data dir.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}

// Load reads the config file at path. A missing file is not an error: a
// fresh installation runs entirely on defaults. Secrets may be overridden
// through a .env file in the data dir or process environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "devtally.db")
	}
	if cfg.Session.HandleExpiryMinutes <= 0 {
		cfg.Session.HandleExpiryMinutes = defaultHandleExpiryMinutes
	}
	if cfg.Session.IdleThresholdMinutes <= 0 {
		cfg.Session.IdleThresholdMinutes = defaultIdleThresholdMinutes
	}
	if cfg.Sync.IntervalMinutes <= 0 {
		cfg.Sync.IntervalMinutes = defaultSyncIntervalMinutes
	}
	if cfg.Sync.TimeoutSeconds <= 0 {
		cfg.Sync.TimeoutSeconds = defaultSyncTimeoutSeconds
	}
	if cfg.Daemon.ListenAddr == "" {
		cfg.Daemon.ListenAddr = defaultDaemonListenAddr
	}
}

// applyEnvOverrides loads <data_dir>/.env if present, then applies secret
// overrides from the environment so tokens never have to live in config.json.
func (cfg *Config) applyEnvOverrides() {
	_ = godotenv.Load(filepath.Join(cfg.DataDir, ".env"))

	if v := os.Getenv("DEVTALLY_SYNC_URL"); v != "" {
		cfg.Sync.URL = v
	}
	if v := os.Getenv("DEVTALLY_SYNC_TOKEN"); v != "" {
		cfg.Sync.AuthToken = v
	}
	if v := os.Getenv("DEVTALLY_USER_ID"); v != "" {
		cfg.Sync.UserID = v
	}
	if v := os.Getenv("DEVTALLY_DISCORD_WEBHOOK_ID"); v != "" {
		cfg.Notify.Discord.WebhookID = v
	}
	if v := os.Getenv("DEVTALLY_DISCORD_WEBHOOK_TOKEN"); v != "" {
		cfg.Notify.Discord.WebhookToken = v
	}
}

func (cfg *Config) validate() error {
	if cfg.Sync.Enabled {
		if cfg.Sync.URL == "" {
			return fmt.Errorf("validation error: sync.url is required when sync is enabled")
		}
		if cfg.Sync.UserID == "" {
			return fmt.Errorf("validation error: sync.user_id is required when sync is enabled")
		}
	}
	if cfg.Sync.TimeoutSeconds > 60 {
		return fmt.Errorf("validation error: sync.timeout_seconds must be at most 60, got %d", cfg.Sync.TimeoutSeconds)
	}

	for tool, constraint := range cfg.Tools.MinShimVersions {
		if _, err := semver.NewConstraint(constraint); err != nil {
			return fmt.Errorf("validation error: tools.min_shim_versions.%s must be valid semver constraint: %w", tool, err)
		}
	}

	return nil
}

// HandlePath is the session handle side file, kept next to the database but
// outside it: it is the only file the coordinator overwrites.
func (cfg *Config) HandlePath() string {
	return filepath.Join(cfg.DataDir, "session.json")
}

// KeyPath is the per-installation signing key file.
func (cfg *Config) KeyPath() string {
	return filepath.Join(cfg.DataDir, "device.key")
}

// EnsureDataDir creates the data directory when missing.
func (cfg *Config) EnsureDataDir() error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	return nil
}
