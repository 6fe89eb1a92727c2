package app

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL         string  `yaml:"base_url"`
	HTTPTimeout     int     `yaml:"http_timeout_seconds"`
	PollInterval    int     `yaml:"poll_interval_seconds"`
	RefreshCooldown int     `yaml:"refresh_cooldown_seconds"`
	HistoryCap      int     `yaml:"history_cap"`
	StorageDir      string  `yaml:"storage_dir"`
	LoginCode       string  `yaml:"login_code"`
	Latitude        float64 `yaml:"latitude"`
	Longitude       float64 `yaml:"longitude"`
	AgentID         string  `yaml:"agent_id"`
	GroupID         string  `yaml:"group_id"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.dinechat.app",
		HTTPTimeout:     30,
		PollInterval:    30,
		RefreshCooldown: 120,
		HistoryCap:      200,
		StorageDir:      DefaultStorageDir(),
		AgentID:         "1",
		GroupID:         "main_group",
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.dinechat.app"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30
	}
	if cfg.RefreshCooldown <= 0 {
		cfg.RefreshCooldown = 120
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 200
	}
	if cfg.HistoryCap > 2000 {
		cfg.HistoryCap = 2000
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = DefaultStorageDir()
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "1"
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "main_group"
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "dinechat", "config.yml")
}

// DefaultStorageDir holds the credential cache and logs. Prefer the XDG data
// dir; fall back to ~/.local/share, then the temp dir.
func DefaultStorageDir() string {
	if base := os.Getenv("XDG_DATA_HOME"); base != "" {
		return filepath.Join(base, "dinechat")
	}
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".local", "share", "dinechat")
	}
	return filepath.Join(os.TempDir(), "dinechat")
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

func (c Config) Poll() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func (c Config) Cooldown() time.Duration {
	return time.Duration(c.RefreshCooldown) * time.Second
}

// Location returns the configured fixed location, or nil when unset.
func (c Config) Location() *Location {
	if c.Latitude == 0 && c.Longitude == 0 {
		return nil
	}
	return &Location{Latitude: c.Latitude, Longitude: c.Longitude}
}
