// Package config loads client configuration from a TOML file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the clipq client.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Journal JournalConfig `toml:"journal"`
	Auth    AuthConfig    `toml:"auth"`
	List    ListConfig    `toml:"list"`
	Log     LogConfig     `toml:"log"`
}

type ServiceConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

type JournalConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	TokenPath string `toml:"token_path"`
}

type ListConfig struct {
	Limit int `toml:"limit"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// duration lets TOML carry values like "30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d duration) Duration() time.Duration { return time.Duration(d) }

// DefaultPath returns the default config file location under XDG_CONFIG_HOME.
func DefaultPath() string {
	return filepath.Join(configDir(), "clipq", "config.toml")
}

// DefaultJournalPath returns the default journal database location under
// XDG_CACHE_HOME.
func DefaultJournalPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "clipq", "journal.db")
}

// DefaultTokenPath returns the default token file location.
func DefaultTokenPath() string {
	return filepath.Join(configDir(), "clipq", "token")
}

func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

// Load reads the TOML file at path (a missing file is fine, defaults apply),
// layers CLIPQ_* environment overrides on top, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{Timeout: duration(30 * time.Second)},
		Journal: JournalConfig{Path: DefaultJournalPath()},
		Auth:    AuthConfig{TokenPath: DefaultTokenPath()},
		List:    ListConfig{Limit: 50},
		Log:     LogConfig{Level: "info"},
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.BaseURL = envString("CLIPQ_BASE_URL", cfg.Service.BaseURL)
	cfg.Journal.Path = envString("CLIPQ_JOURNAL_PATH", cfg.Journal.Path)
	cfg.Auth.TokenPath = envString("CLIPQ_TOKEN_PATH", cfg.Auth.TokenPath)
	cfg.List.Limit = envInt("CLIPQ_LIST_LIMIT", cfg.List.Limit)
	cfg.Log.Level = envString("CLIPQ_LOG_LEVEL", cfg.Log.Level)
	if v := os.Getenv("CLIPQ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Service.Timeout = duration(d)
		}
	}
}

func (c *Config) validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service base URL is required (set CLIPQ_BASE_URL or service.base_url)")
	}
	if !strings.HasPrefix(c.Service.BaseURL, "http://") && !strings.HasPrefix(c.Service.BaseURL, "https://") {
		return fmt.Errorf("service base URL must start with http:// or https://, got %q", c.Service.BaseURL)
	}
	if c.List.Limit <= 0 {
		return fmt.Errorf("list limit must be positive, got %d", c.List.Limit)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
