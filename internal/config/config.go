// Package config loads OpenUsage configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/openusage/internal/cliproxy"
	"github.com/ayusman/openusage/internal/logging"
	"github.com/ayusman/openusage/internal/runtime"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OPENUSAGE_"

// Config is the application configuration.
type Config struct {
	AppDataDir string `yaml:"app_data_dir" validate:"required"`
	PluginDir  string `yaml:"plugin_dir" validate:"required"`
	StaticDir  string `yaml:"static_dir"`
	Listen     string `yaml:"listen" validate:"required,hostname_port"`
	// RefreshIntervalSeconds is the auto-refresh period; 0 disables it.
	RefreshIntervalSeconds int  `yaml:"refresh_interval_seconds" validate:"gte=0"`
	Tray                   bool `yaml:"tray"`

	HTTP     HTTPConfig      `yaml:"http"`
	Logging  LoggingConfig   `yaml:"logging"`
	CLIProxy cliproxy.Config `yaml:"cliproxy"`
}

// HTTPConfig configures the plugin HTTP capability.
type HTTPConfig struct {
	TimeoutMS int `yaml:"timeout_ms" validate:"gte=0"`
}

// LoggingConfig configures logging output.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format     string `yaml:"format" validate:"omitempty,oneof=text json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		AppDataDir:             defaultAppDataDir(),
		Listen:                 "127.0.0.1:6736",
		RefreshIntervalSeconds: 300,
		Tray:                   true,
		HTTP:                   HTTPConfig{TimeoutMS: 10000},
		Logging:                LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from path, applies environment overrides and
// validates the result. An empty path uses defaults and the environment
// only; a missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.AppDataDir = runtime.ExpandHome(cfg.AppDataDir)
	if cfg.PluginDir == "" && cfg.AppDataDir != "" {
		cfg.PluginDir = filepath.Join(cfg.AppDataDir, "plugins")
	}
	cfg.PluginDir = runtime.ExpandHome(cfg.PluginDir)
	cfg.CLIProxy = cfg.CLIProxy.Normalized()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"APP_DATA_DIR":      &cfg.AppDataDir,
		"PLUGIN_DIR":        &cfg.PluginDir,
		"STATIC_DIR":        &cfg.StaticDir,
		"LISTEN":            &cfg.Listen,
		"LOG_LEVEL":         &cfg.Logging.Level,
		"LOG_FORMAT":        &cfg.Logging.Format,
		"LOG_FILE":          &cfg.Logging.File,
		"CLIPROXY_BASE_URL": &cfg.CLIProxy.BaseURL,
		"CLIPROXY_API_KEY":  &cfg.CLIProxy.APIKey,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"HTTP_TIMEOUT_MS":          &cfg.HTTP.TimeoutMS,
		"REFRESH_INTERVAL_SECONDS": &cfg.RefreshIntervalSeconds,
	}
	var errs []error
	for name, dst := range ints {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*dst = n
	}

	if v := os.Getenv(EnvPrefix + "TRAY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTRAY: %w", EnvPrefix, err))
		} else {
			cfg.Tray = b
		}
	}

	return errors.Join(errs...)
}

// DatabasePath returns the settings database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.AppDataDir, "openusage.db")
}

// HTTPTimeout returns the plugin HTTP capability timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutMS) * time.Millisecond
}

// RefreshInterval returns the auto-refresh period, 0 when disabled.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// LoggerConfig returns the logger configuration.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}

func defaultAppDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "openusage")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".openusage")
	}
	return ".openusage"
}
