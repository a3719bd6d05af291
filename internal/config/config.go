package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	appName    = "lsprobe"
	configFile = "config.toml"
	envPrefix  = "LSPROBE"
)

// Log configures diagnostics output. Rotation follows lumberjack semantics.
type Log struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config holds the detection settings.
type Config struct {
	// ProcessName overrides the platform's canonical binary name.
	ProcessName string        `mapstructure:"process_name"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	// Language selects the diagnostics language; empty means LC_ALL/LANG.
	Language string `mapstructure:"language"`
	Log      Log    `mapstructure:"log"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("process_name", "")
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay", "2s")
	v.SetDefault("language", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
}

// Load reads configuration into v and decodes it. Values are layered as
// flags bound on v, then LSPROBE_* environment variables, then the config
// file, then defaults. A missing file is not an error; path overrides the
// default location.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = Path()
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("max_retries must be positive, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("retry_delay must not be negative, got %s", cfg.RetryDelay)
	}
	return cfg, nil
}

// Init writes a config file with default values at path. It refuses to
// overwrite an existing file.
func Init(path string) (string, error) {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("toml")
	if err := v.SafeWriteConfigAs(path); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(configDir(), appName, configFile)
}
