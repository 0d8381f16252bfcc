package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Backup   BackupConfig
	Retry    RetryConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// BackupConfig holds snapshot storage settings.
type BackupConfig struct {
	Dir        string
	MaxBackups int `mapstructure:"max_backups"`
}

// RetryConfig holds conflict-retry settings for callers of the engine.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
}

// Load reads configuration from file and env. Env var overrides use prefix SISVENDAS_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "sisvendas", "erp.db"))
	v.SetDefault("backup.dir", filepath.Join(os.Getenv("HOME"), ".local", "share", "sisvendas", "backups"))
	v.SetDefault("backup.max_backups", 10)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_interval", 100*time.Millisecond)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("SISVENDAS_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "sisvendas"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SISVENDAS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Save writes the provided config to disk, creating the config directory if needed.
func Save(cfg Config) error {
	path := os.Getenv("SISVENDAS_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "sisvendas", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("backup.dir", cfg.Backup.Dir)
	v.Set("backup.max_backups", cfg.Backup.MaxBackups)
	v.Set("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.Set("retry.initial_interval", cfg.Retry.InitialInterval.String())

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
