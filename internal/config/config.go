// Package config loads service configuration and sets up logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	API      APIConfig      `mapstructure:"api"`
	Settings SettingsConfig `mapstructure:"settings"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	AutoMark AutoMarkConfig `mapstructure:"automark"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// DatabaseConfig configures the sqlite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig configures the remote tracker API.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Debug   bool   `mapstructure:"debug"`
}

// SettingsConfig locates the live-reloaded user settings file.
type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig configures the slog output.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	MaxSize    int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AutoMarkConfig exposes the mark decision thresholds so a debug
// profile is a config edit, not a rebuild.
type AutoMarkConfig struct {
	RemainingThresholdSec float64 `mapstructure:"remaining_threshold_sec"`
	EndPercent            float64 `mapstructure:"end_percent"`
	MinWatchSecondsFloor  float64 `mapstructure:"min_watch_seconds_floor"`
	MinWatchPercent       float64 `mapstructure:"min_watch_percent"`
	MaxCountableDeltaSec  float64 `mapstructure:"max_countable_delta_sec"`
	ReportEverySec        float64 `mapstructure:"report_every_sec"`
}

// GetConfigDir returns the directory holding config.yaml.
func GetConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hyak-tracker")
	}
	return "."
}

// GetDataDir returns the directory for the database and settings file.
func GetDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "hyak-tracker")
}

func getStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8765")
	v.SetDefault("database.path", filepath.Join(GetDataDir(), "tracker.db"))
	v.SetDefault("api.base_url", "https://api-v5.hyakanime.fr")
	v.SetDefault("api.debug", false)
	v.SetDefault("settings.path", filepath.Join(GetDataDir(), "settings.json"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.color", true)
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("automark.remaining_threshold_sec", 30.0)
	v.SetDefault("automark.end_percent", 0.85)
	v.SetDefault("automark.min_watch_seconds_floor", 60.0)
	v.SetDefault("automark.min_watch_percent", 0.3)
	v.SetDefault("automark.max_countable_delta_sec", 1.25)
	v.SetDefault("automark.report_every_sec", 15.0)
}

// Load reads the config file (or defaults when it does not exist) and
// returns the parsed config together with the viper instance so the
// caller can watch for changes.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(GetConfigDir())
	}

	v.SetEnvPrefix("HYAK_TRACKER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, v, nil
}

// InitializeDirs creates the config and data directories.
func InitializeDirs() error {
	for _, dir := range []string{GetConfigDir(), GetDataDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
