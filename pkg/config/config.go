// Package config loads and validates the osshd configuration from file,
// environment, and defaults.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (OSSHD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/osshkit/osshd/pkg/server"
)

// Config is the complete osshd configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains the listener and pipeline settings.
	// Uses the server.Config type directly to avoid duplication.
	Server server.Config `mapstructure:"server"`

	// Auth contains the credentials devices authenticate with
	Auth server.AuthConfig `mapstructure:"auth"`

	// Inventory selects where gathered device facts are stored
	Inventory InventoryConfig `mapstructure:"inventory"`

	// Metrics controls the optional Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// InventoryConfig selects the facts store implementation.
type InventoryConfig struct {
	// Type specifies which store to use.
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific settings, used when Type = "badger"
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig configures the BadgerDB-backed inventory store.
type BadgerConfig struct {
	// Path is the database directory
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled"`

	// ListenAddress is the address of the metrics HTTP endpoint
	ListenAddress string `mapstructure:"listen_address"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to a config file; empty uses defaults and environment
//     only (a missing default file is not an error)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variable support and the config file
// location. Environment variables use the OSSHD_ prefix with underscores,
// e.g. OSSHD_SERVER_PORT=2200.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("OSSHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/osshd")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file, tolerating a missing file only when
// no explicit path was given.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && configPath == "" {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
