package config

import (
	"strings"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Server and auth defaults are applied by their own package
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyInventoryDefaults(&cfg.Inventory)
	applyMetricsDefaults(&cfg.Metrics)

	// The daemon always listens on a concrete port; ephemeral binding is
	// only for embedded use.
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 2200
	}
	cfg.Server.ApplyDefaults()
	cfg.Auth.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyInventoryDefaults sets inventory store defaults.
func applyInventoryDefaults(cfg *InventoryConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Type == "badger" && cfg.Badger.Path == "" {
		cfg.Badger.Path = "./osshd-inventory"
	}
}

// applyMetricsDefaults sets metrics endpoint defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.ListenAddress == "" {
		cfg.ListenAddress = ":9090"
	}
}
