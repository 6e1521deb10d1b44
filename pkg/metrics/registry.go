// Package metrics provides Prometheus metrics collection for the osshd
// server.
//
// All metrics are optional: if InitRegistry is never called, constructors
// return no-op implementations with zero overhead, so the server runs the
// same with or without metrics enabled.
//
// Usage:
//
//	metrics.InitRegistry()
//	srv, _ := server.New(cfg, auth, onDevice,
//	    server.WithMetrics(metrics.NewServerMetrics()))
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Safe to call
// multiple times; subsequent calls are ignored. If never called, metrics
// constructors return no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
