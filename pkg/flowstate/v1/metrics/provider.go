// Package metrics defines the public metrics provider interface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegistryProvider defines the interface for accessing the store's metrics
// registry. This allows consumers to expose flowstate metrics through their
// own Prometheus setup (e.g. an existing /metrics endpoint).
type RegistryProvider interface {
	// Registry returns the underlying Prometheus registry.
	Registry() *prometheus.Registry
}
