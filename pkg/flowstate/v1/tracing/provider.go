// Package tracing defines the public tracer provider interface.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider defines the interface for accessing the store's tracer
// provider. This allows consumers of the flowstate library to integrate its
// per-dispatch spans with an existing OpenTelemetry setup or to provide
// custom implementations.
type TracerProvider interface {
	// GetTracer returns a Tracer instance with the specified name and options.
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown gracefully shuts down the tracer provider, flushing any
	// buffered spans. Implementations should handle cases where shutdown is
	// not applicable (e.g. a NoOp provider).
	Shutdown(ctx context.Context) error
}
