package events

import "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/events"

// NoOpEventBus is the default implementation of the public events.Bus
// interface. It performs no actions when Emit is called, so components can
// emit telemetry unconditionally even when no bus was configured.
type NoOpEventBus struct{}

// NewNoOpEventBus creates a new instance of the NoOpEventBus.
func NewNoOpEventBus() events.Bus {
	return &NoOpEventBus{}
}

// Emit implements the events.Bus interface method.
func (n *NoOpEventBus) Emit(event events.Event) {
	// Intentionally does nothing.
}

var _ events.Bus = (*NoOpEventBus)(nil)
