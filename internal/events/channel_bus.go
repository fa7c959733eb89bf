package events

import (
	"github.com/flowstate-labs/flowstate/internal/util"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/events"
	flowlog "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/log"
)

// ChannelEventBus implements the public events.Bus interface using a buffered
// Go channel. It provides a simple, in-process, decoupled telemetry stream.
// Its primary characteristic is non-blocking emission: a full buffer drops the
// event rather than stalling a dispatch.
type ChannelEventBus struct {
	channel chan events.Event
	log     flowlog.Logger
	// onDrop is invoked for every dropped event, if set. The metrics listener
	// wires its dropped-events counter here.
	onDrop func(events.Event)
}

// NewChannelEventBus creates a new ChannelEventBus with the specified buffer
// size. If bufferSize is non-positive, a default of 100 is used. Panics if the
// provided logger is nil.
func NewChannelEventBus(bufferSize int, log flowlog.Logger) *ChannelEventBus {
	const defaultBufferSize = 100
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelEventBus requires a non-nil logger")
	}

	bus := &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
	}
	bus.log.Debugf("ChannelEventBus initialized with buffer size %d", bufferSize)
	return bus
}

// SetDropHandler registers a callback for dropped events. Must be called
// before the bus is handed to emitters.
func (c *ChannelEventBus) SetDropHandler(fn func(events.Event)) {
	c.onDrop = fn
}

// Emit sends an event onto the internal buffered channel without blocking.
// The payload is deep-copied so consumers never share mutable data with the
// emitter. If the buffer is full the event is dropped and a warning logged.
func (c *ChannelEventBus) Emit(event events.Event) {
	if event.Payload != nil {
		event.Payload = util.CopyPayload(event.Payload)
	}
	select {
	case c.channel <- event:
		c.log.Debugf("Emitted event type '%s'", event.Type)
	default:
		c.log.Warnf("Event channel buffer full, dropping event type '%s'", event.Type)
		if c.onDrop != nil {
			c.onDrop(event)
		}
	}
}

// GetChannel returns the underlying event channel for consumers. It is not
// part of the public events.Bus interface; in-process listeners use it to
// consume events directly. The returned channel is read-only.
func (c *ChannelEventBus) GetChannel() <-chan events.Event {
	return c.channel
}

// Close closes the underlying event channel, signaling consumers that no more
// events will be sent.
func (c *ChannelEventBus) Close() {
	c.log.Debugf("Closing ChannelEventBus channel.")
	close(c.channel)
}

var _ events.Bus = (*ChannelEventBus)(nil)
