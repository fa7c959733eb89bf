package events

import (
	"context"
	"time"

	"github.com/flowstate-labs/flowstate/internal/metrics"
	"github.com/flowstate-labs/flowstate/pkg/flowstate/v1/events"
	flowlog "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/log"
)

// MetricsEventListener subscribes to a store's event bus and updates the
// Prometheus dispatch metrics based on the events it receives. Keeping the
// metric updates on the consumer side of the bus keeps the dispatch path free
// of Prometheus calls.
type MetricsEventListener struct {
	bus *ChannelEventBus
	log flowlog.Logger
	m   *metrics.DispatchMetrics
}

// NewMetricsEventListener creates a new listener. It registers the bus drop
// handler so dropped telemetry is itself counted.
func NewMetricsEventListener(bus *ChannelEventBus, m *metrics.DispatchMetrics, log flowlog.Logger) *MetricsEventListener {
	if bus == nil || m == nil || log == nil {
		panic("MetricsEventListener requires a non-nil ChannelEventBus, DispatchMetrics, and Logger")
	}
	bus.SetDropHandler(func(events.Event) {
		m.EventsDroppedTotal.Inc()
	})
	return &MetricsEventListener{
		bus: bus,
		log: log.With("component", "MetricsEventListener"),
		m:   m,
	}
}

// Start begins listening for events on the bus. It blocks until the bus
// channel is closed or ctx is done, so callers run it on its own goroutine.
func (l *MetricsEventListener) Start(ctx context.Context) {
	l.log.Debugf("Starting metrics event listener...")
	for {
		select {
		case event, ok := <-l.bus.GetChannel():
			if !ok {
				l.log.Debugf("Event bus channel closed, stopping listener.")
				return
			}
			l.handleEvent(event)
		case <-ctx.Done():
			l.log.Debugf("Context cancelled, stopping metrics event listener.")
			return
		}
	}
}

// handleEvent processes a single event, incrementing metrics as needed.
func (l *MetricsEventListener) handleEvent(event events.Event) {
	switch event.Type {
	case events.DispatchEnd:
		status, _ := event.Payload["status"].(string)
		l.m.DispatchesTotal.WithLabelValues(event.ActionType, status).Inc()
		if d, ok := event.Payload["duration"].(time.Duration); ok {
			l.m.DispatchDuration.Observe(d.Seconds())
		}
	case events.DispatchAborted:
		l.m.DispatchesTotal.WithLabelValues(event.ActionType, "aborted").Inc()
	case events.RetryAttempt:
		l.m.RetryAttemptsTotal.Inc()
	case events.OptimisticRollback:
		l.m.OptimisticRollbacks.Inc()
	case events.ServerPushApplied:
		l.m.ServerPushesApplied.Inc()
	case events.ServerPushDiscarded:
		l.m.ServerPushesDropped.Inc()
	case events.PersistWrite:
		l.m.PersistWritesTotal.Inc()
	case events.PersistError:
		l.m.PersistErrorsTotal.Inc()
	}
}
