package metrics

import (
	flowmetrics "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRegistryProvider implements the RegistryProvider interface
// using a standard Prometheus registry.
type PrometheusRegistryProvider struct {
	registry *prometheus.Registry
}

// NewPrometheusRegistryProvider creates a new metrics provider backed by Prometheus.
func NewPrometheusRegistryProvider() *PrometheusRegistryProvider {
	return &PrometheusRegistryProvider{
		registry: prometheus.NewRegistry(),
	}
}

// Registry returns the underlying Prometheus registry.
func (p *PrometheusRegistryProvider) Registry() *prometheus.Registry {
	return p.registry
}

var _ flowmetrics.RegistryProvider = (*PrometheusRegistryProvider)(nil)

// DispatchMetrics is the store's metric bundle, registered once per store on
// the configured registry and updated by the telemetry event listener.
type DispatchMetrics struct {
	DispatchesTotal      *prometheus.CounterVec
	DispatchDuration     prometheus.Histogram
	RetryAttemptsTotal   prometheus.Counter
	OptimisticRollbacks  prometheus.Counter
	ServerPushesApplied  prometheus.Counter
	ServerPushesDropped  prometheus.Counter
	EventsDroppedTotal   prometheus.Counter
	PersistWritesTotal   prometheus.Counter
	PersistErrorsTotal   prometheus.Counter
}

// NewDispatchMetrics builds and registers the metric bundle. Registration
// errors surface immediately since a store owns its registry.
func NewDispatchMetrics(reg *prometheus.Registry) (*DispatchMetrics, error) {
	m := &DispatchMetrics{
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstate_dispatches_total",
			Help: "Total dispatches by action type and terminal status.",
		}, []string{"type", "status"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowstate_dispatch_duration_seconds",
			Help:    "Wall time from dispatch acceptance to terminal outcome.",
			Buckets: prometheus.DefBuckets,
		}),
		RetryAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_retry_attempts_total",
			Help: "Total reduce re-invocations performed by retry capabilities.",
		}),
		OptimisticRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_optimistic_rollbacks_total",
			Help: "Total optimistic values rolled back after a failed commit or push.",
		}),
		ServerPushesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_server_pushes_applied_total",
			Help: "Total external server pushes applied to the state.",
		}),
		ServerPushesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_server_pushes_discarded_total",
			Help: "Total external server pushes discarded as stale by revision.",
		}),
		EventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_events_dropped_total",
			Help: "Total telemetry events dropped due to a full bus channel.",
		}),
		PersistWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_persist_writes_total",
			Help: "Total state snapshots written by the persistence layer.",
		}),
		PersistErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowstate_persist_errors_total",
			Help: "Total persistence write failures.",
		}),
	}

	collectors := []prometheus.Collector{
		m.DispatchesTotal,
		m.DispatchDuration,
		m.RetryAttemptsTotal,
		m.OptimisticRollbacks,
		m.ServerPushesApplied,
		m.ServerPushesDropped,
		m.EventsDroppedTotal,
		m.PersistWritesTotal,
		m.PersistErrorsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
