package config

import "time"

// Config is the root of a flowstate store configuration file. All sections
// are optional; zero values fall back to built-in defaults. Durations are
// written as Go duration strings ("500ms", "2s") and parsed during logical
// validation into the corresponding *Parsed fields.
type Config struct {
	// SchemaVersion gates compatibility. Only major version v1 is accepted.
	SchemaVersion string `yaml:"schemaVersion"`

	Logging      LoggingConfig      `yaml:"logging,omitempty"`
	Events       EventsConfig       `yaml:"events,omitempty"`
	Defaults     DefaultsConfig     `yaml:"defaults,omitempty"`
	Persistence  PersistenceConfig  `yaml:"persistence,omitempty"`
	Connectivity ConnectivityConfig `yaml:"connectivity,omitempty"`
	Metrics      MetricsConfig      `yaml:"metrics,omitempty"`
	Tracing      TracingConfig      `yaml:"tracing,omitempty"`

	// FilePath records where the config was loaded from, for error messages.
	FilePath string `yaml:"-"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`
	// Format is text or json.
	Format string `yaml:"format,omitempty"`
}

type EventsConfig struct {
	// BufferSize sizes the telemetry bus channel. Zero uses the bus default.
	BufferSize int `yaml:"buffer_size,omitempty"`
}

// DefaultsConfig overrides the built-in capability defaults for every action
// dispatched through the configured store.
type DefaultsConfig struct {
	ThrottleWindow string      `yaml:"throttle_window,omitempty"`
	DebounceWindow string      `yaml:"debounce_window,omitempty"`
	Retry          RetryConfig `yaml:"retry,omitempty"`

	ThrottleWindowParsed time.Duration `yaml:"-"`
	DebounceWindowParsed time.Duration `yaml:"-"`
}

type RetryConfig struct {
	MaxRetries   int     `yaml:"max_retries,omitempty"`
	InitialDelay string  `yaml:"initial_delay,omitempty"`
	Multiplier   float64 `yaml:"multiplier,omitempty"`
	MaxDelay     string  `yaml:"max_delay,omitempty"`

	InitialDelayParsed time.Duration `yaml:"-"`
	MaxDelayParsed     time.Duration `yaml:"-"`
}

type PersistenceConfig struct {
	// Driver selects the adapter: "file" or "sqlite". Empty disables
	// persistence.
	Driver string `yaml:"driver,omitempty"`
	// Path is the snapshot file or database file location.
	Path string `yaml:"path,omitempty"`
	// Interval throttles snapshot writes. Zero writes on every commit.
	Interval string `yaml:"interval,omitempty"`

	IntervalParsed time.Duration `yaml:"-"`
}

type ConnectivityConfig struct {
	// ProbeAddr is the TCP address dialed to judge online state. Empty means
	// the store assumes it is always online.
	ProbeAddr string `yaml:"probe_addr,omitempty"`
	// ProbeTimeout bounds each dial attempt.
	ProbeTimeout string `yaml:"probe_timeout,omitempty"`

	ProbeTimeoutParsed time.Duration `yaml:"-"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}
