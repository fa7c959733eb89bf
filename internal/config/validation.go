package config

import (
	"fmt"
	"time"

	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
)

// ValidateStructure performs logical validation the JSON schema cannot
// express: duration parsing, cross-field requirements, and enum checks that
// depend on other values. It fills the *Parsed duration fields as it goes and
// returns all errors found rather than stopping at the first.
func ValidateStructure(cfg *Config) []error {
	var errs []error

	parse := func(field, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, flowerrors.NewValidationError(fmt.Sprintf("field '%s' has invalid duration '%s'", field, value), err))
			return
		}
		if d < 0 {
			errs = append(errs, flowerrors.NewValidationError(fmt.Sprintf("field '%s' cannot be negative", field), nil))
			return
		}
		*dst = d
	}

	parse("defaults.throttle_window", cfg.Defaults.ThrottleWindow, &cfg.Defaults.ThrottleWindowParsed)
	parse("defaults.debounce_window", cfg.Defaults.DebounceWindow, &cfg.Defaults.DebounceWindowParsed)
	parse("defaults.retry.initial_delay", cfg.Defaults.Retry.InitialDelay, &cfg.Defaults.Retry.InitialDelayParsed)
	parse("defaults.retry.max_delay", cfg.Defaults.Retry.MaxDelay, &cfg.Defaults.Retry.MaxDelayParsed)
	parse("persistence.interval", cfg.Persistence.Interval, &cfg.Persistence.IntervalParsed)
	parse("connectivity.probe_timeout", cfg.Connectivity.ProbeTimeout, &cfg.Connectivity.ProbeTimeoutParsed)

	if m := cfg.Defaults.Retry.Multiplier; m != 0 && m < 1.0 {
		errs = append(errs, flowerrors.NewValidationError("field 'defaults.retry.multiplier' must be at least 1.0", nil))
	}
	if cfg.Events.BufferSize < 0 {
		errs = append(errs, flowerrors.NewValidationError("field 'events.buffer_size' cannot be negative", nil))
	}

	switch cfg.Persistence.Driver {
	case "", "file", "sqlite":
	default:
		errs = append(errs, flowerrors.NewValidationError(fmt.Sprintf("field 'persistence.driver' must be 'file' or 'sqlite', got '%s'", cfg.Persistence.Driver), nil))
	}
	if cfg.Persistence.Driver != "" && cfg.Persistence.Path == "" {
		errs = append(errs, flowerrors.NewValidationError("field 'persistence.path' is required when a persistence driver is set", nil))
	}

	if cfg.Connectivity.ProbeAddr == "" && cfg.Connectivity.ProbeTimeout != "" {
		errs = append(errs, flowerrors.NewValidationError("field 'connectivity.probe_timeout' requires 'connectivity.probe_addr'", nil))
	}

	return errs
}
