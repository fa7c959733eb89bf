package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	flowerrors "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/errors"
	flowlog "github.com/flowstate-labs/flowstate/pkg/flowstate/v1/log"
)

// Operation is the retryable unit. attempt is zero-based so the operation can
// change behavior on re-invocation.
type Operation func(ctx context.Context, attempt int) error

// Config controls one retry loop.
type Config struct {
	// MaxRetries is the number of re-invocations after the first failure.
	// Negative means unlimited.
	MaxRetries int
	// InitialDelay is the wait before the first retry. The delay for retry n
	// (zero-based) is InitialDelay * Multiplier^n, capped at MaxDelay.
	InitialDelay time.Duration
	// Multiplier scales the delay per attempt. Values below 1 are treated as 1.
	Multiplier float64
	// MaxDelay caps the computed delay; zero means no cap.
	MaxDelay time.Duration
	// Jitter in [0,1] randomizes each delay by up to +/- Jitter fraction.
	Jitter float64
	// ActionType prefixes log lines so interleaved retry loops stay readable.
	ActionType string
	// OnRetry, if set, is called before each delay with the zero-based number
	// of the attempt that just failed, its error, and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Helper runs retry loops with exponential backoff. A single Helper is shared
// by all dispatches of a store; it carries no per-loop state.
type Helper struct {
	log        flowlog.Logger
	randSource *rand.Rand
}

func NewHelper(log flowlog.Logger) *Helper {
	if log == nil {
		panic("retry.NewHelper requires a non-nil logger")
	}
	return &Helper{
		log:        log,
		randSource: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do runs op until it succeeds, the retry budget is exhausted, or ctx is
// cancelled. It returns nil on success, ctx.Err() wrapped with the last
// operation error on cancellation, and the last operation error otherwise.
// The attempt count performed is reported through the second return value.
func (h *Helper) Do(ctx context.Context, cfg Config, op Operation) (int, error) {
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	if cfg.Jitter < 0.0 {
		cfg.Jitter = 0.0
	} else if cfg.Jitter > 1.0 {
		cfg.Jitter = 1.0
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.MaxDelay < 0 {
		cfg.MaxDelay = 0
	}

	logPrefix := ""
	if cfg.ActionType != "" {
		logPrefix = fmt.Sprintf("action=%s ", cfg.ActionType)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			h.log.Warnf("%sretry attempt %d cancelled before start: %v", logPrefix, attempt, ctx.Err())
			if lastErr == nil {
				return attempt, ctx.Err()
			}
			return attempt, fmt.Errorf("retry cancelled after %d attempts with last error: %w (context: %v)", attempt, lastErr, ctx.Err())
		default:
		}

		err := op(ctx, attempt)
		lastErr = err

		if err == nil {
			if attempt > 0 {
				h.log.Infof("%soperation succeeded on attempt %d", logPrefix, attempt+1)
			}
			return attempt + 1, nil
		}

		if cfg.MaxRetries >= 0 && attempt >= cfg.MaxRetries {
			h.log.Errorf("%soperation failed definitively after %d attempts: %v", logPrefix, attempt+1, err)
			return attempt + 1, lastErr
		}

		delay := h.delayFor(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		h.log.Warnf("%soperation failed on attempt %d (retrying in %v): %v",
			logPrefix, attempt+1, delay.Truncate(time.Millisecond), err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			h.log.Warnf("%sretry delay after attempt %d cancelled: %v", logPrefix, attempt+1, ctx.Err())
			return attempt + 1, fmt.Errorf("retry delay cancelled after attempt %d with error: %w (context: %v)", attempt+1, lastErr, ctx.Err())
		}
	}
}

// delayFor computes the backoff for the retry following the failing
// zero-based attempt.
func (h *Helper) delayFor(cfg Config, attempt int) time.Duration {
	base := float64(cfg.InitialDelay)
	if cfg.Multiplier > 1.0 && attempt > 0 {
		base *= math.Pow(cfg.Multiplier, float64(attempt))
	}
	if base > float64(math.MaxInt64) {
		base = float64(math.MaxInt64)
	}
	delay := time.Duration(base)

	if cfg.Jitter > 0.0 {
		jitterFactor := cfg.Jitter * (h.randSource.Float64()*2.0 - 1.0)
		delay += time.Duration(float64(delay) * jitterFactor)
		if delay < 0 {
			delay = 0
		}
	}

	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// WaitUntil blocks until probe reports true, rechecking with the configured
// backoff.
func (h *Helper) WaitUntil(ctx context.Context, cfg Config, probe func(ctx context.Context) bool) error {
	_, err := h.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		if probe(ctx) {
			return nil
		}
		return flowerrors.NewTimeoutError("condition probe")
	})
	return err
}
