package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects how the delay grows between attempts.
type BackoffStrategy int

const (
	BackoffExponential BackoffStrategy = iota
	BackoffLinear
	BackoffConstant
)

// RetryConfig configures a Retry. Zero fields take the defaults applied by
// NewRetry: 3 attempts, 100ms initial delay, 30s cap, multiplier 2,
// exponential backoff.
type RetryConfig struct {
	MaxAttempts  int             `yaml:"max_attempts"` // includes the first call
	InitialDelay time.Duration   `yaml:"initial_delay"`
	MaxDelay     time.Duration   `yaml:"max_delay"`
	Multiplier   float64         `yaml:"multiplier"`
	Strategy     BackoffStrategy `yaml:"strategy"`

	// Jitter adds up to 25% to each delay.
	Jitter bool `yaml:"jitter"`

	// RetryIf reports whether err is worth another attempt. Default: any error.
	RetryIf func(err error) bool `yaml:"-"`

	// OnRetry observes each scheduled retry.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// Retry runs an operation with backoff between failed attempts.
type Retry struct {
	config RetryConfig
}

// NewRetry applies defaults to zero fields of config.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}

	return &Retry{config: config}
}

// Execute runs op until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done.
//
// Non-retryable errors are returned unchanged. Exhaustion returns
// ErrMaxRetriesExceeded wrapping the last error.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.RetryIf(err) {
			return err
		}
		if attempt >= r.config.MaxAttempts {
			break
		}

		delay := r.calculateDelay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, r.config.MaxAttempts, lastErr)
}

func (r *Retry) calculateDelay(attempt int) time.Duration {
	var delay time.Duration

	switch r.config.Strategy {
	case BackoffConstant:
		delay = r.config.InitialDelay
	case BackoffLinear:
		delay = r.config.InitialDelay * time.Duration(attempt)
	default:
		multiplier := math.Pow(r.config.Multiplier, float64(attempt-1))
		delay = time.Duration(float64(r.config.InitialDelay) * multiplier)
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}

	if r.config.Jitter && delay >= 4 {
		// #nosec G404
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}

	return delay
}

// Config returns the effective configuration.
func (r *Retry) Config() RetryConfig { return r.config }
