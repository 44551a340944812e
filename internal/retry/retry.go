// Package retry provides a bounded retry-with-deadline primitive for calls to
// the external LLM service. Each attempt runs under its own deadline; deadline
// hits surface as *TimeoutError and are never retried. Transient failures are
// retried with exponential backoff until the attempt budget is spent.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/metrics"
)

// Operation is a single attempt. A fresh Operation is obtained from the
// factory for every attempt because the underlying call may not be safely
// replayable.
type Operation[T any] func(ctx context.Context) (T, error)

// Policy controls attempt count, per-attempt deadline, and backoff shape.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// total attempt budget is MaxRetries+1.
	MaxRetries int
	// Timeout is the per-attempt deadline.
	Timeout time.Duration
	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration
	// Base is the exponential backoff multiplier.
	Base float64
	// MaxDelay caps the backoff between attempts.
	MaxDelay time.Duration
	// Retryable overrides the default classifier when set.
	Retryable func(error) bool

	// Op names the operation in errors, logs, and metrics.
	Op string

	// sleep is overridable in tests.
	sleep func(time.Duration)
}

// DefaultPolicy returns the policy used for LLM calls when config supplies
// nothing more specific.
func DefaultPolicy(op string) Policy {
	return Policy{
		MaxRetries:   3,
		Timeout:      2 * time.Minute,
		InitialDelay: time.Second,
		Base:         2.0,
		MaxDelay:     30 * time.Second,
		Op:           op,
	}
}

// Delay returns the backoff before retry attempt n (0-indexed):
// min(InitialDelay * Base^n, MaxDelay). No jitter is applied.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Base
	}
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Do executes factory-produced attempts under the policy. It returns the
// first successful result, a *TimeoutError on any per-attempt deadline hit,
// a *ExhaustedError once the attempt budget is spent on retryable errors, or
// the original error unwrapped when it is not retryable.
func Do[T any](ctx context.Context, p Policy, factory func() Operation[T], logger *zap.Logger) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}
	classify := p.Retryable
	if classify == nil {
		classify = Retryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	attempts := p.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			logger.Debug("retrying operation",
				zap.String("op", p.Op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			sleep(delay)
		}

		metrics.LLMCallAttempts.WithLabelValues(p.Op).Inc()

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		result, err := factory()(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return result, nil
		}

		// A deadline hit on this attempt is a timeout, full stop. The parent
		// context being done is also terminal.
		if p.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Warn("operation timed out",
				zap.String("op", p.Op),
				zap.Duration("timeout", p.Timeout),
				zap.Int("attempt", attempt),
			)
			metrics.LLMCallFailures.WithLabelValues(p.Op, "timeout").Inc()
			return zero, &TimeoutError{Op: p.Op, Timeout: p.Timeout, Err: err}
		}
		var te *TimeoutError
		if errors.As(err, &te) {
			metrics.LLMCallFailures.WithLabelValues(p.Op, "timeout").Inc()
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if !classify(err) {
			metrics.LLMCallFailures.WithLabelValues(p.Op, "fatal").Inc()
			return zero, err
		}

		lastErr = err
		logger.Warn("retryable error",
			zap.String("op", p.Op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	metrics.LLMCallFailures.WithLabelValues(p.Op, "exhausted").Inc()
	return zero, &ExhaustedError{Op: p.Op, Attempts: attempts, Err: lastErr}
}
