package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type statusErr struct {
	code int
}

func (e *statusErr) Error() string   { return fmt.Sprintf("upstream status %d", e.code) }
func (e *statusErr) HTTPStatus() int { return e.code }

func testPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		Timeout:      time.Second,
		InitialDelay: 10 * time.Millisecond,
		Base:         2.0,
		MaxDelay:     40 * time.Millisecond,
		Op:           "test",
		sleep:        func(time.Duration) {},
	}
}

func TestDoSucceedsAfterRetryableFailures(t *testing.T) {
	logger := zaptest.NewLogger(t)

	calls := 0
	factory := func() Operation[string] {
		return func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", &statusErr{code: 429}
			}
			return "goal", nil
		}
	}

	out, err := Do(context.Background(), testPolicy(3), factory, logger)
	require.NoError(t, err)
	assert.Equal(t, "goal", out)
	assert.Equal(t, 3, calls, "rate-limited twice then success should log exactly 3 attempts")
}

func TestDoNonRetryablePropagatesFirstAttempt(t *testing.T) {
	logger := zaptest.NewLogger(t)

	calls := 0
	boom := errors.New("invalid request payload")
	factory := func() Operation[string] {
		return func(ctx context.Context) (string, error) {
			calls++
			return "", boom
		}
	}

	_, err := Do(context.Background(), testPolicy(5), factory, logger)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	logger := zaptest.NewLogger(t)

	calls := 0
	factory := func() Operation[int] {
		return func(ctx context.Context) (int, error) {
			calls++
			return 0, &statusErr{code: 503}
		}
	}

	_, err := Do(context.Background(), testPolicy(2), factory, logger)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts, "maxRetries=2 means 3 total attempts")
	assert.Equal(t, 3, calls)

	var sc *statusErr
	assert.ErrorAs(t, err, &sc, "exhausted error should wrap the last failure")
}

func TestDoTimeoutIsNeverRetried(t *testing.T) {
	logger := zaptest.NewLogger(t)

	p := testPolicy(5)
	p.Timeout = 20 * time.Millisecond
	// Classifier that would retry anything, to prove timeouts bypass it.
	p.Retryable = func(error) bool { return true }

	calls := 0
	factory := func() Operation[string] {
		return func(ctx context.Context) (string, error) {
			calls++
			<-ctx.Done()
			return "", ctx.Err()
		}
	}

	_, err := Do(context.Background(), p, factory, logger)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, calls, "no attempt beyond the first on timeout")
	assert.Contains(t, err.Error(), "timed out")
}

func TestDoFreshOperationPerAttempt(t *testing.T) {
	logger := zaptest.NewLogger(t)

	factories := 0
	factory := func() Operation[string] {
		factories++
		n := factories
		return func(ctx context.Context) (string, error) {
			if n < 2 {
				return "", &statusErr{code: 500}
			}
			return "ok", nil
		}
	}

	out, err := Do(context.Background(), testPolicy(3), factory, logger)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, factories, "each attempt must come from a fresh factory call")
}

func TestDelayBackoffShape(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, Base: 2.0, MaxDelay: 45 * time.Millisecond}

	var prev time.Duration
	for i := 0; i < 6; i++ {
		d := p.Delay(i)
		assert.GreaterOrEqual(t, d, prev, "delays must be non-decreasing")
		assert.LessOrEqual(t, d, p.MaxDelay, "delays must be capped at MaxDelay")
		prev = d
	}
	assert.Equal(t, 10*time.Millisecond, p.Delay(0))
	assert.Equal(t, 20*time.Millisecond, p.Delay(1))
	assert.Equal(t, 40*time.Millisecond, p.Delay(2))
	assert.Equal(t, 45*time.Millisecond, p.Delay(3))
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit status", &statusErr{code: 429}, true},
		{"server error status", &statusErr{code: 500}, true},
		{"bad gateway status", &statusErr{code: 502}, true},
		{"unavailable status", &statusErr{code: 503}, true},
		{"gateway timeout status", &statusErr{code: 504}, true},
		{"client error status", &statusErr{code: 400}, false},
		{"unauthorized status", &statusErr{code: 401}, false},
		{"connection substring", errors.New("dial tcp: connection refused"), true},
		{"rate limit substring", errors.New("provider rate limit hit"), true},
		{"unavailable substring", errors.New("service unavailable, retrying later"), true},
		{"plain failure", errors.New("schema validation failed"), false},
		{"timeout type", &TimeoutError{Op: "x", Timeout: time.Second}, false},
		{"context deadline", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}
