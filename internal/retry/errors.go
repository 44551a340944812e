package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// TimeoutError indicates an attempt exceeded its deadline. Timeouts are
// terminal for the call: they are never retried, even if the underlying
// error would otherwise classify as transient.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ExhaustedError indicates all retry attempts failed on a retryable error.
// It wraps the last error observed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

var retryableStatuses = map[int]struct{}{
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

var transientIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"rate limit",
	"too many requests",
	"service unavailable",
	"temporarily unavailable",
	"server error",
	"overloaded",
	"try again",
	"eof",
}

// Retryable classifies an error as transient. Retryable errors trigger a new
// attempt; everything else propagates on first occurrence. Timeout errors are
// handled before classification and never reach this path during execution,
// but classify as non-retryable here for callers that probe directly.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		_, ok := retryableStatuses[sc.HTTPStatus()]
		return ok
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, ind := range transientIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}
