// Package resilience provides the retry and circuit-breaking primitives used
// by the STT, TTS, brain, and control-plane clients.
//
// The retry policy is deliberately small: transient failures (HTTP 5xx,
// connection resets, timeouts) are retried once with exponential backoff;
// everything else fails immediately. The caller's context deadline always
// wins over remaining attempts.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// DefaultBackoffBase is the base delay for the exponential backoff between
// attempts: attempt n sleeps base·2^n.
const DefaultBackoffBase = 250 * time.Millisecond

// HTTPStatusError marks an HTTP response status as the cause of a failure so
// [IsTransient] can classify it.
type HTTPStatusError struct {
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

// IsTransient reports whether err is worth retrying: HTTP 5xx, connection
// reset, timeout, or unexpected EOF. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Retry runs fn up to attempts times, sleeping base·2^n between attempts.
// Non-transient errors and context expiry stop the attempts immediately.
// The last error is returned when all attempts fail.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = DefaultBackoffBase
	}

	var lastErr error
	for n := range attempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if n == attempts-1 {
			break
		}

		delay := base << n
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
	return lastErr
}
