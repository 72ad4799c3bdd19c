package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Allow] while the breaker is open
// and the cooldown has not elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// Breaker is a two-state circuit breaker for best-effort side channels such
// as control-plane reporting. After MaxFailures consecutive failures it
// rejects calls for Cooldown, then lets a single probe through; a probe
// success closes it again.
//
// It intentionally has no half-open probe budget: the callers it protects
// are fire-and-forget reporters where one probe per cooldown is enough.
//
// Breaker is safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
}

// NewBreaker creates a Breaker. Zero-value knobs get defaults: 5 consecutive
// failures to open, 30 s cooldown.
func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{name: name, maxFailures: maxFailures, cooldown: cooldown}
}

// Allow reports whether a call may proceed. While open it returns
// [ErrBreakerOpen] until the cooldown elapses, after which one probe call is
// admitted per cooldown window.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	if time.Since(b.openedAt) < b.cooldown {
		return ErrBreakerOpen
	}
	// Admit a probe; push the window forward so concurrent callers don't
	// all probe at once.
	b.openedAt = time.Now()
	return nil
}

// MarkSuccess records a successful call, closing the breaker.
func (b *Breaker) MarkSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		slog.Info("breaker closed", "name", b.name)
	}
	b.open = false
	b.failures = 0
}

// MarkFailure records a failed call, opening the breaker once the
// consecutive failure threshold is reached.
func (b *Breaker) MarkFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if !b.open && b.failures >= b.maxFailures {
		b.open = true
		b.openedAt = time.Now()
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && time.Since(b.openedAt) < b.cooldown
}
