// Package capacity is the distributed admission controller. Every live call
// holds one reservation on each of three counters: the per-tenant-per-minute
// admission window, the per-tenant concurrency count, and the global
// concurrency count. Counters live in the KV store so multiple runtime
// instances share them; TTLs bound the damage of a crashed coordinator.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	globalKey        = "cap:global"
	tenantKeyPrefix  = "cap:tenant:"
	tenantMinPrefix  = "cap:tenant_min:"
	perMinuteWindow  = time.Minute
	defaultSweepTick = time.Minute
)

// ErrDenied is the base class of all admission denials.
var ErrDenied = errors.New("capacity: denied")

// Denial reasons, each matchable with errors.Is against [ErrDenied].
var (
	ErrRateLimited      = fmt.Errorf("%w: rate_limited", ErrDenied)
	ErrTenantAtCapacity = fmt.Errorf("%w: tenant_at_capacity", ErrDenied)
	ErrSystemAtCapacity = fmt.Errorf("%w: system_at_capacity", ErrDenied)
)

// Reason returns the metric label for a denial error, or "" for other errors.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTenantAtCapacity):
		return "tenant_at_capacity"
	case errors.Is(err, ErrSystemAtCapacity):
		return "system_at_capacity"
	}
	return ""
}

// Counters is the KV command surface the controller needs. *redis.Client
// satisfies it; tests use an in-memory fake.
type Counters interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Caps bounds one admission. -1 on any scope means unlimited.
type Caps struct {
	PerMinute int
	Tenant    int
	Global    int
}

// Controller reserves and releases capacity. It also keeps a local table of
// live reservations so a background sweep can release calls whose
// coordinator never did.
//
// Controller is safe for concurrent use.
type Controller struct {
	counters Counters
	ttl      time.Duration

	mu   sync.Mutex
	live map[string]reservation // keyed by call ID
}

type reservation struct {
	tenantID  string
	startedAt time.Time
}

// New creates a Controller. ttl is the counter TTL and must be at least the
// maximum expected call duration.
func New(counters Counters, ttl time.Duration) *Controller {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Controller{
		counters: counters,
		ttl:      ttl,
		live:     make(map[string]reservation),
	}
}

// Reserve attempts admission for a call, checking the per-minute window,
// then the tenant concurrency cap, then the global cap. On denial all
// increments already taken are rolled back in reverse order and a wrapped
// [ErrDenied] is returned. On success the call holds one unit on each scope
// until [Controller.Release].
func (c *Controller) Reserve(ctx context.Context, tenantID, callID string, caps Caps) error {
	type scope struct {
		key    string
		cap    int
		ttl    time.Duration
		denial error
	}
	scopes := []scope{
		{key: tenantMinPrefix + tenantID, cap: caps.PerMinute, ttl: perMinuteWindow, denial: ErrRateLimited},
		{key: tenantKeyPrefix + tenantID, cap: caps.Tenant, ttl: c.ttl, denial: ErrTenantAtCapacity},
		{key: globalKey, cap: caps.Global, ttl: c.ttl, denial: ErrSystemAtCapacity},
	}

	var taken []scope
	rollback := func() {
		// Reverse order, best-effort. Rollback uses a background context so a
		// caller cancel cannot leak a reservation.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(taken) - 1; i >= 0; i-- {
			if err := c.counters.Decr(rbCtx, taken[i].key).Err(); err != nil {
				slog.Error("capacity rollback failed", "key", taken[i].key, "err", err)
			}
		}
	}

	for _, s := range scopes {
		if s.cap == -1 {
			continue
		}
		n, err := c.counters.Incr(ctx, s.key).Result()
		if err != nil {
			rollback()
			return fmt.Errorf("capacity: incr %s: %w", s.key, err)
		}
		taken = append(taken, s)
		if n == 1 {
			// First holder sets the TTL. A failed EXPIRE is tolerable: the
			// counter still works, it just leaks until the next restart.
			if err := c.counters.Expire(ctx, s.key, s.ttl).Err(); err != nil {
				slog.Warn("capacity expire failed", "key", s.key, "err", err)
			}
		}
		if n > int64(s.cap) {
			rollback()
			return fmt.Errorf("%w (tenant=%s)", s.denial, tenantID)
		}
	}

	c.mu.Lock()
	c.live[callID] = reservation{tenantID: tenantID, startedAt: time.Now()}
	c.mu.Unlock()
	return nil
}

// Release frees the call's tenant and global reservations. The per-minute
// window counter is an admission count and is left to expire on its own.
// Release is idempotent per call ID; releasing an unknown call is a no-op.
func (c *Controller) Release(ctx context.Context, callID string) {
	c.mu.Lock()
	res, ok := c.live[callID]
	if ok {
		delete(c.live, callID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, key := range []string{tenantKeyPrefix + res.tenantID, globalKey} {
		n, err := c.counters.Decr(rbCtx, key).Result()
		if err != nil {
			slog.Error("capacity release failed", "key", key, "call_id", callID, "err", err)
			continue
		}
		if n < 0 {
			// Counter TTL expired while the call was live; repair rather
			// than let the count sit negative.
			if err := c.counters.Incr(rbCtx, key).Err(); err != nil {
				slog.Error("capacity negative-count repair failed", "key", key, "err", err)
			}
		}
	}
}

// LiveCount reports the number of locally tracked reservations.
func (c *Controller) LiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// Sweep releases every tracked reservation older than the counter TTL. These
// are calls whose coordinator died without tearing down; their KV counters
// have expired or are about to, so only local state and best-effort
// decrements remain.
func (c *Controller) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-c.ttl)

	c.mu.Lock()
	var stale []string
	for callID, res := range c.live {
		if res.startedAt.Before(cutoff) {
			stale = append(stale, callID)
		}
	}
	c.mu.Unlock()

	for _, callID := range stale {
		slog.Warn("sweeping leaked capacity reservation", "call_id", callID)
		c.Release(ctx, callID)
	}
	return len(stale)
}

// RunSweeper runs Sweep every minute until ctx is cancelled.
func (c *Controller) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(ctx); n > 0 {
				slog.Info("capacity sweep released stale reservations", "count", n)
			}
		}
	}
}
