package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	didKeyPrefix = "tenantmap:did:"
	cfgKeyPrefix = "tenantcfg:"

	// defaultCacheTTL is deliberately short: config edits in the store
	// become visible within seconds without a restart.
	defaultCacheTTL = 10 * time.Second
)

// Store is the KV surface the resolver needs. *redis.Client satisfies it;
// tests use an in-memory fake.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Resolver maps dialed numbers to validated tenant configs with an
// in-process TTL cache. Safe for concurrent use; lookups are read-mostly.
type Resolver struct {
	store    Store
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry // keyed by normalized DID
}

type cacheEntry struct {
	cfg     *Config
	expires time.Time
}

// ResolverOption is a functional option for configuring a Resolver.
type ResolverOption func(*Resolver)

// WithCacheTTL overrides the in-process cache TTL. Defaults to 10 s.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		cacheTTL: defaultCacheTTL,
		cache:    make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve looks up the tenant config for a dialed number. It returns
// [ErrNotConfigured] (possibly wrapped) when the number is unmapped, the
// config is missing, the contract version is wrong, or schema validation
// fails. Successful lookups are cached.
func (r *Resolver) Resolve(ctx context.Context, did string) (*Config, error) {
	normalized, err := NormalizeDID(did)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}

	r.mu.RLock()
	entry, ok := r.cache[normalized]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.cfg, nil
	}

	cfg, err := r.load(ctx, normalized)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[normalized] = cacheEntry{cfg: cfg, expires: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()
	return cfg, nil
}

func (r *Resolver) load(ctx context.Context, did string) (*Config, error) {
	tenantID, err := r.store.Get(ctx, didKeyPrefix+did).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: no tenant mapped for %s", ErrNotConfigured, did)
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: lookup DID mapping: %w", err)
	}

	raw, err := r.store.Get(ctx, cfgKeyPrefix+tenantID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: tenant %s has no config", ErrNotConfigured, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: load config for %s: %w", tenantID, err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("%w: tenant %s config is not valid JSON: %w", ErrNotConfigured, tenantID, err)
	}
	if cfg.TenantID == "" {
		cfg.TenantID = tenantID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}

	slog.Debug("tenant config loaded", "tenant", cfg.TenantID, "did", did)
	return &cfg, nil
}

// Invalidate drops the cached entry for a dialed number, if any.
func (r *Resolver) Invalidate(did string) {
	normalized, err := NormalizeDID(did)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, normalized)
	r.mu.Unlock()
}
