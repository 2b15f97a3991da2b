package settings

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultTTL bounds how long a fetched configuration is served without refetching.
const DefaultTTL = 5 * time.Minute

// Source supplies the stored configuration, usually from the settings table.
type Source interface {
	Load(ctx context.Context) (StorageConfig, error)
}

// StaticSource always returns the same configuration.
type StaticSource StorageConfig

func (s StaticSource) Load(context.Context) (StorageConfig, error) {
	return StorageConfig(s), nil
}

type cachedConfig struct {
	config    StorageConfig
	fetchedAt time.Time
}

// Provider caches the last good configuration for a fixed TTL. Readers share one
// immutable snapshot; refreshes and Invalidate swap the pointer wholesale.
type Provider struct {
	source   Source
	ttl      time.Duration
	fallback func() StorageConfig
	now      func() time.Time
	logger   *slog.Logger

	cache atomic.Pointer[cachedConfig]
}

type ProviderOption func(*Provider)

func WithTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) { p.ttl = ttl }
}

// WithFallback replaces the environment-derived defaults.
func WithFallback(fn func() StorageConfig) ProviderOption {
	return func(p *Provider) { p.fallback = fn }
}

func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

func WithLogger(l *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

func NewProvider(source Source, opts ...ProviderOption) *Provider {
	p := &Provider{
		source:   source,
		ttl:      DefaultTTL,
		fallback: EnvDefaults,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the active configuration. It never fails: a fetch error falls back to
// the cached value while it is fresh, then to the environment defaults.
func (p *Provider) Get(ctx context.Context) StorageConfig {
	now := p.now()
	cached := p.cache.Load()
	if cached != nil && now.Sub(cached.fetchedAt) < p.ttl {
		return cached.config
	}

	if p.source != nil {
		cfg, err := p.source.Load(ctx)
		if err == nil {
			cfg = cfg.WithDefaults()
			p.cache.Store(&cachedConfig{config: cfg, fetchedAt: now})
			return cfg
		}
		p.logger.Warn("storage settings unavailable, falling back", "error", err)
	}

	// The cache may have been refreshed by a concurrent reader meanwhile.
	if cached = p.cache.Load(); cached != nil && now.Sub(cached.fetchedAt) < p.ttl {
		return cached.config
	}
	return p.fallback().WithDefaults()
}

// Invalidate drops the cached configuration. Callers that change the stored
// settings must invalidate before the next upload.
func (p *Provider) Invalidate() {
	p.cache.Store(nil)
}
