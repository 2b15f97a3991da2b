package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

// New builds the adapter for cfg.Variant.
func New(ctx context.Context, cfg settings.StorageConfig, logger *slog.Logger) (Adapter, error) {
	switch cfg.Variant {
	case settings.VariantLocal:
		return NewLocalStorage(cfg, logger)
	case settings.VariantS3:
		return NewS3Storage(ctx, cfg, logger)
	case settings.VariantWebDAV:
		return NewWebDAVStorage(ctx, cfg, logger)
	default:
		return nil, &settings.ConfigError{Issues: []string{fmt.Sprintf("unsupported storage variant %q", cfg.Variant)}}
	}
}

// Factory constructs an adapter for a configuration.
type Factory func(ctx context.Context, cfg settings.StorageConfig) (Adapter, error)

// Selector resolves the adapter once per distinct configuration and hands the same
// instance to every caller until the configuration changes.
type Selector struct {
	factory Factory

	mu      sync.Mutex
	cfg     settings.StorageConfig
	current Adapter
}

func NewSelector(factory Factory) *Selector {
	return &Selector{factory: factory}
}

// DefaultSelector builds adapters with New.
func DefaultSelector(logger *slog.Logger) *Selector {
	return NewSelector(func(ctx context.Context, cfg settings.StorageConfig) (Adapter, error) {
		return New(ctx, cfg, logger)
	})
}

func (s *Selector) Adapter(ctx context.Context, cfg settings.StorageConfig) (Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.cfg == cfg {
		return s.current, nil
	}
	if v := settings.Validate(cfg); !v.IsValid {
		return nil, &settings.ConfigError{Issues: v.Issues}
	}
	a, err := s.factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.cfg, s.current = cfg, a
	return a, nil
}
