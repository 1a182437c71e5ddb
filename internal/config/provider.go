package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EarningsSource loads persisted earnings settings. It returns
// ErrSettingNotFound when nothing has been stored yet.
type EarningsSource interface {
	LoadEarningsConfig(ctx context.Context) (*EarningsConfig, error)
}

// EarningsProvider hands out the current earnings settings.
type EarningsProvider interface {
	Current(ctx context.Context) (*EarningsConfig, error)
	Refresh(ctx context.Context) error
}

// CachedProvider caches settings from a source for a fixed TTL. Reads may be
// stale by up to one TTL. When the source fails the last good value is
// served; the fallback is used only when the source has no settings at all.
type CachedProvider struct {
	source   EarningsSource
	fallback *EarningsConfig
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.RWMutex
	current  *EarningsConfig
	loadedAt time.Time
}

// NewCachedProvider creates a provider. fallback may be nil.
func NewCachedProvider(source EarningsSource, fallback *EarningsConfig, ttl time.Duration, logger zerolog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	p := &CachedProvider{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "EarningsProvider").Logger(),
	}
	if fallback != nil {
		if err := fallback.Validate(); err != nil {
			p.logger.Error().Err(err).Msg("Ignoring invalid fallback earnings settings")
		} else {
			p.fallback = fallback
		}
	}
	return p
}

// Current returns cached settings, refreshing them once the TTL has passed.
func (p *CachedProvider) Current(ctx context.Context) (*EarningsConfig, error) {
	p.mu.RLock()
	cfg, loadedAt := p.current, p.loadedAt
	p.mu.RUnlock()

	if cfg != nil && p.now().Sub(loadedAt) < p.ttl {
		return cfg, nil
	}

	if err := p.Refresh(ctx); err != nil {
		if cfg != nil {
			p.logger.Warn().Err(err).Time("loaded_at", loadedAt).Msg("Serving stale earnings settings")
			return cfg, nil
		}
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, nil
}

// Refresh reloads the settings from the source.
func (p *CachedProvider) Refresh(ctx context.Context) error {
	cfg, err := p.source.LoadEarningsConfig(ctx)
	switch {
	case errors.Is(err, ErrSettingNotFound):
		if p.fallback == nil {
			return fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
		}
		cfg = p.fallback
	case err != nil:
		return fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	default:
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
		}
	}

	p.mu.Lock()
	p.current = cfg
	p.loadedAt = p.now()
	p.mu.Unlock()

	p.logger.Debug().Msg("Earnings settings refreshed")
	return nil
}

// StaticProvider always returns the same settings.
type StaticProvider struct {
	cfg *EarningsConfig
}

// NewStaticProvider validates cfg and wraps it in a provider.
func NewStaticProvider(cfg *EarningsConfig) (*StaticProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StaticProvider{cfg: cfg}, nil
}

func (p *StaticProvider) Current(ctx context.Context) (*EarningsConfig, error) {
	return p.cfg, nil
}

func (p *StaticProvider) Refresh(ctx context.Context) error {
	return nil
}
