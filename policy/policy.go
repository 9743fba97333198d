// Package policy assigns staleness tiers to entity kinds.
package policy

import (
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/types"
)

// DefaultTiers returns the built-in tier horizons.
func DefaultTiers() map[types.TierName]types.Tier {
	return map[types.TierName]types.Tier{
		types.TierVolatile:    {Name: types.TierVolatile, StaleTime: 30 * time.Second, GCTime: 5 * time.Minute},
		types.TierNormal:      {Name: types.TierNormal, StaleTime: 5 * time.Minute, GCTime: 10 * time.Minute},
		types.TierLowPriority: {Name: types.TierLowPriority, StaleTime: 24 * time.Hour, GCTime: 24 * time.Hour},
		types.TierStatic:      {Name: types.TierStatic, StaleTime: types.Forever, GCTime: types.Forever},
	}
}

// Policy is immutable once built; lookups need no locking.
type Policy struct {
	tiers       map[types.TierName]types.Tier
	kinds       map[types.EntityKind]types.TierName
	defaultTier types.TierName
}

type Option func(*Policy)

// WithKinds assigns tiers to kinds. Later assignments win.
func WithKinds(kinds map[types.EntityKind]types.TierName) Option {
	return func(p *Policy) {
		for kind, tier := range kinds {
			p.kinds[kind] = tier
		}
	}
}

func WithDefaultTier(tier types.TierName) Option {
	return func(p *Policy) {
		if tier != "" {
			p.defaultTier = tier
		}
	}
}

// WithTierOverrides adjusts horizons. Zero keeps the current value, negative means forever.
func WithTierOverrides(overrides map[types.TierName]types.TierConfig) Option {
	return func(p *Policy) {
		for name, override := range overrides {
			tier, exists := p.tiers[name]
			if !exists {
				tier = p.tiers[types.TierNormal]
				tier.Name = name
			}
			tier.StaleTime = applyOverride(tier.StaleTime, override.StaleTime)
			tier.GCTime = applyOverride(tier.GCTime, override.GCTime)
			p.tiers[name] = tier
		}
	}
}

func applyOverride(current, override time.Duration) time.Duration {
	switch {
	case override < 0:
		return types.Forever
	case override == 0:
		return current
	default:
		return override
	}
}

func New(opts ...Option) *Policy {
	p := &Policy{
		tiers:       DefaultTiers(),
		kinds:       make(map[types.EntityKind]types.TierName),
		defaultTier: types.TierNormal,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// FromConfig builds the policy from the staleness and cache sections. The
// domain defaults come first so the configuration can override them.
func FromConfig(logger types.Logger, defaults map[types.EntityKind]types.TierName, cacheConfig *types.CacheConfig, config *types.StalenessConfig) *Policy {
	opts := []Option{WithKinds(defaults)}

	if cacheConfig != nil {
		opts = append(opts, WithDefaultTier(cacheConfig.DefaultTier))
	}
	if config != nil {
		opts = append(opts, WithTierOverrides(config.Tiers), WithKinds(config.Kinds))
	}

	p := New(opts...)

	for kind, tier := range p.kinds {
		if _, exists := p.tiers[tier]; !exists {
			logger.Warn("Unknown tier assigned, falling back to default",
				zap.String("kind", string(kind)),
				zap.String("tier", string(tier)),
				zap.String("default", string(p.defaultTier)))
		}
	}

	logger.Debug("Staleness policy built",
		zap.Int("kinds", len(p.kinds)),
		zap.Int("tiers", len(p.tiers)),
		zap.String("default_tier", string(p.defaultTier)))

	return p
}

func (p *Policy) TierFor(kind types.EntityKind) types.Tier {
	if name, exists := p.kinds[kind]; exists {
		if tier, ok := p.tiers[name]; ok {
			return tier
		}
	}
	if tier, ok := p.tiers[p.defaultTier]; ok {
		return tier
	}
	return p.tiers[types.TierNormal]
}

func (p *Policy) Tier(name types.TierName) (types.Tier, bool) {
	tier, ok := p.tiers[name]
	return tier, ok
}
