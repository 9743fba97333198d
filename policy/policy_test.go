package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/giro-sync/logger"
	"github.com/saiset-co/giro-sync/types"
)

func TestPolicy_TierFor(t *testing.T) {
	t.Parallel()

	p := New(WithKinds(map[types.EntityKind]types.TierName{
		"giros":      types.TierVolatile,
		"banks":      types.TierLowPriority,
		"currencies": types.TierStatic,
	}))

	tests := []struct {
		kind      types.EntityKind
		tier      types.TierName
		staleTime time.Duration
		gcTime    time.Duration
	}{
		{kind: "giros", tier: types.TierVolatile, staleTime: 30 * time.Second, gcTime: 5 * time.Minute},
		{kind: "banks", tier: types.TierLowPriority, staleTime: 24 * time.Hour, gcTime: 24 * time.Hour},
		{kind: "currencies", tier: types.TierStatic, staleTime: types.Forever, gcTime: types.Forever},
		{kind: "unregistered", tier: types.TierNormal, staleTime: 5 * time.Minute, gcTime: 10 * time.Minute},
	}

	for _, tt := range tests {
		tier := p.TierFor(tt.kind)
		assert.Equal(t, tt.tier, tier.Name, string(tt.kind))
		assert.Equal(t, tt.staleTime, tier.StaleTime, string(tt.kind))
		assert.Equal(t, tt.gcTime, tier.GCTime, string(tt.kind))
	}
}

func TestPolicy_VolatileBoundary(t *testing.T) {
	t.Parallel()

	tier := New(WithKinds(map[types.EntityKind]types.TierName{"giros": types.TierVolatile})).TierFor("giros")
	fetchedAt := time.Unix(1_700_000_000, 0)

	assert.False(t, tier.IsStaleAt(fetchedAt, fetchedAt.Add(29*time.Second)))
	assert.True(t, tier.IsStaleAt(fetchedAt, fetchedAt.Add(31*time.Second)))
}

func TestPolicy_StaticNeverExpires(t *testing.T) {
	t.Parallel()

	tier := New().TierFor("x")
	static, ok := New().Tier(types.TierStatic)
	require.True(t, ok)

	far := time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour)
	assert.False(t, static.IsStaleAt(time.Unix(0, 0), far))
	assert.False(t, static.IsCollectableAt(time.Unix(0, 0), far))
	assert.True(t, tier.IsCollectableAt(time.Unix(0, 0), far))
}

func TestPolicy_FromConfig(t *testing.T) {
	t.Parallel()

	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	defaults := map[types.EntityKind]types.TierName{
		"giros": types.TierVolatile,
		"users": types.TierNormal,
	}

	p := FromConfig(log, defaults,
		&types.CacheConfig{DefaultTier: types.TierLowPriority},
		&types.StalenessConfig{
			Tiers: map[types.TierName]types.TierConfig{
				types.TierVolatile: {StaleTime: 10 * time.Second},
				types.TierNormal:   {GCTime: -1},
			},
			Kinds: map[types.EntityKind]types.TierName{
				"users":   types.TierStatic,
				"unknown": "made-up",
			},
		})

	giros := p.TierFor("giros")
	assert.Equal(t, 10*time.Second, giros.StaleTime)
	assert.Equal(t, 5*time.Minute, giros.GCTime)

	assert.Equal(t, types.TierStatic, p.TierFor("users").Name)
	assert.Equal(t, types.TierLowPriority, p.TierFor("unknown").Name)
	assert.Equal(t, types.TierLowPriority, p.TierFor("other").Name)

	normal, ok := p.Tier(types.TierNormal)
	require.True(t, ok)
	assert.Equal(t, types.Forever, normal.GCTime)
}
