package prefetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/giro-sync/cache"
	"github.com/saiset-co/giro-sync/logger"
	"github.com/saiset-co/giro-sync/policy"
	"github.com/saiset-co/giro-sync/types"
)

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()

	store := cache.NewStore(context.Background(), logger.NewZapWrapper(zaptest.NewLogger(t)), policy.New())
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return store
}

func newTestScheduler(t *testing.T, store types.CacheStore, cfg *types.PrefetchConfig) *Scheduler {
	t.Helper()

	s := NewScheduler(context.Background(), logger.NewZapWrapper(zaptest.NewLogger(t)), store, cfg)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestScheduler_PrefetchWarmsMissingKey(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	s := newTestScheduler(t, store, nil)
	key := types.ListKey("banks", nil)

	var calls atomic.Int32
	fetch := func(context.Context) (interface{}, error) {
		calls.Add(1)
		return []string{"Banesco", "Mercantil"}, nil
	}

	s.Prefetch(context.Background(), key, fetch)
	s.Prefetch(context.Background(), key, fetch)

	assert.Equal(t, int32(1), calls.Load())
	entry, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, []string{"Banesco", "Mercantil"}, entry.Data)
}

func TestScheduler_PrefetchDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	s := newTestScheduler(t, store, nil)
	key := types.DetailKey("giros", "g1")

	store.Set(key, "cached")
	store.MarkStale(types.DetailOf("giros", "g1"))

	s.Prefetch(context.Background(), key, func(context.Context) (interface{}, error) {
		return "prefetched", nil
	})

	entry, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, "cached", entry.Data)
	assert.Equal(t, types.StateStale, entry.State)
}

func TestScheduler_PrefetchSwallowsErrors(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	s := newTestScheduler(t, store, nil)
	key := types.ListKey("exchange-rates", nil)

	assert.NotPanics(t, func() {
		s.Prefetch(context.Background(), key, func(context.Context) (interface{}, error) {
			return nil, errors.New("backend down")
		})
	})

	entry, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, types.StateError, entry.State)
}

func TestScheduler_ScheduleRunsInBackground(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	s := newTestScheduler(t, store, &types.PrefetchConfig{Workers: 2, QueueSize: 8})

	keys := []types.CacheKey{
		types.ListKey("giros", map[string]string{"page": "2"}),
		types.ListKey("giros", map[string]string{"page": "3"}),
		types.ListKey("minoristas", nil),
	}
	for _, key := range keys {
		value := key.String()
		require.True(t, s.Schedule(key, func(context.Context) (interface{}, error) {
			return value, nil
		}))
	}

	assert.Eventually(t, func() bool {
		for _, key := range keys {
			if _, ok := store.Get(key); !ok {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func TestScheduler_ScheduleDropsWhenFull(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	s := newTestScheduler(t, store, &types.PrefetchConfig{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	blocking := func(context.Context) (interface{}, error) {
		<-release
		return "done", nil
	}

	// The worker takes the first job and blocks; the run loop then holds the
	// second while waiting for a worker slot, which leaves one queue slot.
	require.True(t, s.Schedule(types.DetailKey("giros", "a"), blocking))
	assert.Eventually(t, func() bool { return len(s.queue) == 0 }, time.Second, time.Millisecond)

	require.True(t, s.Schedule(types.DetailKey("giros", "b"), blocking))
	assert.Eventually(t, func() bool { return len(s.queue) == 0 }, time.Second, time.Millisecond)
	require.True(t, s.Schedule(types.DetailKey("giros", "c"), blocking))

	assert.False(t, s.Schedule(types.DetailKey("giros", "d"), blocking))

	once.Do(func() { close(release) })
}

func TestScheduler_ScheduleAfterStop(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	s := NewScheduler(context.Background(), logger.NewZapWrapper(zaptest.NewLogger(t)), store, nil)

	assert.False(t, s.Schedule(types.ListKey("banks", nil), func(context.Context) (interface{}, error) {
		return nil, nil
	}))

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), types.ErrServerNotRunning)

	assert.False(t, s.Schedule(types.ListKey("banks", nil), func(context.Context) (interface{}, error) {
		return nil, nil
	}))
}
