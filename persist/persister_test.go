package persist

import (
	"context"
	"sync"
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

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type giro struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

func newTestStore(t *testing.T, clock *testClock) *cache.Store {
	t.Helper()

	p := policy.New(policy.WithKinds(map[types.EntityKind]types.TierName{
		"giros":      types.TierVolatile,
		"banks":      types.TierLowPriority,
		"currencies": types.TierStatic,
	}))

	store := cache.NewStore(context.Background(), logger.NewZapWrapper(zaptest.NewLogger(t)), p, cache.WithClock(clock.Now))
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return store
}

func TestPersister_RoundTrip(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	backend := NewMemoryBackend(log)

	source := newTestStore(t, clock)
	giroKey := types.DetailKey("giros", "g1")
	listKey := types.ListKey("giros", map[string]string{"status": "pending", "page": "1"})
	currencyKey := types.ListKey("currencies", nil)

	source.Set(giroKey, giro{ID: "g1", Amount: 150})
	source.Set(listKey, []giro{{ID: "g1", Amount: 150}, {ID: "g2", Amount: 80}})
	source.Set(currencyKey, []string{"USD", "VES", "COP"})

	written, err := NewPersister(log, backend, source, WithClock(clock.Now)).Persist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	clock.Advance(time.Second)
	target := newTestStore(t, clock)
	restored, err := NewPersister(log, backend, target, WithClock(clock.Now)).Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, restored)

	g, ok := cache.Peek[giro](target, giroKey)
	require.True(t, ok)
	assert.Equal(t, giro{ID: "g1", Amount: 150}, g)

	list, ok := cache.Peek[[]giro](target, types.ListKey("giros", map[string]string{"page": "1", "status": "pending"}))
	require.True(t, ok)
	assert.Len(t, list, 2)

	entry, ok := target.Get(giroKey)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(-time.Second), entry.FetchedAt)
	assert.Equal(t, types.StateFresh, entry.State)
}

func TestPersister_DiscardsExpiredRecords(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	backend := NewMemoryBackend(log)

	source := newTestStore(t, clock)
	source.Set(types.DetailKey("giros", "g1"), giro{ID: "g1"})
	source.Set(types.ListKey("banks", nil), []string{"Banesco"})
	source.Set(types.ListKey("currencies", nil), []string{"USD"})

	_, err := NewPersister(log, backend, source, WithClock(clock.Now)).Persist(context.Background())
	require.NoError(t, err)

	// Past the volatile GC horizon (5m) but within low-priority (24h).
	clock.Advance(10 * time.Minute)

	target := newTestStore(t, clock)
	restored, err := NewPersister(log, backend, target, WithClock(clock.Now)).Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	_, ok := target.Get(types.DetailKey("giros", "g1"))
	assert.False(t, ok)
	_, ok = target.Get(types.ListKey("banks", nil))
	assert.True(t, ok)

	records, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, record := range records {
		assert.NotEqual(t, RecordID(types.DetailKey("giros", "g1")), record.ID)
	}
}

func TestPersister_RestoreKeepsNewerData(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	backend := NewMemoryBackend(log)
	key := types.ListKey("banks", nil)

	source := newTestStore(t, clock)
	source.Set(key, []string{"old"})
	_, err := NewPersister(log, backend, source, WithClock(clock.Now)).Persist(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Minute)
	target := newTestStore(t, clock)
	target.Set(key, []string{"new"})

	restored, err := NewPersister(log, backend, target, WithClock(clock.Now)).Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, restored)

	banks, ok := cache.Peek[[]string](target, key)
	require.True(t, ok)
	assert.Equal(t, []string{"new"}, banks)
}

func TestPersister_BrokenRecordsAreDeleted(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	backend := NewMemoryBackend(log)

	payload, err := encodeRecord(&record{Key: types.DetailKey("giros", "g1"), Data: "x", FetchedAt: clock.Now()})
	require.NoError(t, err)

	require.NoError(t, backend.Replace(context.Background(), []StoredRecord{
		{ID: "garbage", Payload: []byte("not brotli")},
		{ID: "wrong-id", Payload: payload},
	}))

	target := newTestStore(t, clock)
	restored, err := NewPersister(log, backend, target, WithClock(clock.Now)).Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
	assert.Equal(t, 0, target.Len())

	records, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPersister_PersistReplacesSnapshotAndClear(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	backend := NewMemoryBackend(log)

	store := newTestStore(t, clock)
	persister := NewPersister(log, backend, store, WithClock(clock.Now))

	store.Set(types.DetailKey("giros", "g1"), giro{ID: "g1"})
	store.Set(types.DetailKey("giros", "g2"), giro{ID: "g2"})
	_, err := persister.Persist(context.Background())
	require.NoError(t, err)

	store.Remove(types.DetailOf("giros", "g1"))
	written, err := persister.Persist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	records, err := backend.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, RecordID(types.DetailKey("giros", "g2")), records[0].ID)

	require.NoError(t, persister.Clear(context.Background()))
	records, err = backend.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordID_IsStableAcrossParamOrder(t *testing.T) {
	t.Parallel()

	a := types.ListKey("giros", map[string]string{"status": "pending", "minorista_id": "M"})
	b := types.ListKey("giros", map[string]string{"minorista_id": "M", "status": "pending"})

	assert.Equal(t, RecordID(a), RecordID(b))
	assert.Len(t, RecordID(a), 64)
	assert.NotEqual(t, RecordID(a), RecordID(types.ListKey("giros", nil)))
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	log := logger.NewZapWrapper(zaptest.NewLogger(t))

	_, err := NewBackend(context.Background(), log, &types.PersistenceConfig{Enabled: false})
	assert.ErrorIs(t, err, types.ErrPersistIsDisabled)

	_, err = NewBackend(context.Background(), log, &types.PersistenceConfig{Enabled: true, Type: "etcd"})
	assert.ErrorIs(t, err, types.ErrPersistTypeUnknown)

	backend, err := NewBackend(context.Background(), log, &types.PersistenceConfig{Enabled: true, Type: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", backend.Name())
}
