package cache

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/giro-sync/metrics"
	"github.com/saiset-co/giro-sync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Option func(*Store)

// WithClock replaces time.Now for freshness and GC decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

type entry struct {
	key       types.CacheKey
	data      interface{}
	hasData   bool
	fetchedAt time.Time
	updatedAt time.Time
	tier      types.Tier
	err       error
	// invalidated is set by MarkStale and cleared by the next successful write.
	invalidated bool
	// staleOnArrival makes the result of the running fetch land as stale.
	staleOnArrival bool
	// flightKey is non-empty while a fetch for this entry is in flight.
	flightKey string
}

// Store is the keyed query cache. All map mutations happen under mu; fetches
// run outside the lock on the store lifecycle context, one per key at a time.
type Store struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	policy          types.StalenessPolicy
	now             func() time.Time
	group           singleflight.Group
	mu              sync.Mutex
	entries         map[string]*entry
	observers       map[string]int
	flightSeq       uint64
	stopped         bool
	inflight        sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewStore(ctx context.Context, logger types.Logger, policy types.StalenessPolicy, opts ...Option) *Store {
	storeCtx, cancel := context.WithCancel(ctx)

	s := &Store{
		ctx:             storeCtx,
		cancel:          cancel,
		logger:          logger,
		policy:          policy,
		now:             time.Now,
		entries:         make(map[string]*entry),
		observers:       make(map[string]int),
		shutdownTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoop()
	}

	s.state.Store(StateStopped)

	return s
}

func (s *Store) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	s.setState(StateRunning)
	s.logger.Info("Cache store started")
	return nil
}

// Stop cancels in-flight fetches and waits for them to settle.
func (s *Store) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer s.setState(StateStopped)

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			s.inflight.Wait()
			close(done)
		}()

		select {
		case <-done:
			return nil
		case <-gCtx.Done():
			return gCtx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		s.logger.Warn("Cache store stop timeout, some fetches did not finish", zap.Error(err))
		return err
	}

	s.logger.Info("Cache store stopped")
	return nil
}

func (s *Store) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Store) getState() State {
	return s.state.Load().(State)
}

func (s *Store) setState(newState State) {
	s.state.Store(newState)
}

func (s *Store) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// Get returns a snapshot of the entry. Entries still waiting for their first
// fetch are not visible.
func (s *Store) Get(key types.CacheKey) (types.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[key.String()]
	if !exists || !e.visible() {
		s.recordOperation("get", "miss")
		return types.CacheEntry{}, false
	}

	s.recordOperation("get", "hit")
	return s.snapshotLocked(e), true
}

// Set writes data for key as freshly fetched.
func (s *Store) Set(key types.CacheKey, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key)
	s.writeLocked(e, data, s.now())

	s.recordOperation("set", "success")
	s.updateEntriesGauge()
}

// MarkStale flags every entry matching prefix as stale and keeps its data.
// It returns the number of matching entries.
func (s *Store) MarkStale(prefix types.KeyPrefix) int {
	if err := prefix.Validate(); err != nil {
		s.logger.Warn("Skipping malformed prefix", zap.String("prefix", prefix.String()), zap.Error(err))
		s.recordOperation("mark_stale", "invalid")
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.entries {
		if !prefix.Matches(e.key) {
			continue
		}
		if e.flightKey != "" {
			e.staleOnArrival = true
		}
		if e.hasData {
			e.invalidated = true
		}
		count++
	}

	s.recordOperation("mark_stale", "success")
	s.logger.Debug("Entries marked stale", zap.String("prefix", prefix.String()), zap.Int("count", count))

	return count
}

// Remove deletes every entry matching prefix. A fetch in flight for a
// removed entry still answers its waiters but its result is not stored.
func (s *Store) Remove(prefix types.KeyPrefix) int {
	if err := prefix.Validate(); err != nil {
		s.logger.Warn("Skipping malformed prefix", zap.String("prefix", prefix.String()), zap.Error(err))
		s.recordOperation("remove", "invalid")
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for k, e := range s.entries {
		if prefix.Matches(e.key) {
			delete(s.entries, k)
			count++
		}
	}

	s.recordOperation("remove", "success")
	s.updateEntriesGauge()

	return count
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.entries)
	s.entries = make(map[string]*entry)

	s.recordOperation("clear", "success")
	s.updateEntriesGauge()
	s.logger.Info("Cache store cleared", zap.Int("entries", count))
}

// Observe registers interest in key. Observed entries are never collected.
// The returned func releases the registration; calling it twice is harmless.
func (s *Store) Observe(key types.CacheKey) func() {
	k := key.String()

	s.mu.Lock()
	s.observers[k]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			if s.observers[k] <= 1 {
				delete(s.observers, k)
				return
			}
			s.observers[k]--
		})
	}
}

// Sweep removes unobserved, idle entries past their tier GC horizon.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if e.flightKey != "" || s.observers[k] > 0 {
			continue
		}
		if e.tier.IsCollectableAt(e.updatedAt, now) {
			delete(s.entries, k)
			removed++
		}
	}

	s.recordOperation("sweep", "success")
	s.updateEntriesGauge()

	if removed > 0 {
		s.logger.Debug("Cache sweep collected entries", zap.Int("removed", removed), zap.Int("remaining", len(s.entries)))
	}

	return removed
}

// Fetch is the read path. Fresh data is returned as is. Stale data, or data
// with a failed refresh, is returned while a refresh runs in the background.
// Without data the call waits for the shared fetch. Cancelling ctx abandons
// the wait only.
func (s *Store) Fetch(ctx context.Context, key types.CacheKey, fn types.FetchFunc) (types.CacheEntry, error) {
	if err := s.validate(key, fn); err != nil {
		return types.CacheEntry{}, err
	}

	s.mu.Lock()
	e := s.entryLocked(key)
	if e.hasData {
		if s.isFreshLocked(e) {
			snapshot := s.snapshotLocked(e)
			s.mu.Unlock()
			s.recordOperation("fetch", "fresh")
			return snapshot, nil
		}

		if _, err := s.startFetchLocked(e, fn); err != nil {
			s.logger.Debug("Background refresh not started", zap.String("key", key.String()), zap.Error(err))
		}
		snapshot := s.snapshotLocked(e)
		s.mu.Unlock()

		s.recordOperation("fetch", "stale")
		return snapshot, nil
	}

	ch, err := s.startFetchLocked(e, fn)
	s.mu.Unlock()
	if err != nil {
		return types.CacheEntry{}, err
	}

	s.recordOperation("fetch", "wait")
	return s.wait(ctx, ch)
}

// Refetch forces a fetch (joining one in flight) and waits for it.
func (s *Store) Refetch(ctx context.Context, key types.CacheKey, fn types.FetchFunc) (types.CacheEntry, error) {
	if err := s.validate(key, fn); err != nil {
		return types.CacheEntry{}, err
	}

	s.mu.Lock()
	ch, err := s.startFetchLocked(s.entryLocked(key), fn)
	s.mu.Unlock()
	if err != nil {
		return types.CacheEntry{}, err
	}

	s.recordOperation("refetch", "success")
	return s.wait(ctx, ch)
}

// Prefetch fetches key only when there is no entry and no fetch in flight.
// It reports whether a fetch was started.
func (s *Store) Prefetch(ctx context.Context, key types.CacheKey, fn types.FetchFunc) (bool, error) {
	if err := s.validate(key, fn); err != nil {
		return false, err
	}

	s.mu.Lock()
	if _, exists := s.entries[key.String()]; exists {
		s.mu.Unlock()
		s.recordOperation("prefetch", "skipped")
		return false, nil
	}

	ch, err := s.startFetchLocked(s.entryLocked(key), fn)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	s.recordOperation("prefetch", "started")
	_, err = s.wait(ctx, ch)
	return true, err
}

// Hydrate merges previously persisted data. It does nothing when the store
// already holds data fetched at or after fetchedAt. The GC horizon keeps
// counting from fetchedAt.
func (s *Store) Hydrate(key types.CacheKey, data interface{}, fetchedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[key.String()]; exists && e.hasData && !e.fetchedAt.Before(fetchedAt) {
		s.recordOperation("hydrate", "skipped")
		return false
	}

	e := s.entryLocked(key)
	s.writeLocked(e, data, fetchedAt)

	s.recordOperation("hydrate", "success")
	s.updateEntriesGauge()
	return true
}

// Entries returns snapshots of all entries holding data, ordered by key.
func (s *Store) Entries() []types.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]types.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.hasData {
			result = append(result, s.snapshotLocked(e))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.String() < result[j].Key.String()
	})

	return result
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Store) validate(key types.CacheKey, fn types.FetchFunc) error {
	if key.Kind == "" {
		return types.ErrCacheKeyEmpty
	}
	if fn == nil {
		return types.ErrCacheFetchFuncIsNil
	}
	return nil
}

func (s *Store) wait(ctx context.Context, ch <-chan singleflight.Result) (types.CacheEntry, error) {
	select {
	case res := <-ch:
		snapshot, _ := res.Val.(types.CacheEntry)
		return snapshot, res.Err
	case <-ctx.Done():
		return types.CacheEntry{}, ctx.Err()
	}
}

// startFetchLocked joins the fetch in flight for e or starts a new one.
func (s *Store) startFetchLocked(e *entry, fn types.FetchFunc) (<-chan singleflight.Result, error) {
	if e.flightKey != "" {
		return s.group.DoChan(e.flightKey, func() (interface{}, error) {
			return nil, types.ErrCacheStopped
		}), nil
	}

	if s.stopped {
		if !e.visible() {
			delete(s.entries, e.key.String())
		}
		return nil, types.ErrCacheStopped
	}

	s.flightSeq++
	flightKey := e.key.String() + "#" + strconv.FormatUint(s.flightSeq, 10)
	e.flightKey = flightKey
	e.staleOnArrival = false
	s.inflight.Add(1)

	return s.group.DoChan(flightKey, func() (interface{}, error) {
		return s.runFetch(e, flightKey, fn)
	}), nil
}

func (s *Store) runFetch(e *entry, flightKey string, fn types.FetchFunc) (interface{}, error) {
	defer s.inflight.Done()

	startTime := time.Now()
	data, err := callFetch(s.ctx, fn)

	s.mu.Lock()
	if e.flightKey == flightKey {
		e.flightKey = ""
	}

	current := s.entries[e.key.String()] == e
	if current {
		if err != nil {
			e.err = err
			e.updatedAt = s.now()
		} else {
			s.writeLocked(e, data, s.now())
			e.invalidated = e.staleOnArrival
		}
		e.staleOnArrival = false
	}

	snapshot := s.snapshotLocked(e)
	if err == nil && !current {
		snapshot.Data = data
		snapshot.FetchedAt = s.now()
		snapshot.UpdatedAt = snapshot.FetchedAt
		snapshot.State = types.StateFresh
		snapshot.Err = nil
	}
	s.updateEntriesGauge()
	s.mu.Unlock()

	result := "success"
	if err != nil {
		result = "error"
	}
	s.metrics.Counter("cache_fetches_total", map[string]string{
		"kind":   string(e.key.Kind),
		"result": result,
	}).Inc()
	s.metrics.Histogram("cache_fetch_duration_seconds",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		map[string]string{"kind": string(e.key.Kind)},
	).ObserveSince(startTime)

	if err != nil {
		s.logger.Debug("Cache fetch failed",
			zap.String("key", e.key.String()),
			zap.Bool("has_data", snapshot.HasData()),
			zap.Error(err))
		return snapshot, err
	}

	s.logger.Debug("Cache fetch completed",
		zap.String("key", e.key.String()),
		zap.Bool("stored", current),
		zap.Duration("duration", time.Since(startTime)))

	return snapshot, nil
}

func callFetch(ctx context.Context, fn types.FetchFunc) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewErrorf("fetch panic: %v", r)
		}
	}()

	return fn(ctx)
}

func (s *Store) entryLocked(key types.CacheKey) *entry {
	k := key.String()
	if e, exists := s.entries[k]; exists {
		return e
	}

	e := &entry{
		key:  key,
		tier: s.policy.TierFor(key.Kind),
	}
	s.entries[k] = e
	return e
}

func (s *Store) writeLocked(e *entry, data interface{}, fetchedAt time.Time) {
	e.data = data
	e.hasData = true
	e.fetchedAt = fetchedAt
	e.updatedAt = fetchedAt
	e.err = nil
	e.invalidated = false
}

func (s *Store) isFreshLocked(e *entry) bool {
	return e.hasData &&
		e.err == nil &&
		e.flightKey == "" &&
		!e.invalidated &&
		!e.tier.IsStaleAt(e.fetchedAt, s.now())
}

func (s *Store) snapshotLocked(e *entry) types.CacheEntry {
	state := types.StateFresh
	switch {
	case e.flightKey != "":
		state = types.StateFetching
	case e.err != nil:
		state = types.StateError
	case e.invalidated || e.tier.IsStaleAt(e.fetchedAt, s.now()):
		state = types.StateStale
	}

	return types.CacheEntry{
		Key:       e.key,
		Data:      e.data,
		FetchedAt: e.fetchedAt,
		UpdatedAt: e.updatedAt,
		State:     state,
		Tier:      e.tier,
		Err:       e.err,
		Observers: s.observers[e.key.String()],
	}
}

func (e *entry) visible() bool {
	return e.hasData || e.err != nil
}
