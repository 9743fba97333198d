// Package persist snapshots the cache store to a backend and restores it on
// start, dropping entries past their tier's GC horizon.
package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/metrics"
	"github.com/saiset-co/giro-sync/types"
)

// Snapshotter is the part of the cache store a Persister reads and fills.
type Snapshotter interface {
	Entries() []types.CacheEntry
	Hydrate(key types.CacheKey, data interface{}, fetchedAt time.Time) bool
}

type Option func(*Persister)

func WithClock(now func() time.Time) Option {
	return func(p *Persister) {
		p.now = now
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(p *Persister) {
		p.metrics = metrics
	}
}

type Persister struct {
	logger  types.Logger
	metrics types.MetricsManager
	backend Backend
	store   Snapshotter
	now     func() time.Time
	mu      sync.Mutex
}

func NewPersister(logger types.Logger, backend Backend, store Snapshotter, opts ...Option) *Persister {
	p := &Persister{
		logger:  logger,
		backend: backend,
		store:   store,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.NewNoop()
	}

	return p
}

func (p *Persister) Backend() Backend {
	return p.backend
}

// Persist writes every entry that holds data and is still within its GC
// horizon. It returns the number of records written.
func (p *Persister) Persist(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	now := p.now()
	entries := p.store.Entries()
	records := make([]StoredRecord, 0, len(entries))

	for _, entry := range entries {
		expiresAt := expiry(entry.FetchedAt, entry.Tier)
		if !expiresAt.IsZero() && !now.Before(expiresAt) {
			continue
		}

		payload, err := encodeRecord(&record{Key: entry.Key, Data: entry.Data, FetchedAt: entry.FetchedAt})
		if err != nil {
			p.logger.Warn("Skipping entry that cannot be persisted",
				zap.String("key", entry.Key.String()),
				zap.Error(err))
			continue
		}

		records = append(records, StoredRecord{
			ID:        RecordID(entry.Key),
			Payload:   payload,
			ExpiresAt: expiresAt,
		})
	}

	if err := p.backend.Replace(ctx, records); err != nil {
		p.observe("persist", "error", start)
		return 0, types.WrapError(err, "failed to persist snapshot")
	}

	p.observe("persist", "success", start)
	p.logger.Debug("Cache snapshot persisted",
		zap.String("backend", p.backend.Name()),
		zap.Int("records", len(records)))

	return len(records), nil
}

// Restore loads the snapshot into the store. Expired and unreadable records
// are deleted from the backend instead of being merged.
func (p *Persister) Restore(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()

	stored, err := p.backend.Load(ctx)
	if err != nil {
		p.observe("restore", "error", start)
		return 0, types.WrapError(err, "failed to load snapshot")
	}

	now := p.now()
	discard := make([]string, 0)
	restored := 0

	for _, s := range stored {
		if s.ExpiredAt(now) {
			discard = append(discard, s.ID)
			continue
		}

		r, err := decodeRecord(s.Payload)
		if err == nil && RecordID(r.Key) != s.ID {
			err = types.Errorf(types.ErrPersistRecordBroken, "id does not match key %s", r.Key.String())
		}
		if err != nil {
			p.logger.Warn("Discarding broken record", zap.String("id", s.ID), zap.Error(err))
			discard = append(discard, s.ID)
			continue
		}

		if p.store.Hydrate(r.Key, r.Data, r.FetchedAt) {
			restored++
		}
	}

	if len(discard) > 0 {
		if err := p.backend.Delete(ctx, discard); err != nil {
			p.logger.Warn("Failed to delete discarded records",
				zap.Int("records", len(discard)),
				zap.Error(err))
		}
	}

	p.observe("restore", "success", start)
	p.logger.Info("Cache snapshot restored",
		zap.String("backend", p.backend.Name()),
		zap.Int("restored", restored),
		zap.Int("discarded", len(discard)))

	return restored, nil
}

// Clear wipes the persisted snapshot.
func (p *Persister) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	if err := p.backend.Clear(ctx); err != nil {
		p.observe("clear", "error", start)
		return types.WrapError(err, "failed to clear snapshot")
	}

	p.observe("clear", "success", start)
	p.logger.Info("Cache snapshot cleared", zap.String("backend", p.backend.Name()))
	return nil
}

func (p *Persister) Close() error {
	return p.backend.Close()
}

func (p *Persister) observe(operation, result string, start time.Time) {
	p.metrics.Counter("persist_operations_total", map[string]string{
		"operation": operation,
		"backend":   p.backend.Name(),
		"result":    result,
	}).Inc()
	p.metrics.Histogram("persist_operation_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 1, 5},
		map[string]string{"operation": operation, "backend": p.backend.Name()},
	).ObserveSince(start)
}

// expiry is the instant the entry leaves its GC horizon; zero means never.
func expiry(fetchedAt time.Time, tier types.Tier) time.Time {
	if tier.GCTime == types.Forever {
		return time.Time{}
	}
	return fetchedAt.Add(tier.GCTime)
}
