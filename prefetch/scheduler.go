// Package prefetch warms cache keys ahead of navigation.
package prefetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

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

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
	defaultTimeout   = 30 * time.Second
)

type job struct {
	key types.CacheKey
	fn  types.FetchFunc
}

type Option func(*Scheduler)

func WithMetrics(metrics types.MetricsManager) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// Scheduler warms keys in a cache store. Prefetch is synchronous and
// best-effort; Schedule hands the key to a bounded worker pool.
type Scheduler struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	store           types.CacheStore
	config          types.PrefetchConfig
	queue           chan job
	state           atomic.Value
	done            chan struct{}
	mu              sync.RWMutex
	shutdownTimeout time.Duration
}

func NewScheduler(ctx context.Context, logger types.Logger, store types.CacheStore, config *types.PrefetchConfig, opts ...Option) *Scheduler {
	cfg := types.PrefetchConfig{
		Workers:   defaultWorkers,
		QueueSize: defaultQueueSize,
		Timeout:   defaultTimeout,
	}
	if config != nil {
		if config.Workers > 0 {
			cfg.Workers = config.Workers
		}
		if config.QueueSize > 0 {
			cfg.QueueSize = config.QueueSize
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
	}

	schedulerCtx, cancel := context.WithCancel(ctx)

	s := &Scheduler{
		ctx:             schedulerCtx,
		cancel:          cancel,
		logger:          logger,
		store:           store,
		config:          cfg,
		queue:           make(chan job, cfg.QueueSize),
		done:            make(chan struct{}),
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

// Prefetch fetches key unless it already has an entry or a fetch in flight.
// Failures are logged and swallowed.
func (s *Scheduler) Prefetch(ctx context.Context, key types.CacheKey, fn types.FetchFunc) {
	s.warm(ctx, key, fn)
}

// Schedule queues key for background warming. It returns false when the
// scheduler is not running or the queue is full.
func (s *Scheduler) Schedule(key types.CacheKey, fn types.FetchFunc) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.IsRunning() {
		s.record("dropped")
		return false
	}

	select {
	case s.queue <- job{key: key, fn: fn}:
		s.record("queued")
		s.pending(1)
		return true
	default:
		s.logger.Debug("Prefetch queue full, dropping key",
			zap.String("key", key.String()),
			zap.Int("queue_size", s.config.QueueSize))
		s.record("dropped")
		return false
	}
}

func (s *Scheduler) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	go s.run()

	s.setState(StateRunning)
	s.logger.Info("Prefetch scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize))
	return nil
}

// Stop cancels queued and running warm-ups and waits for the workers.
func (s *Scheduler) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	s.mu.Lock()
	close(s.queue)
	s.mu.Unlock()

	s.cancel()

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		s.logger.Info("Prefetch scheduler stopped")
	case <-timer.C:
		s.logger.Warn("Prefetch scheduler stop timeout, some warm-ups may still run")
	}

	s.setState(StateStopped)
	return nil
}

func (s *Scheduler) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Scheduler) getState() State {
	return s.state.Load().(State)
}

func (s *Scheduler) setState(newState State) {
	s.state.Store(newState)
}

func (s *Scheduler) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Scheduler) run() {
	defer close(s.done)

	g := &errgroup.Group{}
	g.SetLimit(s.config.Workers)

	for j := range s.queue {
		j := j
		s.pending(-1)
		if s.ctx.Err() != nil {
			continue
		}

		g.Go(func() error {
			s.warm(s.ctx, j.key, j.fn)
			return nil
		})
	}

	_ = g.Wait()
}

func (s *Scheduler) warm(ctx context.Context, key types.CacheKey, fn types.FetchFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	started, err := s.store.Prefetch(ctx, key, fn)

	switch {
	case err != nil:
		s.logger.Debug("Prefetch failed", zap.String("key", key.String()), zap.Error(err))
		s.record("error")
	case !started:
		s.record("skipped")
	default:
		s.record("success")
	}
}

func (s *Scheduler) pending(delta float64) {
	s.metrics.Gauge("prefetch_queue_depth", nil).Add(delta)
}

func (s *Scheduler) record(result string) {
	s.metrics.Counter("prefetch_total", map[string]string{"result": result}).Inc()
}
