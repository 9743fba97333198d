// Package girosync wires the data sync layer of the giro back office from a
// YAML config: fetch client, cache store, invalidation router, push channel,
// prefetch scheduler, persisted state and the background jobs that keep them
// tidy.
package girosync

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/giro-sync/action"
	"github.com/saiset-co/giro-sync/cache"
	"github.com/saiset-co/giro-sync/client"
	"github.com/saiset-co/giro-sync/config"
	"github.com/saiset-co/giro-sync/cron"
	"github.com/saiset-co/giro-sync/giro"
	"github.com/saiset-co/giro-sync/invalidation"
	"github.com/saiset-co/giro-sync/logger"
	"github.com/saiset-co/giro-sync/metrics"
	"github.com/saiset-co/giro-sync/persist"
	"github.com/saiset-co/giro-sync/policy"
	"github.com/saiset-co/giro-sync/prefetch"
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
	JobCacheGC      = "cache-gc"
	JobPersistFlush = "persist-flush"
)

type Option func(*Service)

func WithLogger(l types.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithMetrics(m types.MetricsManager) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClientOptions passes extra options to the fetch client, e.g. a custom dialer.
func WithClientOptions(opts ...client.Option) Option {
	return func(s *Service) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

func WithBrokerOptions(opts ...action.BrokerOption) Option {
	return func(s *Service) {
		s.brokerOpts = append(s.brokerOpts, opts...)
	}
}

// WithPersistBackend overrides the backend built from persistence config.
func WithPersistBackend(backend persist.Backend) Option {
	return func(s *Service) {
		s.backend = backend
	}
}

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *config.Manager
	logger          types.Logger
	metrics         types.MetricsManager
	client          *client.HTTPClient
	policy          *policy.Policy
	store           *cache.Store
	router          *invalidation.Router
	registry        *action.Registry
	broker          *action.WebSocketBroker
	scheduler       *prefetch.Scheduler
	backend         persist.Backend
	persister       *persist.Persister
	cron            *cron.Manager
	api             *giro.API
	clientOpts      []client.Option
	brokerOpts      []action.BrokerOption
	detach          func()
	state           atomic.Value
	mu              sync.Mutex
	shutdownTimeout time.Duration
}

// NewFromFile loads and validates the YAML config at configPath and builds
// the service from it.
func NewFromFile(ctx context.Context, configPath string, opts ...Option) (*Service, error) {
	cfg, err := config.NewLoader().LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, opts...)
}

func New(ctx context.Context, cfg *types.ServiceConfig, opts ...Option) (*Service, error) {
	if err := config.NewLoader().Validate(cfg); err != nil {
		return nil, err
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          config.NewFromConfig(cfg),
		shutdownTimeout: 30 * time.Second,
	}
	s.state.Store(StateStopped)

	for _, opt := range opts {
		opt(s)
	}

	if err := s.registerComponents(cfg); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register components")
	}

	return s, nil
}

func (s *Service) registerComponents(cfg *types.ServiceConfig) error {
	var err error

	if s.logger == nil {
		s.logger, err = logger.NewLogger(cfg.Logger)
		if err != nil {
			return types.WrapError(err, "failed to register logger")
		}
	}

	if s.metrics == nil {
		s.metrics, err = metrics.NewMetrics(s.logger, cfg.Metrics)
		if err != nil {
			return types.WrapError(err, "failed to register metrics")
		}
	}

	s.client, err = client.NewHTTPClient(s.logger, cfg.Backend,
		append([]client.Option{client.WithMetrics(s.metrics)}, s.clientOpts...)...)
	if err != nil {
		return types.WrapError(err, "failed to register fetch client")
	}

	s.policy = policy.FromConfig(s.logger, giro.DefaultKinds(), cfg.Cache, cfg.Staleness)
	s.store = cache.NewStore(s.ctx, s.logger, s.policy, cache.WithMetrics(s.metrics))

	s.router = invalidation.NewRouter(s.logger, s.store,
		append(giro.RouterOptions(), invalidation.WithMetrics(s.metrics))...)
	if err = s.router.Register(giro.Rules()...); err != nil {
		return types.WrapError(err, "failed to register invalidation rules")
	}

	s.registry = action.NewRegistry(s.logger, action.WithRegistryMetrics(s.metrics))
	s.detach = s.router.Attach(s.registry)

	if cfg.Push != nil && cfg.Push.Enabled {
		s.broker, err = action.NewWebSocketBroker(s.ctx, s.logger, cfg.Push, s.registry,
			append([]action.BrokerOption{action.WithBrokerMetrics(s.metrics)}, s.brokerOpts...)...)
		if err != nil {
			return types.WrapError(err, "failed to register push broker")
		}
	}

	s.scheduler = prefetch.NewScheduler(s.ctx, s.logger, s.store, cfg.Prefetch, prefetch.WithMetrics(s.metrics))

	if s.backend == nil && cfg.Persistence != nil && cfg.Persistence.Enabled {
		s.backend, err = persist.NewBackend(s.ctx, s.logger, cfg.Persistence)
		if err != nil {
			return types.WrapError(err, "failed to register persistence backend")
		}
	}
	if s.backend != nil {
		s.persister = persist.NewPersister(s.logger, s.backend, s.store, persist.WithMetrics(s.metrics))
	}

	s.cron = cron.NewManager(s.ctx, s.logger, s.metrics)
	if err = s.registerJobs(cfg); err != nil {
		return err
	}

	s.api = giro.NewAPI(s.logger, s.client, s.store, s.router, giro.WithPrefetcher(s.scheduler))

	return nil
}

func (s *Service) registerJobs(cfg *types.ServiceConfig) error {
	gcSchedule := "@every 1m"
	if cfg.Cache != nil && cfg.Cache.GCSchedule != "" {
		gcSchedule = cfg.Cache.GCSchedule
	}

	if err := s.cron.Add(JobCacheGC, gcSchedule, func(context.Context) error {
		s.store.Sweep()
		return nil
	}); err != nil {
		return types.WrapError(err, "failed to register cache gc job")
	}

	if s.persister == nil {
		return nil
	}

	flushSchedule := "@every 30s"
	if cfg.Persistence != nil && cfg.Persistence.FlushSchedule != "" {
		flushSchedule = cfg.Persistence.FlushSchedule
	}

	if err := s.cron.Add(JobPersistFlush, flushSchedule, func(ctx context.Context) error {
		_, err := s.Flush(ctx)
		return err
	}); err != nil {
		return types.WrapError(err, "failed to register persistence flush job")
	}

	return nil
}

// Start brings every component up and restores the persisted snapshot. It
// does not block.
func (s *Service) Start() (err error) {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("service panic: %v", r)
			s.logger.Error("Service start panic", zap.Stack(string(buf[:n])))
			s.setState(StateStopped)
		}
	}()

	s.logger.Info("Starting service", zap.String("name", s.config.GetConfig().Name))

	if err = s.startComponents(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.logger.Info("Service started successfully")
	return nil
}

func (s *Service) startComponents() error {
	if err := s.client.Start(); err != nil {
		return types.WrapError(err, "failed to start fetch client")
	}
	if err := s.store.Start(); err != nil {
		return types.WrapError(err, "failed to start cache store")
	}

	if s.persister != nil {
		restored, err := s.persister.Restore(s.ctx)
		if err != nil {
			s.logger.Warn("Failed to restore persisted cache", zap.Error(err))
		} else {
			s.logger.Info("Persisted cache restored", zap.Int("entries", restored))
		}
	}

	g := new(errgroup.Group)

	g.Go(func() error {
		if err := s.scheduler.Start(); err != nil {
			return types.WrapError(err, "failed to start prefetch scheduler")
		}
		return nil
	})

	g.Go(func() error {
		if err := s.cron.Start(); err != nil {
			return types.WrapError(err, "failed to start cron manager")
		}
		return nil
	})

	if s.broker != nil {
		g.Go(func() error {
			// The push channel is optional: a backend without it still serves reads.
			if err := s.broker.Start(); err != nil {
				s.logger.Error("Failed to start push broker", zap.Error(err))
			}
			return nil
		})
	}

	return g.Wait()
}

// Stop shuts every component down and writes a final snapshot.
func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServerNotRunning
	}

	s.logger.Info("Stopping service...")

	err := s.stopComponents()
	s.cancel()
	s.setState(StateStopped)

	if err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error

	g, gCtx := errgroup.WithContext(ctx)

	if s.broker != nil && s.broker.IsRunning() {
		g.Go(func() error {
			return stopComponent(gCtx, s.logger, "push broker", s.broker)
		})
	}
	g.Go(func() error {
		return stopComponent(gCtx, s.logger, "cron manager", s.cron)
	})
	g.Go(func() error {
		return stopComponent(gCtx, s.logger, "prefetch scheduler", s.scheduler)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = append(errs, err)
		}
	}

	if s.persister != nil {
		flushed, err := s.Flush(ctx)
		if err != nil {
			s.logger.Error("Final cache flush failed", zap.Error(err))
			errs = append(errs, err)
		} else {
			s.logger.Info("Final cache flush", zap.Int("entries", flushed))
		}

		if err = s.persister.Close(); err != nil {
			s.logger.Error("Failed to close persistence backend", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if s.detach != nil {
		s.detach()
	}

	if err := s.store.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.client.Stop(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

func stopComponent(ctx context.Context, l types.Logger, name string, component types.LifecycleManager) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := component.Stop(); err != nil {
		l.Error("Failed to stop "+name, zap.Error(err))
		return err
	}
	return nil
}

// Run starts the service unless it already runs, blocks until ctx is done or
// the process is signalled, then stops it.
func (s *Service) Run(ctx context.Context) error {
	if !s.IsRunning() {
		if err := s.Start(); err != nil {
			return err
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Service context cancelled")
	case <-s.ctx.Done():
		s.logger.Info("Service context cancelled")
	}

	return s.Stop()
}

// Logout drops every cached entry and the persisted snapshot. Observers and
// subscriptions stay in place for the next session.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Clear()

	if s.persister != nil {
		if err := s.persister.Clear(ctx); err != nil {
			return types.WrapError(err, "failed to clear persisted cache")
		}
	}

	s.logger.Info("Session data cleared")
	return nil
}

// Flush writes the current snapshot now.
func (s *Service) Flush(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, types.ErrPersistIsDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.persister.Persist(ctx)
}

func (s *Service) API() *giro.API {
	return s.api
}

func (s *Service) Store() *cache.Store {
	return s.store
}

func (s *Service) Router() *invalidation.Router {
	return s.router
}

// Events is the push event registry; local code may subscribe alongside the
// invalidation router.
func (s *Service) Events() *action.Registry {
	return s.registry
}

func (s *Service) Broker() *action.WebSocketBroker {
	return s.broker
}

func (s *Service) Cron() *cron.Manager {
	return s.cron
}

func (s *Service) Config() types.ConfigManager {
	return s.config
}

func (s *Service) Logger() types.Logger {
	return s.logger
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
