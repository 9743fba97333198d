package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/giro-sync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Option func(*Manager)

func WithJobTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.jobTimeout = timeout
	}
}

func WithLocation(location *time.Location) Option {
	return func(m *Manager) {
		m.location = location
	}
}

// Manager runs named background jobs such as the cache GC sweep and the
// snapshot flush. Jobs never overlap with themselves.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	location        *time.Location
	jobs            map[string]*types.JobEntry
	state           atomic.Value
	mu              sync.RWMutex
	running         sync.WaitGroup
	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

func NewManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager, opts ...Option) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		location:        time.UTC,
		jobs:            make(map[string]*types.JobEntry),
		shutdownTimeout: 10 * time.Second,
		jobTimeout:      5 * time.Minute,
	}

	for _, opt := range opts {
		opt(m)
	}

	cronL := cronLogger{logger: logger}
	m.cron = cron.New(
		cron.WithLocation(m.location),
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronL), cron.SkipIfStillRunning(cronL)),
	)

	m.state.Store(StateStopped)

	return m
}

func (m *Manager) Add(jobName, spec string, job types.CronJob) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.Errorf(types.ErrCronExpressionInvalid, "empty spec for job %s", jobName)
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getState() == StateStopping {
		return types.ErrCronSchedulerStopped
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "job: %s", jobName)
	}

	entryID, err := m.cron.AddFunc(spec, m.wrapJob(jobName, job))
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%s: %v", spec, err)
	}

	entry := &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		AddedAt: time.Now(),
	}
	if cronEntry := m.cron.Entry(entryID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}

	m.jobs[jobName] = entry

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return types.Errorf(types.ErrInvalidParameter, "job not found: %s", jobName)
	}

	m.cron.Remove(entry.ID)
	delete(m.jobs, jobName)

	m.logger.Debug("Cron job removed", zap.String("job_name", jobName))
	return nil
}

// Job returns a copy of the job's bookkeeping.
func (m *Manager) Job(jobName string) (types.JobEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return types.JobEntry{}, false
	}
	return *entry, true
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.cron.Start()
	m.setState(StateRunning)
	m.setSchedulerStatus(1)

	m.logger.Info("Cron manager started")
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(StateStopped)
		m.setSchedulerStatus(0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stopCtx := m.cron.Stop()

		select {
		case <-stopCtx.Done():
			return nil
		case <-gCtx.Done():
			return types.ErrCronJobTimeout
		}
	})

	err := g.Wait()

	// Running jobs see their context cancelled only after the scheduler drained
	// or timed out, so a flush in progress is not cut short by a clean stop.
	m.cancel()
	m.running.Wait()

	if err != nil {
		m.logger.Warn("Cron manager stop timeout, some jobs may not have finished", zap.Error(err))
		return err
	}

	m.logger.Info("Cron manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) {
	m.state.Store(newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *Manager) wrapJob(jobName string, job types.CronJob) func() {
	return func() {
		if m.ctx.Err() != nil {
			m.logger.Debug("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		}

		m.running.Add(1)
		defer m.running.Done()

		startTime := time.Now()
		m.updateJobStart(jobName, startTime)

		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		err := runJob(jobCtx, job)
		if err == nil && types.IsError(jobCtx.Err(), context.DeadlineExceeded) {
			err = types.Errorf(types.ErrCronJobTimeout, "timeout after %v", m.jobTimeout)
		}

		duration := time.Since(startTime)

		result := "success"
		if err != nil {
			result = "error"
		}

		m.incJobExecutionsCounter(jobName, result)
		m.observeJobDuration(jobName, duration)
		m.updateJobFinish(jobName, duration, err)

		if err != nil {
			m.logger.Error("Cron job failed",
				zap.String("job_name", jobName),
				zap.Duration("duration", duration),
				zap.Error(err))
			return
		}

		m.logger.Debug("Cron job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration))
	}
}

func runJob(ctx context.Context, job types.CronJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
		}
	}()

	return job(ctx)
}

func (m *Manager) updateJobStart(jobName string, startTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.jobs[jobName]; exists {
		entry.LastRun = startTime
	}
}

func (m *Manager) updateJobFinish(jobName string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return
	}

	entry.LastDuration = duration
	entry.TotalDuration += duration
	entry.RunCount++
	entry.Error = err

	if cronEntry := m.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

func (m *Manager) incJobExecutionsCounter(jobName, result string) {
	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()
}

func (m *Manager) observeJobDuration(jobName string, duration time.Duration) {
	m.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.01, 0.1, 1.0, 10.0, 60.0},
		map[string]string{"job_name": jobName},
	).Observe(duration.Seconds())
}

func (m *Manager) setSchedulerStatus(value float64) {
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, toFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(toFields(keysAndValues), zap.Error(err))...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
