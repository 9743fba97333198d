package action

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/types"
)

type subscription struct {
	id      string
	handler types.ActionHandler
}

// Registry fans incoming push events out to subscribed handlers. Handlers run
// synchronously in subscription order; a failing or panicking handler does not
// stop the others.
type Registry struct {
	logger  types.Logger
	metrics types.MetricsManager
	mu      sync.RWMutex
	subs    map[string][]subscription
}

type RegistryOption func(*Registry)

func WithRegistryMetrics(metrics types.MetricsManager) RegistryOption {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

func NewRegistry(logger types.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: logger,
		subs:   make(map[string][]subscription),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Registry) On(event string, handler types.ActionHandler) func() {
	if event == "" || handler == nil {
		r.logger.Warn("Ignoring invalid subscription", zap.String("event", event))
		return func() {}
	}

	id := uuid.NewString()

	r.mu.Lock()
	r.subs[event] = append(r.subs[event], subscription{id: id, handler: handler})
	count := len(r.subs[event])
	r.mu.Unlock()

	r.logger.Debug("Subscribed to event",
		zap.String("event", event),
		zap.String("subscription_id", id),
		zap.Int("total_handlers", count))

	var once sync.Once
	return func() {
		once.Do(func() { r.off(event, id) })
	}
}

func (r *Registry) off(event, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[event]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		rest := make([]subscription, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(r.subs, event)
		} else {
			r.subs[event] = rest
		}
		break
	}
}

// Dispatch delivers msg to every handler subscribed to msg.Action and returns
// how many handlers were invoked.
func (r *Registry) Dispatch(msg *types.ActionMessage) int {
	if msg == nil || msg.Action == "" {
		return 0
	}

	r.mu.RLock()
	subs := make([]subscription, len(r.subs[msg.Action]))
	copy(subs, r.subs[msg.Action])
	r.mu.RUnlock()

	if len(subs) == 0 {
		r.logger.Debug("No handlers for event",
			zap.String("event", msg.Action),
			zap.String("message_id", msg.MessageID))
		r.recordDispatch(msg.Action, "no_handlers")
		return 0
	}

	for _, sub := range subs {
		start := time.Now()
		result := "success"

		if err := r.invoke(sub.handler, msg); err != nil {
			result = "error"
			r.logger.Error("Event handler failed",
				zap.String("event", msg.Action),
				zap.String("message_id", msg.MessageID),
				zap.String("subscription_id", sub.id),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
		}

		r.recordDispatch(msg.Action, result)
	}

	return len(subs)
}

// Events lists the event names that currently have at least one handler.
func (r *Registry) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]string, 0, len(r.subs))
	for event := range r.subs {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Registry) invoke(handler types.ActionHandler, msg *types.ActionMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = types.NewErrorf("handler panic: %v", rec)
		}
	}()

	return handler(msg)
}

func (r *Registry) recordDispatch(event, result string) {
	if r.metrics == nil {
		return
	}

	r.metrics.Counter("push_events_dispatched_total", map[string]string{
		"event":  event,
		"result": result,
	}).Inc()
}
