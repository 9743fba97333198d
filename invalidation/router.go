package invalidation

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/metrics"
	"github.com/saiset-co/giro-sync/types"
	"github.com/saiset-co/giro-sync/utils"
)

const (
	OriginMutation = "mutation"
	OriginPush     = "push"
)

type Option func(*Router)

// WithActorField maps a push payload field to the actor kind it identifies,
// e.g. "minorista_id" to minoristas.
func WithActorField(field string, kind types.EntityKind) Option {
	return func(r *Router) {
		r.actorFields[field] = kind
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(r *Router) {
		r.metrics = metrics
	}
}

// Router turns mutations and push events into MarkStale calls. Both origins
// go through the same table, so a push and a local mutation of the same
// event invalidate the same keys.
type Router struct {
	logger      types.Logger
	metrics     types.MetricsManager
	store       types.CacheStore
	actorFields map[string]types.EntityKind
	rules       map[string]Rule
	mu          sync.RWMutex
}

func NewRouter(logger types.Logger, store types.CacheStore, opts ...Option) *Router {
	r := &Router{
		logger:      logger,
		store:       store,
		actorFields: make(map[string]types.EntityKind),
		rules:       make(map[string]Rule),
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewNoop()
	}

	return r
}

func (r *Router) Register(rules ...Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rule := range rules {
		if _, _, err := ParseEvent(rule.Event); err != nil {
			return types.Errorf(types.ErrRuleInvalid, "%v", err)
		}
		if len(rule.Targets) == 0 {
			return types.Errorf(types.ErrRuleInvalid, "rule %s has no targets", rule.Event)
		}
		if _, exists := r.rules[rule.Event]; exists {
			return types.Errorf(types.ErrRuleExists, "event: %s", rule.Event)
		}
		r.rules[rule.Event] = rule
	}

	return nil
}

// Events lists the event names that have rules, sorted.
func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]string, 0, len(r.rules))
	for event := range r.rules {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

// Prefixes resolves the full, de-duplicated set of prefixes for m.
func (r *Router) Prefixes(m Mutation) []types.KeyPrefix {
	prefixes := defaultTargets(m)

	r.mu.RLock()
	rule, exists := r.rules[m.Event()]
	r.mu.RUnlock()

	if exists {
		for _, target := range rule.Targets {
			prefixes = append(prefixes, target(m)...)
		}
	}

	seen := make(map[string]struct{}, len(prefixes))
	unique := prefixes[:0]
	for _, prefix := range prefixes {
		id := prefixID(prefix)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, prefix)
	}

	return unique
}

// OnMutation invalidates everything m affects and returns the number of
// entries marked stale. Failures are logged, never returned.
func (r *Router) OnMutation(ctx context.Context, m Mutation) int {
	return r.apply(ctx, m, OriginMutation)
}

// OnPush routes a push event. The payload carries the entity id under "id"
// and actor ids under the configured actor fields.
func (r *Router) OnPush(ctx context.Context, event string, payload interface{}) int {
	kind, op, err := ParseEvent(event)
	if err != nil {
		r.logger.Warn("Ignoring push event", zap.String("event", event), zap.Error(err))
		return 0
	}

	m := Mutation{Kind: kind, Operation: op}

	fields, err := utils.ConvertNumbers[map[string]interface{}](payload)
	if err != nil {
		r.logger.Warn("Push payload is not an object, invalidating by event only",
			zap.String("event", event),
			zap.Error(err))
	}

	m.ID = stringField(fields["id"])
	for field, actorKind := range r.actorFields {
		if id := stringField(fields[field]); id != "" {
			m.Actors = append(m.Actors, types.Actor{Kind: actorKind, ID: id})
		}
	}
	sort.Slice(m.Actors, func(i, j int) bool {
		return m.Actors[i].Kind < m.Actors[j].Kind
	})

	return r.apply(ctx, m, OriginPush)
}

// HandleAction adapts OnPush to the event registry handler signature.
func (r *Router) HandleAction(msg *types.ActionMessage) error {
	if msg == nil {
		return nil
	}
	r.OnPush(context.Background(), msg.Action, msg.Payload)
	return nil
}

// Attach subscribes the router to every event that has a rule. The returned
// func removes all subscriptions.
func (r *Router) Attach(source types.EventSource) func() {
	events := r.Events()
	disposers := make([]func(), 0, len(events))
	for _, event := range events {
		disposers = append(disposers, source.On(event, r.HandleAction))
	}

	r.logger.Debug("Invalidation router attached", zap.Strings("events", events))

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, dispose := range disposers {
				dispose()
			}
		})
	}
}

func (r *Router) apply(_ context.Context, m Mutation, origin string) int {
	event := m.Event()

	if err := m.Validate(); err != nil {
		r.logger.Warn("Skipping invalid mutation", zap.String("event", event), zap.Error(err))
		return 0
	}

	prefixes := r.Prefixes(m)
	total := 0
	applied := make([]string, 0, len(prefixes))

	for _, prefix := range prefixes {
		if err := prefix.Validate(); err != nil {
			r.logger.Warn("Skipping malformed invalidation target",
				zap.String("event", event),
				zap.String("prefix", prefix.String()),
				zap.Error(err))
			continue
		}
		total += r.store.MarkStale(prefix)
		applied = append(applied, prefix.String())
	}

	r.metrics.Counter("invalidation_events_total", map[string]string{
		"event":  event,
		"origin": origin,
	}).Inc()
	r.metrics.Counter("invalidation_keys_total", map[string]string{
		"event": event,
	}).Add(float64(total))

	r.logger.Debug("Invalidation applied",
		zap.String("event", event),
		zap.String("origin", origin),
		zap.String("id", m.ID),
		zap.Strings("prefixes", applied),
		zap.Int("entries", total))

	return total
}

// Mutate runs fn and, only when it succeeds, invalidates what describe
// derives from the result. A failed mutation is returned unchanged.
func Mutate[T any](ctx context.Context, r *Router, fn func(ctx context.Context) (T, error), describe func(result T) Mutation) (T, error) {
	result, err := fn(ctx)
	if err != nil {
		return result, err
	}

	r.OnMutation(ctx, describe(result))
	return result, nil
}

func prefixID(p types.KeyPrefix) string {
	id := p.String()
	if len(p.Params) == 0 {
		return id
	}

	names := make([]string, 0, len(p.Params))
	for name := range p.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(id)
	for _, name := range names {
		b.WriteString("&" + name + "=" + p.Params[name])
	}
	return b.String()
}

func stringField(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case uint64:
		return strconv.FormatUint(v, 10)
	case nil:
		return ""
	default:
		return ""
	}
}
