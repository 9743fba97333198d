package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/giro-sync/action"
	"github.com/saiset-co/giro-sync/cache"
	"github.com/saiset-co/giro-sync/logger"
	"github.com/saiset-co/giro-sync/policy"
	"github.com/saiset-co/giro-sync/types"
)

const (
	kindGiros      types.EntityKind = "giros"
	kindBalance    types.EntityKind = "minorista-balance"
	kindDashboard  types.EntityKind = "dashboard"
	kindMinoristas types.EntityKind = "minoristas"
)

type recordingStore struct {
	types.CacheStore
	mu     sync.Mutex
	marked []string
}

func (s *recordingStore) MarkStale(prefix types.KeyPrefix) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, prefixID(prefix))
	return 1
}

func (s *recordingStore) Marked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.marked...)
}

func giroRules() []Rule {
	return []Rule{
		{
			Event:   "giros.created",
			Targets: []Target{All(kindDashboard), ActorDetail(kindMinoristas, kindBalance)},
		},
		{
			Event:   "giros.executed",
			Targets: []Target{All(kindDashboard), ActorDetail(kindMinoristas, kindBalance)},
		},
	}
}

func newTestRouter(t *testing.T, store types.CacheStore) *Router {
	t.Helper()

	r := NewRouter(logger.NewZapWrapper(zaptest.NewLogger(t)), store,
		WithActorField("minorista_id", kindMinoristas))
	require.NoError(t, r.Register(giroRules()...))
	return r
}

func TestRouter_DefaultTargets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutation Mutation
		want     []string
	}{
		{
			name:     "create invalidates lists",
			mutation: Mutation{Kind: "users", ID: "u1", Operation: OpCreate},
			want:     []string{"users|<lists>"},
		},
		{
			name:     "update invalidates detail and lists",
			mutation: Mutation{Kind: "users", ID: "u1", Operation: OpUpdate},
			want:     []string{"users|u1", "users|<lists>"},
		},
		{
			name:     "delete invalidates detail and lists",
			mutation: Mutation{Kind: "bank-accounts", ID: "a1", Operation: OpDelete},
			want:     []string{"bank-accounts|a1", "bank-accounts|<lists>"},
		},
		{
			name:     "approve behaves like update",
			mutation: Mutation{Kind: "recharges", ID: "r1", Operation: OpApprove},
			want:     []string{"recharges|r1", "recharges|<lists>"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := &recordingStore{}
			r := newTestRouter(t, store)
			assert.Equal(t, len(tt.want), r.OnMutation(context.Background(), tt.mutation))
			assert.Equal(t, tt.want, store.Marked())
		})
	}
}

func TestRouter_ActorScopedFanOut(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	r := newTestRouter(t, store)

	r.OnMutation(context.Background(), Mutation{
		Kind:      kindGiros,
		ID:        "g1",
		Operation: OpCreate,
		Actors:    []types.Actor{{Kind: kindMinoristas, ID: "M"}},
	})

	assert.Equal(t, []string{"giros|<lists>", "dashboard", "minorista-balance|M"}, store.Marked())
}

func TestRouter_PushMatchesMutation(t *testing.T) {
	t.Parallel()

	fromMutation := &recordingStore{}
	newTestRouter(t, fromMutation).OnMutation(context.Background(), Mutation{
		Kind:      kindGiros,
		ID:        "g7",
		Operation: OpExecute,
		Actors:    []types.Actor{{Kind: kindMinoristas, ID: "M"}},
	})

	fromPush := &recordingStore{}
	newTestRouter(t, fromPush).OnPush(context.Background(), "giros.executed", map[string]interface{}{
		"id":           "g7",
		"minorista_id": "M",
		"amount":       150.5,
	})

	assert.Equal(t, fromMutation.Marked(), fromPush.Marked())
	assert.Contains(t, fromPush.Marked(), "minorista-balance|M")
}

func TestRouter_PushWithNumericIDs(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	r := newTestRouter(t, store)

	r.OnPush(context.Background(), "giros.executed", map[string]interface{}{"id": float64(42), "minorista_id": float64(7)})
	assert.Contains(t, store.Marked(), "giros|42")
	assert.Contains(t, store.Marked(), "minorista-balance|7")
}

func TestRouter_PushWithLargeNumericIDs(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	r := newTestRouter(t, store)

	r.OnPush(context.Background(), "giros.executed", map[string]interface{}{
		"id":           json.Number("9007199254740993"),
		"minorista_id": json.Number("9007199254740995"),
	})
	assert.Contains(t, store.Marked(), "giros|9007199254740993")
	assert.Contains(t, store.Marked(), "minorista-balance|9007199254740995")

	type executed struct {
		ID uint64 `json:"id"`
	}
	store = &recordingStore{}
	r = newTestRouter(t, store)

	r.OnPush(context.Background(), "giros.executed", executed{ID: 9007199254740993})
	assert.Contains(t, store.Marked(), "giros|9007199254740993")
}

func TestRouter_MalformedInputIsIgnored(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	r := newTestRouter(t, store)
	require.NoError(t, r.Register(Rule{
		Event: "users.deleted",
		Targets: []Target{func(Mutation) []types.KeyPrefix {
			return []types.KeyPrefix{{}, types.ListsOf("minoristas")}
		}},
	}))

	assert.Equal(t, 0, r.OnPush(context.Background(), "nonsense", nil))
	assert.Equal(t, 0, r.OnPush(context.Background(), "giros.exploded", nil))
	assert.Equal(t, 0, r.OnMutation(context.Background(), Mutation{Operation: OpCreate}))
	assert.Empty(t, store.Marked())

	assert.Equal(t, 3, r.OnMutation(context.Background(), Mutation{Kind: "users", ID: "u1", Operation: OpDelete}))
	assert.Equal(t, []string{"users|u1", "users|<lists>", "minoristas|<lists>"}, store.Marked())
}

func TestRouter_RegisterValidation(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &recordingStore{})

	require.ErrorIs(t, r.Register(giroRules()[0]), types.ErrRuleExists)
	require.ErrorIs(t, r.Register(Rule{Event: "giros", Targets: []Target{Lists(kindGiros)}}), types.ErrRuleInvalid)
	require.ErrorIs(t, r.Register(Rule{Event: "giros.returned"}), types.ErrRuleInvalid)
	assert.Equal(t, []string{"giros.created", "giros.executed"}, r.Events())
}

func TestMutate_FailureInvalidatesNothing(t *testing.T) {
	t.Parallel()

	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	store := cache.NewStore(context.Background(), log, policy.New())
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	listKey := types.ListKey(kindGiros, nil)
	balanceKey := types.DetailKey(kindBalance, "M")
	store.Set(listKey, "giros")
	store.Set(balanceKey, 100)

	r := NewRouter(log, store, WithActorField("minorista_id", kindMinoristas))
	require.NoError(t, r.Register(giroRules()...))

	describe := func(id string) Mutation {
		return Mutation{Kind: kindGiros, ID: id, Operation: OpCreate, Actors: []types.Actor{{Kind: kindMinoristas, ID: "M"}}}
	}

	rejected := &types.RequestError{Kind: types.KindClient, Status: 422, Message: "insufficient balance"}
	_, err := Mutate(context.Background(), r, func(context.Context) (string, error) {
		return "", rejected
	}, describe)
	require.True(t, errors.Is(err, rejected))

	for _, key := range []types.CacheKey{listKey, balanceKey} {
		entry, ok := store.Get(key)
		require.True(t, ok)
		assert.Equal(t, types.StateFresh, entry.State, key.String())
	}

	id, err := Mutate(context.Background(), r, func(context.Context) (string, error) {
		return "g1", nil
	}, describe)
	require.NoError(t, err)
	assert.Equal(t, "g1", id)

	for _, key := range []types.CacheKey{listKey, balanceKey} {
		entry, _ := store.Get(key)
		assert.Equal(t, types.StateStale, entry.State, key.String())
	}
}

func TestRouter_Attach(t *testing.T) {
	t.Parallel()

	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	store := &recordingStore{}
	r := newTestRouter(t, store)
	registry := action.NewRegistry(log)

	dispose := r.Attach(registry)
	assert.Equal(t, 1, registry.Dispatch(&types.ActionMessage{
		Action:  "giros.created",
		Payload: map[string]interface{}{"id": "g1", "minorista_id": "M"},
	}))
	assert.Contains(t, store.Marked(), "minorista-balance|M")

	dispose()
	dispose()
	assert.Equal(t, 0, registry.Dispatch(&types.ActionMessage{Action: "giros.created"}))
}
