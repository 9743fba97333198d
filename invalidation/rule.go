package invalidation

import (
	"github.com/saiset-co/giro-sync/types"
)

// Target derives the key prefixes a mutation makes stale.
type Target func(m Mutation) []types.KeyPrefix

// Rule lists the cross-entity targets for one event. The mutated entity's
// own keys are always covered by the defaults and need not be repeated.
type Rule struct {
	Event   string
	Targets []Target
}

func Lists(kind types.EntityKind) Target {
	return func(Mutation) []types.KeyPrefix {
		return []types.KeyPrefix{types.ListsOf(kind)}
	}
}

func All(kind types.EntityKind) Target {
	return func(Mutation) []types.KeyPrefix {
		return []types.KeyPrefix{types.AllOf(kind)}
	}
}

// Detail targets kind's detail key for the mutated id.
func Detail(kind types.EntityKind) Target {
	return func(m Mutation) []types.KeyPrefix {
		if m.ID == "" {
			return nil
		}
		return []types.KeyPrefix{types.DetailOf(kind, m.ID)}
	}
}

// ActorDetail targets kind's detail key for every actor of actorKind,
// e.g. the balance of the minorista that created a giro.
func ActorDetail(actorKind, kind types.EntityKind) Target {
	return func(m Mutation) []types.KeyPrefix {
		ids := m.ActorsOf(actorKind)
		prefixes := make([]types.KeyPrefix, 0, len(ids))
		for _, id := range ids {
			prefixes = append(prefixes, types.DetailOf(kind, id))
		}
		return prefixes
	}
}

// ActorLists targets kind's lists filtered by param = actor id.
func ActorLists(actorKind, kind types.EntityKind, param string) Target {
	return func(m Mutation) []types.KeyPrefix {
		ids := m.ActorsOf(actorKind)
		prefixes := make([]types.KeyPrefix, 0, len(ids))
		for _, id := range ids {
			prefixes = append(prefixes, types.KeyPrefix{
				Kind:      kind,
				ListsOnly: true,
				Params:    map[string]string{param: id},
			})
		}
		return prefixes
	}
}

// defaultTargets covers the mutated entity itself: lists for creates,
// the detail key plus lists for everything else.
func defaultTargets(m Mutation) []types.KeyPrefix {
	if m.Operation == OpCreate || m.ID == "" {
		return []types.KeyPrefix{types.ListsOf(m.Kind)}
	}
	return []types.KeyPrefix{types.DetailOf(m.Kind, m.ID), types.ListsOf(m.Kind)}
}
