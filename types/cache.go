package types

import (
	"context"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Forever marks a tier horizon that never elapses.
const Forever = time.Duration(math.MaxInt64)

type EntityKind string

type EntryState int32

const (
	StateFresh EntryState = iota
	StateStale
	StateFetching
	StateError
)

func (s EntryState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateFetching:
		return "fetching"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

type TierName string

const (
	TierVolatile    TierName = "volatile"
	TierNormal      TierName = "normal"
	TierLowPriority TierName = "low-priority"
	TierStatic      TierName = "static"
)

// Tier is a freshness class: data is stale after StaleTime and collectable
// after GCTime once nothing observes it.
type Tier struct {
	Name      TierName      `yaml:"name" json:"name"`
	StaleTime time.Duration `yaml:"stale_time" json:"stale_time"`
	GCTime    time.Duration `yaml:"gc_time" json:"gc_time"`
}

// IsStaleAt reports whether data fetched at fetchedAt is stale at now.
func (t Tier) IsStaleAt(fetchedAt, now time.Time) bool {
	if t.StaleTime == Forever {
		return false
	}
	return now.Sub(fetchedAt) > t.StaleTime
}

// IsCollectableAt reports whether an entry last updated at updatedAt is past the GC horizon.
func (t Tier) IsCollectableAt(updatedAt, now time.Time) bool {
	if t.GCTime == Forever {
		return false
	}
	return now.Sub(updatedAt) > t.GCTime
}

// StalenessPolicy assigns a tier per entity kind.
type StalenessPolicy interface {
	TierFor(kind EntityKind) Tier
}

// CacheKey identifies a cached result. Equality is structural: kind, id and
// the parameter set (order-independent) must match.
type CacheKey struct {
	Kind   EntityKind        `json:"kind"`
	ID     string            `json:"id,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

func NewKey(kind EntityKind, id string, params map[string]string) CacheKey {
	key := CacheKey{Kind: kind, ID: id}
	if len(params) > 0 {
		key.Params = make(map[string]string, len(params))
		for k, v := range params {
			if v == "" {
				continue
			}
			key.Params[k] = v
		}
	}
	return key
}

func ListKey(kind EntityKind, params map[string]string) CacheKey {
	return NewKey(kind, "", params)
}

func DetailKey(kind EntityKind, id string) CacheKey {
	return NewKey(kind, id, nil)
}

// String is the canonical serialization used as map key and persisted key.
// Every part is query-escaped, so separators only ever come from the layout
// kind|id?name=value&name=value with names sorted.
func (k CacheKey) String() string {
	var b strings.Builder
	b.Grow(len(k.Kind) + len(k.ID) + len(k.Params)*16 + 2)
	b.WriteString(url.QueryEscape(string(k.Kind)))
	b.WriteByte('|')
	b.WriteString(url.QueryEscape(k.ID))

	if len(k.Params) == 0 {
		return b.String()
	}

	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(k.Params[name]))
	}

	return b.String()
}

func (k CacheKey) Equal(other CacheKey) bool {
	return k.String() == other.String()
}

func (k CacheKey) IsList() bool {
	return k.ID == ""
}

// KeyPrefix selects a family of keys for invalidation or removal.
type KeyPrefix struct {
	Kind      EntityKind
	ID        string
	ListsOnly bool
	Params    map[string]string
}

func AllOf(kind EntityKind) KeyPrefix {
	return KeyPrefix{Kind: kind}
}

func ListsOf(kind EntityKind) KeyPrefix {
	return KeyPrefix{Kind: kind, ListsOnly: true}
}

func DetailOf(kind EntityKind, id string) KeyPrefix {
	return KeyPrefix{Kind: kind, ID: id}
}

func (p KeyPrefix) Validate() error {
	if p.Kind == "" {
		return Errorf(ErrCachePrefixInvalid, "empty kind")
	}
	if p.ListsOnly && p.ID != "" {
		return Errorf(ErrCachePrefixInvalid, "lists-only prefix with id %q", p.ID)
	}
	return nil
}

func (p KeyPrefix) Matches(key CacheKey) bool {
	if p.Kind != key.Kind {
		return false
	}
	if p.ListsOnly && key.ID != "" {
		return false
	}
	if p.ID != "" && p.ID != key.ID {
		return false
	}
	for name, value := range p.Params {
		if key.Params[name] != value {
			return false
		}
	}
	return true
}

func (p KeyPrefix) String() string {
	s := string(p.Kind)
	switch {
	case p.ListsOnly:
		s += "|<lists>"
	case p.ID != "":
		s += "|" + p.ID
	}
	return s
}

// CacheEntry is a point-in-time view of a cached result.
type CacheEntry struct {
	Key       CacheKey
	Data      interface{}
	FetchedAt time.Time
	UpdatedAt time.Time
	State     EntryState
	Tier      Tier
	Err       error
	Observers int
}

func (e CacheEntry) HasData() bool {
	return !e.FetchedAt.IsZero()
}

// FetchFunc loads the value for one key from the backend.
type FetchFunc func(ctx context.Context) (interface{}, error)

// CacheStore is the contract the invalidation router and the prefetcher rely on.
type CacheStore interface {
	Get(key CacheKey) (CacheEntry, bool)
	Set(key CacheKey, data interface{})
	MarkStale(prefix KeyPrefix) int
	Remove(prefix KeyPrefix) int
	Prefetch(ctx context.Context, key CacheKey, fn FetchFunc) (bool, error)
}
