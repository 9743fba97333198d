package cache

import (
	"context"

	"github.com/saiset-co/giro-sync/types"
	"github.com/saiset-co/giro-sync/utils"
)

// Query is the typed read path over Store.Fetch. Data restored from a
// snapshot comes back as generic maps and is converted to T.
func Query[T any](ctx context.Context, s *Store, key types.CacheKey, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	entry, err := s.Fetch(ctx, key, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}

	return utils.Convert[T](entry.Data)
}

// Peek returns the cached value for key without fetching.
func Peek[T any](s *Store, key types.CacheKey) (T, bool) {
	var zero T

	entry, ok := s.Get(key)
	if !ok || !entry.HasData() {
		return zero, false
	}

	value, err := utils.Convert[T](entry.Data)
	if err != nil {
		return zero, false
	}

	return value, true
}
