package persist

import (
	"context"
	"time"

	"github.com/saiset-co/giro-sync/types"
)

// StoredRecord is an encoded cache entry as a backend keeps it. A zero
// ExpiresAt never expires.
type StoredRecord struct {
	ID        string
	Payload   []byte
	ExpiresAt time.Time
}

func (r StoredRecord) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Backend is the storage behind a Persister. Replace swaps the whole snapshot,
// so records absent from the new set disappear.
type Backend interface {
	Name() string
	Replace(ctx context.Context, records []StoredRecord) error
	Load(ctx context.Context) ([]StoredRecord, error)
	Delete(ctx context.Context, ids []string) error
	Clear(ctx context.Context) error
	Close() error
}

type BackendCreator func(ctx context.Context, logger types.Logger, config interface{}) (Backend, error)

var customBackendCreators = make(map[string]BackendCreator)

// RegisterBackend makes an additional persistence type available to NewBackend.
func RegisterBackend(backendType string, creator BackendCreator) {
	customBackendCreators[backendType] = creator
}

func NewBackend(ctx context.Context, logger types.Logger, config *types.PersistenceConfig) (Backend, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrPersistIsDisabled
	}

	switch config.Type {
	case "memory":
		return NewMemoryBackend(logger), nil
	case "clover":
		return NewCloverBackend(logger, config.Config)
	case "redis":
		return NewRedisBackend(ctx, logger, config.Config)
	case "sqlite":
		return NewSQLiteBackend(ctx, logger, config.Config)
	default:
		if creator, exists := customBackendCreators[config.Type]; exists {
			return creator(ctx, logger, config.Config)
		}
		return nil, types.Errorf(types.ErrPersistTypeUnknown, "type: %s", config.Type)
	}
}
