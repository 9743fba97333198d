package persist

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/types"
)

// MemoryBackend keeps records in process memory. It survives a store Clear
// but not a restart.
type MemoryBackend struct {
	logger  types.Logger
	mu      sync.RWMutex
	records map[string]StoredRecord
}

func NewMemoryBackend(logger types.Logger) *MemoryBackend {
	return &MemoryBackend{
		logger:  logger,
		records: make(map[string]StoredRecord),
	}
}

func (m *MemoryBackend) Name() string {
	return "memory"
}

func (m *MemoryBackend) Replace(_ context.Context, records []StoredRecord) error {
	next := make(map[string]StoredRecord, len(records))
	for _, record := range records {
		next[record.ID] = copyRecord(record)
	}

	m.mu.Lock()
	m.records = next
	m.mu.Unlock()

	m.logger.Debug("Memory snapshot replaced", zap.Int("records", len(records)))
	return nil
}

func (m *MemoryBackend) Load(_ context.Context) ([]StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]StoredRecord, 0, len(m.records))
	for _, record := range m.records {
		result = append(result, copyRecord(record))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (m *MemoryBackend) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	m.records = make(map[string]StoredRecord)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

func copyRecord(record StoredRecord) StoredRecord {
	payload := make([]byte, len(record.Payload))
	copy(payload, record.Payload)
	record.Payload = payload
	return record
}
