package persist

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saiset-co/giro-sync/logger"
)

// exerciseBackend checks the behavior every backend shares.
func exerciseBackend(t *testing.T, backend Backend) {
	t.Helper()

	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	require.NoError(t, backend.Clear(ctx))

	first := []StoredRecord{
		{ID: "a", Payload: []byte{0x00, 0x01, 0xff}, ExpiresAt: expiresAt},
		{ID: "b", Payload: []byte("second")},
		{ID: "c", Payload: []byte("third")},
	}
	require.NoError(t, backend.Replace(ctx, first))

	loaded := loadSorted(t, backend)
	require.Len(t, loaded, 3)
	assert.Equal(t, []byte{0x00, 0x01, 0xff}, loaded[0].Payload)
	assert.True(t, expiresAt.Equal(loaded[0].ExpiresAt), "expiry %v != %v", loaded[0].ExpiresAt, expiresAt)
	assert.True(t, loaded[1].ExpiresAt.IsZero())

	require.NoError(t, backend.Replace(ctx, []StoredRecord{
		{ID: "b", Payload: []byte("second v2")},
		{ID: "d", Payload: []byte("fourth")},
	}))

	loaded = loadSorted(t, backend)
	require.Len(t, loaded, 2)
	assert.Equal(t, "b", loaded[0].ID)
	assert.Equal(t, []byte("second v2"), loaded[0].Payload)
	assert.Equal(t, "d", loaded[1].ID)

	require.NoError(t, backend.Delete(ctx, []string{"d", "missing"}))
	loaded = loadSorted(t, backend)
	require.Len(t, loaded, 1)
	assert.Equal(t, "b", loaded[0].ID)

	require.NoError(t, backend.Delete(ctx, nil))
	require.NoError(t, backend.Clear(ctx))
	assert.Empty(t, loadSorted(t, backend))
}

func loadSorted(t *testing.T, backend Backend) []StoredRecord {
	t.Helper()

	records, err := backend.Load(context.Background())
	require.NoError(t, err)

	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].ID < records[j-1].ID; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
	return records
}

func TestMemoryBackend(t *testing.T) {
	t.Parallel()

	exerciseBackend(t, NewMemoryBackend(logger.NewZapWrapper(zaptest.NewLogger(t))))
}

func TestCloverBackend(t *testing.T) {
	t.Parallel()

	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	dir := filepath.Join(t.TempDir(), "clover")

	backend, err := NewCloverBackend(log, map[string]interface{}{"path": dir})
	require.NoError(t, err)

	exerciseBackend(t, backend)

	require.NoError(t, backend.Replace(context.Background(), []StoredRecord{{ID: "kept", Payload: []byte("x")}}))
	require.NoError(t, backend.Close())

	reopened, err := NewCloverBackend(log, map[string]interface{}{"path": dir})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	records, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].ID)
}

func TestSQLiteBackend(t *testing.T) {
	t.Parallel()

	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	path := filepath.Join(t.TempDir(), "cache.db")

	backend, err := NewSQLiteBackend(context.Background(), log, map[string]interface{}{"path": path})
	require.NoError(t, err)

	exerciseBackend(t, backend)
	require.NoError(t, backend.Close())
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	host, portStr, found := strings.Cut(addr, ":")
	require.True(t, found, "REDIS_ADDR must be host:port")
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	log := logger.NewZapWrapper(zaptest.NewLogger(t))
	backend, err := NewRedisBackend(context.Background(), log, map[string]interface{}{
		"host":       host,
		"port":       port,
		"key_prefix": "giro-sync-test-" + strconv.FormatInt(time.Now().UnixNano(), 36),
	})
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	exerciseBackend(t, backend)
}
