package persist

import (
	"bytes"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/crypto/blake2b"

	"github.com/saiset-co/giro-sync/types"
	"github.com/saiset-co/giro-sync/utils"
)

const compressionLevel = brotli.DefaultCompression

// record is the decoded payload of a StoredRecord.
type record struct {
	Key       types.CacheKey `json:"key"`
	Data      interface{}    `json:"data"`
	FetchedAt time.Time      `json:"fetched_at"`
}

var writerPool = sync.Pool{
	New: func() interface{} {
		return brotli.NewWriterLevel(nil, compressionLevel)
	},
}

// RecordID derives the backend id of a key from its canonical form.
func RecordID(key types.CacheKey) string {
	sum := blake2b.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}

func encodeRecord(r *record) ([]byte, error) {
	raw, err := utils.Marshal(r)
	if err != nil {
		return nil, types.WrapError(err, "failed to encode record")
	}

	var buf bytes.Buffer
	writer := writerPool.Get().(*brotli.Writer)
	writer.Reset(&buf)
	defer func() {
		writer.Reset(nil)
		writerPool.Put(writer)
	}()

	if _, err = writer.Write(raw); err != nil {
		return nil, types.WrapError(err, "failed to compress record")
	}
	if err = writer.Close(); err != nil {
		return nil, types.WrapError(err, "failed to compress record")
	}

	return buf.Bytes(), nil
}

func decodeRecord(payload []byte) (*record, error) {
	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return nil, types.Errorf(types.ErrPersistRecordBroken, "decompress: %v", err)
	}

	r := &record{}
	if err = utils.Unmarshal(raw, r); err != nil {
		return nil, types.Errorf(types.ErrPersistRecordBroken, "decode: %v", err)
	}
	if r.Key.Kind == "" || r.FetchedAt.IsZero() {
		return nil, types.Errorf(types.ErrPersistRecordBroken, "missing key or fetch time")
	}

	return r, nil
}
