package persist

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/types"
	"github.com/saiset-co/giro-sync/utils"
)

const (
	fieldRecordID  = "record_id"
	fieldPayload   = "payload"
	fieldExpiresAt = "expires_at"
)

type CloverConfig struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
}

// CloverBackend stores one document per record in an embedded clover
// database. Payloads are kept base64 encoded and times as RFC 3339 strings.
type CloverBackend struct {
	db     *clover.DB
	logger types.Logger
	config *CloverConfig
}

func NewCloverBackend(logger types.Logger, config interface{}) (*CloverBackend, error) {
	cloverConfig := &CloverConfig{
		Path:       "./data/giro-sync",
		Collection: "cache_entries",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, cloverConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover config")
		}
	}

	db, err := clover.Open(cloverConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open clover database")
	}

	c := &CloverBackend{
		db:     db,
		logger: logger,
		config: cloverConfig,
	}

	if err = c.ensureCollection(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Clover persistence opened",
		zap.String("path", cloverConfig.Path),
		zap.String("collection", cloverConfig.Collection))

	return c, nil
}

func (c *CloverBackend) Name() string {
	return "clover"
}

func (c *CloverBackend) Replace(_ context.Context, records []StoredRecord) error {
	if err := c.db.Query(c.config.Collection).Delete(); err != nil {
		return types.WrapError(err, "failed to delete previous snapshot")
	}

	if len(records) == 0 {
		return nil
	}

	docs := make([]*clover.Document, 0, len(records))
	for _, record := range records {
		doc := clover.NewDocument()
		doc.Set(fieldRecordID, record.ID)
		doc.Set(fieldPayload, base64.StdEncoding.EncodeToString(record.Payload))
		doc.Set(fieldExpiresAt, formatExpiry(record.ExpiresAt))
		docs = append(docs, doc)
	}

	if err := c.db.Insert(c.config.Collection, docs...); err != nil {
		return types.WrapError(err, "failed to insert records")
	}

	return nil
}

func (c *CloverBackend) Load(_ context.Context) ([]StoredRecord, error) {
	docs, err := c.db.Query(c.config.Collection).FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to read records")
	}

	records := make([]StoredRecord, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc.Get(fieldRecordID).(string)
		encoded, _ := doc.Get(fieldPayload).(string)
		expires, _ := doc.Get(fieldExpiresAt).(string)

		payload, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			c.logger.Warn("Skipping undecodable clover document", zap.String("id", id), zap.Error(err))
			payload = nil
		}

		expiresAt, err := parseExpiry(expires)
		if err != nil {
			c.logger.Warn("Skipping clover document with bad expiry", zap.String("id", id), zap.Error(err))
			payload = nil
		}

		records = append(records, StoredRecord{ID: id, Payload: payload, ExpiresAt: expiresAt})
	}

	return records, nil
}

func (c *CloverBackend) Delete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}

	err := c.db.Query(c.config.Collection).Where(clover.Field(fieldRecordID).In(values...)).Delete()
	if err != nil {
		return types.WrapError(err, "failed to delete records")
	}
	return nil
}

func (c *CloverBackend) Clear(_ context.Context) error {
	if err := c.db.Query(c.config.Collection).Delete(); err != nil {
		return types.WrapError(err, "failed to clear records")
	}
	return nil
}

func (c *CloverBackend) Close() error {
	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	c.logger.Info("Clover persistence closed")
	return nil
}

func (c *CloverBackend) ensureCollection() error {
	exists, err := c.db.HasCollection(c.config.Collection)
	if err != nil {
		return types.WrapError(err, "failed to check collection existence")
	}
	if exists {
		return nil
	}

	if err = c.db.CreateCollection(c.config.Collection); err != nil {
		return types.WrapError(err, "failed to create collection")
	}
	return nil
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseExpiry(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
