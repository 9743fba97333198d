package persist

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/types"
	"github.com/saiset-co/giro-sync/utils"
)

type SQLiteConfig struct {
	Path string `json:"path"`
}

// SQLiteBackend keeps the snapshot in a single cache_entries table.
// expires_at holds unix nanoseconds, 0 for never.
type SQLiteBackend struct {
	db     *sql.DB
	logger types.Logger
	config *SQLiteConfig
}

func NewSQLiteBackend(ctx context.Context, logger types.Logger, config interface{}) (*SQLiteBackend, error) {
	sqliteConfig := &SQLiteConfig{
		Path: "./data/giro-sync.db",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, sqliteConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal sqlite config")
		}
	}

	db, err := sql.Open("sqlite3", sqliteConfig.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite database")
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteBackend{
		db:     db,
		logger: logger,
		config: sqliteConfig,
	}

	if err = s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("SQLite persistence opened", zap.String("path", sqliteConfig.Path))

	return s, nil
}

func (s *SQLiteBackend) Name() string {
	return "sqlite"
}

func (s *SQLiteBackend) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return types.WrapError(err, "failed to create cache_entries table")
	}
	return nil
}

func (s *SQLiteBackend) Replace(ctx context.Context, records []StoredRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.WrapError(err, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return types.WrapError(err, "failed to delete previous snapshot")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO cache_entries (id, payload, expires_at) VALUES (?, ?, ?)`)
	if err != nil {
		return types.WrapError(err, "failed to prepare insert")
	}
	defer func(stmt *sql.Stmt) {
		if err := stmt.Close(); err != nil {
			s.logger.Error("Failed to close statement", zap.Error(err))
		}
	}(stmt)

	for _, record := range records {
		if _, err = stmt.ExecContext(ctx, record.ID, record.Payload, toUnixNano(record.ExpiresAt)); err != nil {
			return types.WrapError(err, "failed to insert record")
		}
	}

	if err = tx.Commit(); err != nil {
		return types.WrapError(err, "failed to commit snapshot")
	}
	return nil
}

func (s *SQLiteBackend) Load(ctx context.Context) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload, expires_at FROM cache_entries ORDER BY id`)
	if err != nil {
		return nil, types.WrapError(err, "failed to query records")
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			s.logger.Error("Failed to close database rows", zap.Error(err))
		}
	}(rows)

	var records []StoredRecord
	for rows.Next() {
		var (
			record    StoredRecord
			expiresAt int64
		)
		if err = rows.Scan(&record.ID, &record.Payload, &expiresAt); err != nil {
			return nil, types.WrapError(err, "failed to scan record")
		}
		record.ExpiresAt = fromUnixNano(expiresAt)
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, types.WrapError(err, "failed to iterate records")
	}
	return records, nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return types.WrapError(err, "failed to delete records")
	}
	return nil
}

func (s *SQLiteBackend) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return types.WrapError(err, "failed to clear records")
	}
	return nil
}

func (s *SQLiteBackend) Close() error {
	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite database")
	}

	s.logger.Info("SQLite persistence closed")
	return nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
