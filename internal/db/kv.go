package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/kimhsiao/coachsync/internal/errors"
)

// KV is a key/value table on top of DB. It satisfies queue.KV.
type KV struct {
	db *DB
}

// NewKV returns a KV over db.
func NewKV(db *DB) *KV {
	return &KV{db: db}
}

// Get returns the value for key and whether it exists.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := kv.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrDatabase, "read kv entry", err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value atomically.
func (kv *KV) Put(ctx context.Context, key string, value []byte) error {
	tx, err := kv.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "begin kv write", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, query, key, value, time.Now().UnixMilli()); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "write kv entry", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "commit kv write", err)
	}
	return nil
}
