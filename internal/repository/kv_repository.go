package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tempo/backend/internal/store"
)

// KVRepository persists namespaced string keys in SQLite. It satisfies
// store.KV, so the services never see database/sql.
type KVRepository struct {
	db *sql.DB
}

func NewKVRepository(db *sql.DB) *KVRepository {
	return &KVRepository{db: db}
}

func (r *KVRepository) Get(ctx context.Context, namespace, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(
		ctx,
		`SELECT value FROM kv_store WHERE namespace = ? AND key = ?`,
		namespace,
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

func (r *KVRepository) Set(ctx context.Context, namespace, key, value string) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO kv_store (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace,
		key,
		value,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (r *KVRepository) Delete(ctx context.Context, namespace, key string) error {
	_, err := r.db.ExecContext(
		ctx,
		`DELETE FROM kv_store WHERE namespace = ? AND key = ?`,
		namespace,
		key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}
