// Package sqlite provides an embedded SQLite key-value store backend.
// It is the default metadata backend for single-node deployments and the
// dedup-io tool.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/prn-tf/leopold-dedup/internal/store"
)

// KVStore implements store.KVStore on a local SQLite database.
type KVStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds configuration for the SQLite key-value store.
type Config struct {
	// Path is the database file path. ":memory:" opens a transient
	// in-memory database.
	Path string
}

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// NewKVStore opens (and if necessary initialises) the database.
func NewKVStore(cfg Config, logger zerolog.Logger) (*KVStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under interleaved sub-batch execution.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise kv schema: %w", err)
	}

	logger.Info().
		Str("path", cfg.Path).
		Msg("sqlite kv store initialized")

	return &KVStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *KVStore) Close() error {
	return s.db.Close()
}

// Put stores value under the key, overwriting any previous value.
func (s *KVStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	query := `
		INSERT INTO kv (namespace, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value
	`

	if _, err := s.db.ExecContext(ctx, query, namespace, key, value); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Get returns the value stored under the key.
func (s *KVStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if namespace == "" {
		return nil, store.ErrInvalidNamespace
	}

	query := `SELECT value FROM kv WHERE namespace = ? AND key = ?`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, namespace, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Delete removes the key.
func (s *KVStore) Delete(ctx context.Context, namespace, key string) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	query := `DELETE FROM kv WHERE namespace = ? AND key = ?`

	res, err := s.db.ExecContext(ctx, query, namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if affected == 0 {
		return store.ErrKeyNotFound
	}
	return nil
}

// List returns all keys in the namespace starting with prefix.
func (s *KVStore) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	if namespace == "" {
		return nil, store.ErrInvalidNamespace
	}

	query := `SELECT key FROM kv WHERE namespace = ? AND key LIKE ? ESCAPE '\'`

	rows, err := s.db.QueryContext(ctx, query, namespace, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Ensure KVStore implements store.KVStore
var _ store.KVStore = (*KVStore)(nil)
