package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS kv_entries (
	entry_key   TEXT PRIMARY KEY,
	entry_value TEXT NOT NULL,
	origin      TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
)`

// SQLBackend stores entries in a SQL table. Change notifications are
// delivered in-process only.
type SQLBackend struct {
	db  *sql.DB
	hub hub
	now func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database at path
func OpenSQLite(ctx context.Context, path string) (*SQLBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	backend, err := NewSQLBackend(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

// NewSQLBackend wraps db and creates the entries table if needed
func NewSQLBackend(ctx context.Context, db *sql.DB) (*SQLBackend, error) {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create kv_entries table: %w", err)
	}
	return &SQLBackend{db: db, now: time.Now}, nil
}

// DB exposes the handle for health checks
func (b *SQLBackend) DB() *sql.DB {
	return b.db
}

func (b *SQLBackend) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := b.db.QueryRowContext(ctx,
		`SELECT entry_value FROM kv_entries WHERE entry_key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (b *SQLBackend) Set(ctx context.Context, origin, key, value string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv_entries (entry_key, entry_value, origin, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entry_key) DO UPDATE SET
			entry_value = excluded.entry_value,
			origin = excluded.origin,
			updated_at = excluded.updated_at`,
		key, value, origin, b.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	b.hub.publish(Change{Key: key, Value: value, Origin: origin})
	return nil
}

// Delete removes keys in a single transaction
func (b *SQLBackend) Delete(ctx context.Context, origin string, keys ...string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var changes []Change
	for _, key := range keys {
		res, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE entry_key = ?`, key)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changes = append(changes, Change{Key: key, Deleted: true, Origin: origin})
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	b.hub.publish(changes...)
	return nil
}

func (b *SQLBackend) Watch(fn func(Change)) func() {
	return b.hub.watch(fn)
}

func (b *SQLBackend) Close() error {
	b.hub.reset()
	return b.db.Close()
}
