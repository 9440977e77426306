// Package storage keeps client-side state in a local SQLite file: the
// persisted session and the log of imported queue messages.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ledger/internal/session"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

var _ session.Persister = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := Migrate(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Ping reports whether the database is still reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Load implements session.Persister. Missing keys are absent from the map.
func (r *SQLiteRepository) Load(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	query := "SELECT key, value FROM session_entries WHERE key IN (" + placeholders(len(keys)) + ")"
	rows, err := r.db.QueryContext(ctx, query, anySlice(keys)...)
	if err != nil {
		return nil, fmt.Errorf("query session entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan session entry: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session entries: %w", err)
	}
	return out, nil
}

// Store implements session.Persister. All entries are written in one
// transaction.
func (r *SQLiteRepository) Store(ctx context.Context, entries map[string]string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for k, v := range entries {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO session_entries (key, value, updated_at)
				VALUES (?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				k, v)
			if err != nil {
				return fmt.Errorf("upsert session entry %q: %w", k, err)
			}
		}
		return nil
	})
}

// Delete implements session.Persister.
func (r *SQLiteRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		query := "DELETE FROM session_entries WHERE key IN (" + placeholders(len(keys)) + ")"
		if _, err := tx.ExecContext(ctx, query, anySlice(keys)...); err != nil {
			return fmt.Errorf("delete session entries: %w", err)
		}
		return nil
	})
}

// ImportedTransaction returns the transaction created for a queue message,
// if that message was already imported.
func (r *SQLiteRepository) ImportedTransaction(ctx context.Context, messageID string) (string, bool, error) {
	var txID string
	err := r.db.QueryRowContext(ctx,
		"SELECT transaction_id FROM import_log WHERE message_id = ?", messageID).Scan(&txID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query import log: %w", err)
	}
	return txID, true, nil
}

// RecordImport remembers that messageID produced transactionID.
func (r *SQLiteRepository) RecordImport(ctx context.Context, messageID, transactionID string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO import_log (message_id, transaction_id, imported_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		messageID, transactionID)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(keys []string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
