// Package localdb provides the SQLite-backed local fallback cache for backups
// and the history sink.
package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/kenaz-backup/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS backups (
	id         TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	stored_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS history (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      DATETIME NOT NULL,
	operation      TEXT NOT NULL,
	affected_notes INTEGER NOT NULL DEFAULT 0,
	details        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp);
`

// DB wraps a sqlx.DB with cache and history operations.
type DB struct {
	conn *sqlx.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sqlx.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("localdb: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("localdb: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("localdb: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Blob is one cached backup payload keyed by backup id.
type Blob struct {
	ID   string `db:"id"`
	Data []byte `db:"payload"`
}

// Put stores data under id, replacing any previous value.
func (db *DB) Put(ctx context.Context, id string, data []byte) error {
	_, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO backups (id, payload, stored_at)
		VALUES (:id, :payload, :stored_at)
		ON CONFLICT(id) DO UPDATE SET
			payload   = excluded.payload,
			stored_at = excluded.stored_at
	`, map[string]any{"id": id, "payload": data, "stored_at": time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("localdb: put %s: %w", id, err)
	}
	return nil
}

// Get returns the payload stored under id or apperr.ErrNotFound.
func (db *DB) Get(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := db.conn.GetContext(ctx, &data, `SELECT payload FROM backups WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("localdb: get %s: %w", id, err)
	}
	return data, nil
}

// Delete removes id; apperr.ErrNotFound if absent.
func (db *DB) Delete(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("localdb: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// All returns every cached payload in insertion order.
func (db *DB) All(ctx context.Context) ([]Blob, error) {
	var out []Blob
	if err := db.conn.SelectContext(ctx, &out, `SELECT id, payload FROM backups ORDER BY stored_at, id`); err != nil {
		return nil, fmt.Errorf("localdb: all: %w", err)
	}
	return out, nil
}
