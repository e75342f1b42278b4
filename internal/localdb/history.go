package localdb

import (
	"context"
	"fmt"

	"github.com/starford/kenaz-backup/internal/models"
)

// AppendHistory inserts rec and returns it with its assigned id.
func (db *DB) AppendHistory(ctx context.Context, rec models.HistoryRecord) (models.HistoryRecord, error) {
	res, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO history (timestamp, operation, affected_notes, details)
		VALUES (:timestamp, :operation, :affected_notes, :details)
	`, rec)
	if err != nil {
		return rec, fmt.Errorf("localdb: append history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return rec, nil
}

// ListHistory returns the newest records first. limit <= 0 returns all.
func (db *DB) ListHistory(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	var out []models.HistoryRecord
	err := db.conn.SelectContext(ctx, &out, `
		SELECT id, timestamp, operation, affected_notes, details
		FROM history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("localdb: list history: %w", err)
	}
	return out, nil
}

// ClearHistory removes every record and returns how many were removed.
func (db *DB) ClearHistory(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM history`)
	if err != nil {
		return 0, fmt.Errorf("localdb: clear history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
