// Package history is the append-only audit ledger of engine operations.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/kenaz-backup/internal/models"
)

// Sink persists history records.
type Sink interface {
	AppendHistory(ctx context.Context, rec models.HistoryRecord) (models.HistoryRecord, error)
	ListHistory(ctx context.Context, limit int) ([]models.HistoryRecord, error)
	ClearHistory(ctx context.Context) (int64, error)
}

const recordTimeout = 5 * time.Second

// Ledger records engine operations into a Sink.
type Ledger struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// New creates a ledger over sink.
func New(sink Sink, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{sink: sink, logger: logger, now: time.Now}
}

// Record appends one entry. Failures are logged and never returned; the
// caller's cancellation does not drop the record.
func (l *Ledger) Record(ctx context.Context, op models.Operation, affected int, details string) {
	if l == nil || l.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	_, err := l.sink.AppendHistory(ctx, models.HistoryRecord{
		Timestamp:         l.now().UTC(),
		Operation:         op,
		AffectedNoteCount: affected,
		Details:           details,
	})
	if err != nil {
		l.logger.Warn("history: record failed",
			slog.String("operation", string(op)),
			slog.String("error", err.Error()))
	}
}

// Recordf is Record with a formatted details string.
func (l *Ledger) Recordf(ctx context.Context, op models.Operation, affected int, format string, args ...any) {
	l.Record(ctx, op, affected, fmt.Sprintf(format, args...))
}

// List returns the newest records first. limit <= 0 returns all.
func (l *Ledger) List(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	recs, err := l.sink.ListHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return recs, nil
}

// Clear removes every record.
func (l *Ledger) Clear(ctx context.Context) (int64, error) {
	n, err := l.sink.ClearHistory(ctx)
	if err != nil {
		return 0, fmt.Errorf("history: clear: %w", err)
	}
	l.logger.Info("history: cleared", slog.Int64("records", n))
	return n, nil
}
