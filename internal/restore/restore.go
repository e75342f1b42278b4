// Package restore applies a backup back onto the live note store. Restore is
// additive: existing notes are never modified, and snapshots whose content
// fingerprint is already live are skipped.
package restore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/checksum"
	"github.com/starford/kenaz-backup/internal/history"
	"github.com/starford/kenaz-backup/internal/media"
	"github.com/starford/kenaz-backup/internal/metrics"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/notestore"
)

// Status of one restored note.
type Status string

const (
	StatusCreated   Status = "created"
	StatusDuplicate Status = "skipped_duplicate"
	StatusFailed    Status = "failed"
)

// NoteResult is the outcome for one snapshot, in snapshot order.
type NoteResult struct {
	OriginalID  string             `json:"original_id"`
	NewID       string             `json:"new_id,omitempty"`
	Title       string             `json:"title"`
	Fingerprint models.Fingerprint `json:"fingerprint"`
	Status      Status             `json:"status"`
	Error       string             `json:"error,omitempty"`
}

// Report is the result of Restore.
type Report struct {
	models.Result
	BackupID              string       `json:"backup_id"`
	Notes                 []NoteResult `json:"notes"`
	SuccessCount          int          `json:"success_count"`
	FailureCount          int          `json:"failure_count"`
	SkippedDuplicateCount int          `json:"skipped_duplicate_count"`
	MediaWritten          int          `json:"media_written"`
	MediaUnchanged        int          `json:"media_unchanged"`
	MediaFailed           int          `json:"media_failed"`
	// MediaConflicts lists backed-up media written beside a live file that
	// had changed since the backup.
	MediaConflicts []media.Conflict `json:"media_conflicts,omitempty"`
	RemoteMirrored bool             `json:"remote_mirrored"`
}

// MediaWriter writes media payloads back to the media store.
type MediaWriter interface {
	Materialize(ctx context.Context, files []models.MediaFile) media.MaterializeResult
}

// Mirror is the remote primary's server-side restore.
type Mirror interface {
	RestoreBackup(ctx context.Context, id string) error
}

// Engine restores backups.
type Engine struct {
	notes   notestore.NoteStore
	media   MediaWriter
	mirror  Mirror
	ledger  *history.Ledger
	logger  *slog.Logger
	timeout time.Duration
	notify  func(models.BackupEvent)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMedia sets the media writer. Without one media is not written back.
func WithMedia(m MediaWriter) Option { return func(e *Engine) { e.media = m } }

// WithMirror sets the remote restore mirror.
func WithMirror(m Mirror) Option { return func(e *Engine) { e.mirror = m } }

// WithLedger sets the history ledger.
func WithLedger(l *history.Ledger) Option { return func(e *Engine) { e.ledger = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMirrorTimeout bounds the remote mirror call.
func WithMirrorTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithNotifier registers a callback for restore events.
func WithNotifier(fn func(models.BackupEvent)) Option { return func(e *Engine) { e.notify = fn } }

// New creates a restore engine over the live note store.
func New(notes notestore.NoteStore, opts ...Option) *Engine {
	e := &Engine{notes: notes, logger: slog.Default(), timeout: 15 * time.Second}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Restore verifies b and inserts every snapshot whose fingerprint is not
// already live, first to last. A corrupt backup is rejected before anything
// is written. Per-note failures are counted and do not stop the run; the
// report stays successful with a non-zero FailureCount.
func (e *Engine) Restore(ctx context.Context, b *models.Backup) (*Report, error) {
	if err := checksum.Verify(b); err != nil {
		metrics.Operation("restore", metrics.StatusFailed)
		e.ledger.Recordf(ctx, models.OpRestore, 0, "rejected backup %s: %v", b.ID, err)
		return nil, fmt.Errorf("restore: %w", err)
	}

	live, err := e.notes.ListNotes(ctx)
	if err != nil {
		metrics.Operation("restore", metrics.StatusFailed)
		return nil, fmt.Errorf("restore: list live notes: %w", err)
	}
	seen := make(map[models.Fingerprint]struct{}, len(live))
	for _, n := range live {
		seen[checksum.Fingerprint(n)] = struct{}{}
	}

	rep := &Report{BackupID: b.ID, Notes: make([]NoteResult, 0, len(b.Notes))}

	if e.media != nil && len(b.Media) > 0 {
		mr := e.media.Materialize(ctx, b.Media)
		rep.MediaWritten, rep.MediaUnchanged, rep.MediaFailed = mr.Written, mr.Unchanged, len(mr.Failures)
		rep.MediaConflicts = mr.Conflicts
	}

	for _, snap := range b.Notes {
		res := NoteResult{
			OriginalID:  snap.Note.ID,
			Title:       snap.Note.Title,
			Fingerprint: snap.Fingerprint,
		}
		if _, dup := seen[snap.Fingerprint]; dup {
			res.Status = StatusDuplicate
			rep.SkippedDuplicateCount++
			metrics.RestoreNotesTotal.WithLabelValues(string(StatusDuplicate)).Inc()
			rep.Notes = append(rep.Notes, res)
			continue
		}

		n := snap.Note
		n.ID = ""
		created, err := e.notes.CreateNote(ctx, n)
		if err != nil {
			e.logger.Warn("restore: insert failed",
				slog.String("backup", b.ID),
				slog.String("note", snap.Note.ID),
				slog.String("error", err.Error()))
			res.Status, res.Error = StatusFailed, err.Error()
			rep.FailureCount++
			metrics.RestoreNotesTotal.WithLabelValues(string(StatusFailed)).Inc()
			rep.Notes = append(rep.Notes, res)
			continue
		}
		res.Status, res.NewID = StatusCreated, created.ID
		seen[snap.Fingerprint] = struct{}{}
		rep.SuccessCount++
		metrics.RestoreNotesTotal.WithLabelValues(string(StatusCreated)).Inc()
		rep.Notes = append(rep.Notes, res)
	}

	rep.RemoteMirrored = e.mirrorRestore(ctx, b.ID)

	rep.Result = models.OK()
	status := metrics.StatusOK
	if rep.FailureCount > 0 {
		rep.Error = fmt.Errorf("%w: %d of %d notes failed", apperr.ErrPartialRestore, rep.FailureCount, len(b.Notes)).Error()
		status = metrics.StatusDegraded
	}
	metrics.Operation("restore", status)
	e.ledger.Recordf(ctx, models.OpRestore, rep.SuccessCount,
		"restored backup %s: %d created, %d duplicates, %d failed",
		b.ID, rep.SuccessCount, rep.SkippedDuplicateCount, rep.FailureCount)
	if e.notify != nil {
		e.notify(models.BackupEvent{
			Type:      models.EventBackupRestored,
			BackupID:  b.ID,
			Kind:      b.Kind,
			NoteCount: rep.SuccessCount,
			At:        time.Now().UTC(),
		})
	}
	return rep, nil
}

func (e *Engine) mirrorRestore(ctx context.Context, id string) bool {
	if e.mirror == nil || id == "" || models.IsOfflineID(id) {
		return false
	}
	mctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.mirror.RestoreBackup(mctx, id); err != nil {
		e.logger.Debug("restore: remote mirror failed", slog.String("backup", id), slog.String("error", err.Error()))
		return false
	}
	return true
}
