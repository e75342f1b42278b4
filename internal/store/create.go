package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/checksum"
	"github.com/starford/kenaz-backup/internal/metrics"
	"github.com/starford/kenaz-backup/internal/models"
)

// CreateOutput is the result of Create and Put.
type CreateOutput struct {
	models.Result
	Backup        *models.Backup `json:"backup"`
	Degraded      bool           `json:"degraded"`
	NoteCount     int            `json:"note_count"`
	MediaCount    int            `json:"media_count"`
	MediaFailures int            `json:"media_failures"`
}

// Create backs up noteID, or every note when noteID is empty. It fails with
// apperr.ErrEmptyBackup when no note matches. Persistence goes to the remote
// primary; on remote failure the backup is written to the local cache under an
// offline id and the output is marked degraded.
func (s *Store) Create(ctx context.Context, noteID string, kind models.BackupKind) (*CreateOutput, error) {
	unlock := s.locks.lock(noteID)
	defer unlock()

	start := time.Now()
	out, err := s.create(ctx, noteID, kind)
	if err != nil {
		metrics.Operation("create", metrics.StatusFailed)
		return nil, err
	}
	metrics.BackupDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	return out, nil
}

func (s *Store) create(ctx context.Context, noteID string, kind models.BackupKind) (*CreateOutput, error) {
	notes, err := s.collect(ctx, noteID)
	if err != nil {
		return nil, err
	}

	var (
		files    []models.MediaFile
		failures int
	)
	if s.extractor != nil {
		r := s.extractor.Extract(ctx, notes)
		files, failures = r.Files, len(r.Failures)
	}

	snaps := make([]models.NoteSnapshot, 0, len(notes))
	for _, n := range notes {
		snaps = append(snaps, checksum.Snapshot(n))
	}
	b := &models.Backup{
		CreatedAt:       s.now().UTC(),
		Kind:            kind,
		SchemaVersion:   models.SchemaVersion,
		NoteID:          noteID,
		Notes:           snaps,
		Media:           files,
		IntegrityDigest: checksum.Digest(snaps),
	}

	out, err := s.persist(ctx, b)
	if err != nil {
		return nil, err
	}
	out.MediaFailures = failures
	return out, nil
}

// collect returns the notes in scope.
func (s *Store) collect(ctx context.Context, noteID string) ([]models.Note, error) {
	if noteID != "" {
		n, err := s.notes.GetNote(ctx, noteID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("store: note %s: %w", noteID, apperr.ErrEmptyBackup)
		}
		if err != nil {
			return nil, fmt.Errorf("store: get note %s: %w", noteID, err)
		}
		return []models.Note{*n}, nil
	}
	notes, err := s.notes.ListNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list notes: %w", err)
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("store: %w", apperr.ErrEmptyBackup)
	}
	return notes, nil
}

// Put persists an already-built backup under a fresh id, as used by import.
// The backup must verify.
func (s *Store) Put(ctx context.Context, b models.Backup) (*CreateOutput, error) {
	if len(b.Notes) == 0 {
		return nil, fmt.Errorf("store: put: %w", apperr.ErrEmptyBackup)
	}
	if err := checksum.Verify(&b); err != nil {
		return nil, fmt.Errorf("store: put: %w", err)
	}
	unlock := s.locks.lock(b.NoteID)
	defer unlock()

	b.ID = ""
	if b.SchemaVersion == 0 {
		b.SchemaVersion = models.SchemaVersion
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}
	out, err := s.persist(ctx, &b)
	if err != nil {
		metrics.Operation("create", metrics.StatusFailed)
		return nil, err
	}
	return out, nil
}

// persist writes b to the remote primary or, failing that, to the local cache.
// On success b.ID is set. A backup is never written to both: a protocol
// error means the remote may hold it already, so there is no fallback.
func (s *Store) persist(ctx context.Context, b *models.Backup) (*CreateOutput, error) {
	out := &CreateOutput{NoteCount: len(b.Notes), MediaCount: len(b.Media)}

	id, remoteErr := s.createRemote(ctx, b)
	if errors.Is(remoteErr, apperr.ErrRemoteProtocol) {
		s.logger.Error("store: remote create broke protocol, not falling back",
			slog.String("error", remoteErr.Error()))
		return nil, fmt.Errorf("store: create: %w", remoteErr)
	}
	if remoteErr == nil {
		b.ID = id
	} else {
		s.logger.Warn("store: remote create failed, writing to local cache",
			slog.String("error", remoteErr.Error()))
		b.ID = newOfflineID()
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("store: encode backup: %w", err)
		}
		if err := s.cache.Put(ctx, b.ID, data); err != nil {
			return nil, fmt.Errorf("store: local fallback: %w (remote: %v)", err, remoteErr)
		}
		out.Degraded = true
	}

	out.Result = models.OK()
	out.Backup = b

	status := metrics.StatusOK
	details := fmt.Sprintf("%s backup %s", b.Kind, b.ID)
	if out.Degraded {
		status = metrics.StatusDegraded
		details += " (local only)"
	}
	metrics.Operation("create", status)
	s.ledger.Record(ctx, models.OpBackup, len(b.Notes), details)
	s.emit(models.BackupEvent{
		Type:      models.EventBackupCreated,
		BackupID:  b.ID,
		Kind:      b.Kind,
		NoteCount: len(b.Notes),
		Degraded:  out.Degraded,
	})
	return out, nil
}

func (s *Store) createRemote(ctx context.Context, b *models.Backup) (string, error) {
	if s.remote == nil {
		return "", apperr.ErrRemoteUnavailable
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	id, err := s.remote.CreateBackup(rctx, b)
	if err != nil {
		return "", err
	}
	if models.IsOfflineID(id) {
		return "", fmt.Errorf("%w: remote assigned reserved id %q", apperr.ErrRemoteProtocol, id)
	}
	return id, nil
}
