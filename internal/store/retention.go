package store

import (
	"context"
	"log/slog"
	"sort"

	"github.com/starford/kenaz-backup/internal/models"
)

// DefaultRetention is the number of auto backups kept per scope.
const DefaultRetention = 30

// RetentionOutput is the result of EnforceRetention.
type RetentionOutput struct {
	models.Result
	Kept    int      `json:"kept"`
	Deleted []string `json:"deleted"`
}

// EnforceRetention keeps at most keep auto backups for the scope noteID and
// deletes the excess, oldest first by creation time. Manual backups are never
// touched.
func (s *Store) EnforceRetention(ctx context.Context, noteID string, keep int) (*RetentionOutput, error) {
	if keep < 0 {
		keep = 0
	}
	unlock := s.locks.lock(noteID)
	defer unlock()

	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var autos []models.Backup
	for _, b := range list.Backups {
		if b.Kind == models.KindAuto && b.NoteID == noteID {
			autos = append(autos, b)
		}
	}
	out := &RetentionOutput{Result: models.OK(), Kept: len(autos)}
	if len(autos) <= keep {
		return out, nil
	}

	sort.SliceStable(autos, func(i, j int) bool {
		if !autos[i].CreatedAt.Equal(autos[j].CreatedAt) {
			return autos[i].CreatedAt.Before(autos[j].CreatedAt)
		}
		return autos[i].ID < autos[j].ID
	})
	for _, b := range autos[:len(autos)-keep] {
		res, err := s.Delete(ctx, b.ID)
		if err != nil || !res.Success {
			s.logger.Warn("store: retention delete failed", slog.String("id", b.ID))
			continue
		}
		out.Deleted = append(out.Deleted, b.ID)
	}
	out.Kept = len(autos) - len(out.Deleted)
	return out, nil
}

// Latest returns, for every note id, the most recent backup holding a
// snapshot of it.
func Latest(backups []models.Backup) map[string]models.NoteSnapshot {
	sorted := make([]models.Backup, len(backups))
	copy(sorted, backups)
	sortNewestFirst(sorted)

	out := make(map[string]models.NoteSnapshot)
	for _, b := range sorted {
		for _, snap := range b.Notes {
			if _, seen := out[snap.Note.ID]; !seen {
				out[snap.Note.ID] = snap
			}
		}
	}
	return out
}
