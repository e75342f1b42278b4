package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/kenaz-backup/internal/metrics"
	"github.com/starford/kenaz-backup/internal/models"
)

// SyncOutput is the result of Sync.
type SyncOutput struct {
	models.Result
	// Removed counts local entries pruned because the remote holds them
	// (or, for server ids, because the remote no longer lists them).
	Removed int `json:"removed"`
	// Promoted counts offline entries pushed to the remote and then pruned.
	Promoted int `json:"promoted"`
	// Retained counts offline entries kept because they could not be pushed.
	Retained int `json:"retained"`
}

// contentKey identifies a backup by content rather than id.
func contentKey(b *models.Backup) string {
	return fmt.Sprintf("%s|%s|%s", b.IntegrityDigest, b.Kind, b.NoteID)
}

// Sync reconciles the local cache against the remote listing:
//   - entries with server-assigned ids are pruned
//   - offline entries whose content the remote already holds are pruned
//   - other offline entries are pushed to the remote and pruned on success,
//     otherwise retained
//
// When the remote cannot be listed nothing is touched and Success is false.
func (s *Store) Sync(ctx context.Context) (*SyncOutput, error) {
	unlock := s.locks.lock("")
	defer unlock()

	remoteBackups, err := s.listRemote(ctx)
	if err != nil {
		s.logger.Warn("store: sync skipped, remote unavailable", slog.String("error", err.Error()))
		metrics.Operation("sync", metrics.StatusFailed)
		return &SyncOutput{Result: models.Failed(err)}, nil
	}
	held := make(map[string]struct{}, len(remoteBackups))
	for i := range remoteBackups {
		held[contentKey(&remoteBackups[i])] = struct{}{}
	}

	blobs, err := s.cache.All(ctx)
	if err != nil {
		metrics.Operation("sync", metrics.StatusFailed)
		return nil, fmt.Errorf("store: sync: read local cache: %w", err)
	}
	sort.SliceStable(blobs, func(i, j int) bool { return blobs[i].ID < blobs[j].ID })

	out := &SyncOutput{}
	for _, bl := range blobs {
		var b models.Backup
		if err := json.Unmarshal(bl.Data, &b); err != nil {
			s.logger.Warn("store: sync: undecodable entry retained", slog.String("id", bl.ID), slog.String("error", err.Error()))
			out.Retained++
			continue
		}
		b.ID = bl.ID

		if !models.IsOfflineID(b.ID) {
			if s.prune(ctx, b.ID) {
				out.Removed++
			}
			continue
		}

		if _, ok := held[contentKey(&b)]; ok {
			if s.prune(ctx, b.ID) {
				out.Removed++
			}
			continue
		}

		offlineID := b.ID
		id, err := s.createRemote(ctx, &b)
		if err != nil {
			s.logger.Warn("store: sync: push failed, entry retained",
				slog.String("id", offlineID), slog.String("error", err.Error()))
			out.Retained++
			continue
		}
		held[contentKey(&b)] = struct{}{}
		if s.prune(ctx, offlineID) {
			out.Promoted++
			s.logger.Info("store: sync: promoted offline backup",
				slog.String("offline_id", offlineID), slog.String("id", id))
		} else {
			out.Retained++
		}
	}

	metrics.SyncEntriesTotal.WithLabelValues("removed").Add(float64(out.Removed))
	metrics.SyncEntriesTotal.WithLabelValues("promoted").Add(float64(out.Promoted))
	metrics.SyncEntriesTotal.WithLabelValues("retained").Add(float64(out.Retained))
	metrics.Operation("sync", metrics.StatusOK)

	out.Result = models.OK()
	s.emit(models.BackupEvent{
		Type:     models.EventBackupSynced,
		Removed:  out.Removed + out.Promoted,
		Retained: out.Retained,
	})
	return out, nil
}

func (s *Store) prune(ctx context.Context, id string) bool {
	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.Warn("store: sync: prune failed", slog.String("id", id), slog.String("error", err.Error()))
		return false
	}
	return true
}
