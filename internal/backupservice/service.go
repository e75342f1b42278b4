// Package backupservice is the facade shared by the HTTP API, the MCP server
// and the CLI. It composes the store, restore engine, archive codec, history
// ledger and settings manager into caller-facing operations.
package backupservice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/archive"
	"github.com/starford/kenaz-backup/internal/history"
	"github.com/starford/kenaz-backup/internal/metrics"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/restore"
	"github.com/starford/kenaz-backup/internal/settings"
	"github.com/starford/kenaz-backup/internal/storage"
	"github.com/starford/kenaz-backup/internal/store"
)

// Service coordinates the backup engine components.
type Service struct {
	store    *store.Store
	restore  *restore.Engine
	ledger   *history.Ledger
	settings *settings.Manager
	exports  storage.Provider
	logger   *slog.Logger
}

// Deps are the components a Service is built from. Exports may be nil, in
// which case exports are only returned as bytes.
type Deps struct {
	Store    *store.Store
	Restore  *restore.Engine
	Ledger   *history.Ledger
	Settings *settings.Manager
	Exports  storage.Provider
	Logger   *slog.Logger
}

// New creates a service.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    d.Store,
		restore:  d.Restore,
		ledger:   d.Ledger,
		settings: d.Settings,
		exports:  d.Exports,
		logger:   logger,
	}
}

// CreateBackup backs up noteID (or every note when empty) with the given kind.
func (s *Service) CreateBackup(ctx context.Context, noteID, kind string) (*store.CreateOutput, error) {
	k, err := models.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return s.store.Create(ctx, strings.TrimSpace(noteID), k)
}

// ListBackups lists every backup, newest first.
func (s *Service) ListBackups(ctx context.Context) (*store.ListOutput, error) {
	return s.store.List(ctx)
}

// GetBackup returns one backup.
func (s *Service) GetBackup(ctx context.Context, id string) (*models.Backup, error) {
	return s.store.Get(ctx, id)
}

// DeleteBackup deletes one backup.
func (s *Service) DeleteBackup(ctx context.Context, id string) (*store.DeleteOutput, error) {
	return s.store.Delete(ctx, id)
}

// SyncBackups reconciles the local cache with the remote primary.
func (s *Service) SyncBackups(ctx context.Context) (*store.SyncOutput, error) {
	return s.store.Sync(ctx)
}

// RestoreBackup restores backup id onto the live note store.
func (s *Service) RestoreBackup(ctx context.Context, id string) (*restore.Report, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.restore.Restore(ctx, b)
}

// ExportOutput is the result of Export.
type ExportOutput struct {
	models.Result
	Filename    string `json:"filename"`
	Path        string `json:"path,omitempty"`
	BackupCount int    `json:"backup_count"`
	Size        int    `json:"size"`
}

// Export encodes the backups named by ids, or every backup when ids is empty,
// into an archive. When an export directory is configured the archive is
// also written there.
func (s *Service) Export(ctx context.Context, ids []string) (*ExportOutput, []byte, error) {
	var backups []models.Backup
	if len(ids) == 0 {
		list, err := s.store.List(ctx)
		if err != nil {
			return nil, nil, err
		}
		backups = list.Backups
	} else {
		for _, id := range ids {
			b, err := s.store.Get(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			backups = append(backups, *b)
		}
	}

	codec := archive.NewCodec(s.compression())
	data, err := codec.Encode(backups)
	if err != nil {
		metrics.Operation("export", metrics.StatusFailed)
		return nil, nil, err
	}

	out := &ExportOutput{
		Result:      models.OK(),
		Filename:    fmt.Sprintf("kenaz-backup-%s.zip", uuid.NewString()),
		BackupCount: len(backups),
		Size:        len(data),
	}
	if s.exports != nil {
		if err := s.exports.Write(out.Filename, data); err != nil {
			metrics.Operation("export", metrics.StatusFailed)
			return nil, nil, fmt.Errorf("backupservice: write export: %w", err)
		}
		if fs, ok := s.exports.(*storage.FS); ok {
			out.Path = filepath.Join(fs.Root(), out.Filename)
		}
	}

	notes := 0
	for _, b := range backups {
		notes += len(b.Notes)
	}
	metrics.Operation("export", metrics.StatusOK)
	s.ledger.Recordf(ctx, models.OpExport, notes, "exported %d backups to %s", len(backups), out.Filename)
	return out, data, nil
}

// ImportOutput is the result of Import.
type ImportOutput struct {
	models.Result
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Degraded int      `json:"degraded"`
	IDs      []string `json:"ids"`
	Errors   []string `json:"errors,omitempty"`
}

// Import decodes an archive and stores each backup it holds under a new id.
// A corrupt or malformed archive is rejected as a whole.
func (s *Service) Import(ctx context.Context, data []byte) (*ImportOutput, error) {
	backups, err := archive.NewCodec(false).Decode(data)
	if err != nil {
		metrics.Operation("import", metrics.StatusFailed)
		s.ledger.Recordf(ctx, models.OpImport, 0, "rejected archive: %v", err)
		return nil, err
	}

	out := &ImportOutput{IDs: []string{}}
	notes := 0
	for _, b := range backups {
		res, err := s.store.Put(ctx, b)
		if err != nil {
			out.Failed++
			out.Errors = append(out.Errors, err.Error())
			s.logger.Warn("backupservice: import entry failed", slog.String("id", b.ID), slog.String("error", err.Error()))
			continue
		}
		out.Imported++
		out.IDs = append(out.IDs, res.Backup.ID)
		notes += len(b.Notes)
		if res.Degraded {
			out.Degraded++
		}
	}

	out.Result = models.OK()
	status := metrics.StatusOK
	if out.Failed > 0 {
		out.Error = fmt.Sprintf("%d of %d backups failed to import", out.Failed, len(backups))
		status = metrics.StatusDegraded
	}
	metrics.Operation("import", status)
	s.ledger.Recordf(ctx, models.OpImport, notes, "imported %d backups, %d failed", out.Imported, out.Failed)
	return out, nil
}

// History returns the newest history records first.
func (s *Service) History(ctx context.Context, limit int) ([]models.HistoryRecord, error) {
	return s.ledger.List(ctx, limit)
}

// ClearHistory removes every history record.
func (s *Service) ClearHistory(ctx context.Context) (int64, error) {
	return s.ledger.Clear(ctx)
}

// Settings returns the current backup settings.
func (s *Service) Settings() models.BackupSettings {
	return s.settings.Current()
}

// SaveSettings validates and stores new settings.
func (s *Service) SaveSettings(ctx context.Context, v models.BackupSettings) (*settings.Output, error) {
	return s.settings.Save(ctx, v)
}

func (s *Service) compression() bool {
	if s.settings == nil {
		return models.DefaultBackupSettings().CompressionEnabled
	}
	return s.settings.Current().CompressionEnabled
}
