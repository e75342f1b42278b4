package api

import (
	"time"

	"github.com/starford/kenaz-backup/internal/models"
)

// CreateBackupRequest is the request body for creating a backup. An empty
// note_id backs up every note; an empty kind means manual.
type CreateBackupRequest struct {
	NoteID string `json:"note_id,omitempty" example:"7f3a"`
	Kind   string `json:"kind,omitempty" example:"manual" enums:"manual,auto"`
}

// BackupSummary is a lightweight item in a list response.
type BackupSummary struct {
	ID              string            `json:"id" example:"42" validate:"required"`
	Kind            models.BackupKind `json:"kind" example:"manual" validate:"required"`
	NoteID          string            `json:"note_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at" validate:"required"`
	NoteCount       int               `json:"note_count" example:"3"`
	MediaCount      int               `json:"media_count" example:"1"`
	Offline         bool              `json:"offline"`
	IntegrityDigest string            `json:"integrity_digest" example:"sha256:..."`
}

func summarize(b *models.Backup) BackupSummary {
	return BackupSummary{
		ID:              b.ID,
		Kind:            b.Kind,
		NoteID:          b.NoteID,
		CreatedAt:       b.CreatedAt,
		NoteCount:       len(b.Notes),
		MediaCount:      len(b.Media),
		Offline:         b.Offline(),
		IntegrityDigest: b.IntegrityDigest,
	}
}

// BackupListResponse wraps backup listings.
type BackupListResponse struct {
	Backups []BackupSummary `json:"backups" validate:"required"`
	Total   int             `json:"total" example:"12" validate:"required"`
	Source  string          `json:"source" example:"remote" enums:"remote,local"`
}

// HistoryResponse wraps history records.
type HistoryResponse struct {
	Records []models.HistoryRecord `json:"records" validate:"required"`
}

// ClearHistoryResponse reports how many history records were removed.
type ClearHistoryResponse struct {
	Removed int64 `json:"removed" example:"7"`
}

// SettingsRequest is a partial settings update; omitted fields keep their
// current value.
type SettingsRequest struct {
	AutoBackupEnabled     *bool `json:"auto_backup_enabled,omitempty"`
	BackupIntervalMinutes *int  `json:"backup_interval_minutes,omitempty"`
	CompressionEnabled    *bool `json:"compression_enabled,omitempty"`
}

func (r SettingsRequest) apply(cur models.BackupSettings) models.BackupSettings {
	if r.AutoBackupEnabled != nil {
		cur.AutoBackupEnabled = *r.AutoBackupEnabled
	}
	if r.BackupIntervalMinutes != nil {
		cur.BackupIntervalMinutes = *r.BackupIntervalMinutes
	}
	if r.CompressionEnabled != nil {
		cur.CompressionEnabled = *r.CompressionEnabled
	}
	return cur
}

// ExportFile describes one archive in the export directory.
type ExportFile struct {
	Filename  string    `json:"filename" example:"kenaz-backup-1b4e.zip" validate:"required"`
	Size      int64     `json:"size" example:"12345" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// ExportListResponse wraps the export directory listing.
type ExportListResponse struct {
	Exports []ExportFile `json:"exports" validate:"required"`
}
