package models

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SchemaVersion is the version stamped on every new backup.
const SchemaVersion = 1

// OfflineIDPrefix marks ids minted locally while the remote primary was unreachable.
const OfflineIDPrefix = "local_"

// BackupKind distinguishes user-triggered from scheduled backups.
type BackupKind string

// Backup kinds.
const (
	KindManual BackupKind = "manual"
	KindAuto   BackupKind = "auto"
)

// ParseKind validates a kind string. Empty means manual.
func ParseKind(s string) (BackupKind, error) {
	switch BackupKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindManual:
		return KindManual, nil
	case KindAuto:
		return KindAuto, nil
	}
	return "", fmt.Errorf("unknown backup kind %q", s)
}

// MediaFile is a media payload referenced from note content.
type MediaFile struct {
	Filename        string `json:"filename"`
	SourceReference string `json:"source_reference"`
	ContentType     string `json:"content_type"`
	Size            int64  `json:"size"`
	Bytes           []byte `json:"bytes,omitempty"`
}

// Backup is an immutable point-in-time snapshot of one or more notes.
type Backup struct {
	ID              string         `json:"id"`
	CreatedAt       time.Time      `json:"created_at"`
	Kind            BackupKind     `json:"kind"`
	SchemaVersion   int            `json:"schema_version"`
	NoteID          string         `json:"note_id,omitempty"` // scope; empty covers the whole store
	Notes           []NoteSnapshot `json:"notes"`
	Media           []MediaFile    `json:"media,omitempty"`
	IntegrityDigest string         `json:"integrity_digest"`
}

// Offline reports whether the backup was created without the remote primary.
func (b *Backup) Offline() bool {
	return IsOfflineID(b.ID)
}

// Snapshot returns the snapshot of noteID held by the backup, if any.
func (b *Backup) Snapshot(noteID string) (NoteSnapshot, bool) {
	for _, s := range b.Notes {
		if s.Note.ID == noteID {
			return s, true
		}
	}
	return NoteSnapshot{}, false
}

// IsOfflineID reports whether id was minted locally.
func IsOfflineID(id string) bool {
	return strings.HasPrefix(id, OfflineIDPrefix)
}

// Operation names an audited engine operation.
type Operation string

// Audited operations.
const (
	OpBackup   Operation = "backup"
	OpRestore  Operation = "restore"
	OpDelete   Operation = "delete"
	OpSettings Operation = "settings"
	OpExport   Operation = "export"
	OpImport   Operation = "import"
)

// HistoryRecord is one append-only audit entry.
type HistoryRecord struct {
	ID                int64     `json:"id" db:"id"`
	Timestamp         time.Time `json:"timestamp" db:"timestamp"`
	Operation         Operation `json:"operation" db:"operation"`
	AffectedNoteCount int       `json:"affected_note_count" db:"affected_notes"`
	Details           string    `json:"details" db:"details"`
}

// BackupSettings controls the automatic backup policy.
type BackupSettings struct {
	AutoBackupEnabled     bool `json:"auto_backup_enabled" yaml:"auto_backup_enabled"`
	BackupIntervalMinutes int  `json:"backup_interval_minutes" yaml:"backup_interval_minutes"`
	CompressionEnabled    bool `json:"compression_enabled" yaml:"compression_enabled"`
}

// Validate validates the settings.
func (s *BackupSettings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.BackupIntervalMinutes, validation.Required, validation.Min(1)),
	)
}

// Interval returns the backup interval as a duration.
func (s BackupSettings) Interval() time.Duration {
	return time.Duration(s.BackupIntervalMinutes) * time.Minute
}

// DefaultBackupSettings returns the settings used when none are stored.
func DefaultBackupSettings() BackupSettings {
	return BackupSettings{
		AutoBackupEnabled:     false,
		BackupIntervalMinutes: 30,
		CompressionEnabled:    true,
	}
}

// Result is embedded in every operation output.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OK returns a successful result.
func OK() Result { return Result{Success: true} }

// Failed returns a failed result carrying err's message.
func Failed(err error) Result { return Result{Success: false, Error: err.Error()} }
