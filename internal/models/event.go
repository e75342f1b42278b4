package models

import "time"

// EventType names a backup lifecycle event.
type EventType string

// Backup lifecycle events.
const (
	EventBackupCreated  EventType = "backup.created"
	EventBackupDeleted  EventType = "backup.deleted"
	EventBackupSynced   EventType = "backup.synced"
	EventBackupRestored EventType = "backup.restored"
	EventSettingsSaved  EventType = "settings.saved"
)

// BackupEvent is delivered to the observer registered on the backup store.
type BackupEvent struct {
	Type      EventType  `json:"type"`
	BackupID  string     `json:"backup_id,omitempty"`
	Kind      BackupKind `json:"kind,omitempty"`
	NoteCount int        `json:"note_count,omitempty"`
	Degraded  bool       `json:"degraded,omitempty"`
	Removed   int        `json:"removed,omitempty"`
	Retained  int        `json:"retained,omitempty"`
	At        time.Time  `json:"at"`
}
