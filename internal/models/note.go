// Package models defines the domain types for the backup engine.
package models

import "time"

// Note is a note as held by the live note store.
type Note struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Content   string    `json:"content" yaml:"-"`
	Tags      []string  `json:"tags" yaml:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	IsPinned  bool      `json:"is_pinned" yaml:"is_pinned,omitempty"`
	Mood      string    `json:"mood,omitempty" yaml:"mood,omitempty"`
	Weather   string    `json:"weather,omitempty" yaml:"weather,omitempty"`
}

// Fingerprint is the content digest of a note, independent of its id.
type Fingerprint string

// NoteSnapshot is a note frozen inside a backup together with its fingerprint.
type NoteSnapshot struct {
	Note        Note        `json:"note"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// FileMeta is a lightweight description of a stored file.
type FileMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
