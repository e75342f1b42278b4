// Package storage defines the file-system abstraction used for the note vault
// and the media store.
package storage

import "github.com/starford/kenaz-backup/internal/models"

// Provider is the interface for rooted file operations. All paths are
// relative to the provider root.
type Provider interface {
	// List returns metadata for every file under dir whose name ends in ext
	// (all files when ext is empty).
	List(dir, ext string) ([]models.FileMeta, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
}
