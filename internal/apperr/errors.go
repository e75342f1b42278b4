// Package apperr holds the error values shared across the backup engine.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmptyBackup means no notes matched the requested scope.
	ErrEmptyBackup = errors.New("nothing to back up")
	// ErrCorruptBackup means a backup failed integrity verification.
	ErrCorruptBackup = errors.New("backup integrity check failed")
	// ErrRemoteUnavailable means the remote primary could not be reached or refused the call.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrRemoteProtocol means the remote answered in a way that breaks the
	// backup contract. The call may already have taken effect remotely.
	ErrRemoteProtocol = errors.New("remote protocol violation")
	// ErrMediaFetch means one media reference could not be resolved.
	ErrMediaFetch = errors.New("media fetch failed")
	// ErrPartialRestore means some notes of a restore could not be inserted.
	ErrPartialRestore = errors.New("partial restore")
)

// MediaFetchError describes a single media reference that was skipped.
type MediaFetchError struct {
	Reference string
	Err       error
}

func (e *MediaFetchError) Error() string {
	return fmt.Sprintf("media %q: %v", e.Reference, e.Err)
}

func (e *MediaFetchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMediaFetch) match any MediaFetchError.
func (e *MediaFetchError) Is(target error) bool {
	return target == ErrMediaFetch
}
