package media

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/checksum"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/parser"
	"github.com/starford/kenaz-backup/internal/storage"
)

// restoredDir holds media whose original reference was a remote URL, and
// backed-up versions of local files that changed since the backup.
const restoredDir = "restored"

// Materializer writes backed-up media into the live media store.
type Materializer struct {
	store  storage.Provider
	logger *slog.Logger
}

// MaterializeResult counts per-file outcomes.
type MaterializeResult struct {
	Written   int
	Unchanged int
	// Conflicts lists files whose live path held different bytes. The live
	// file is kept and the backed-up bytes are written beside it.
	Conflicts []Conflict
	Failures  []*apperr.MediaFetchError
}

// Conflict maps a media reference to the side path its bytes went to.
type Conflict struct {
	Reference string `json:"reference"`
	Path      string `json:"path"`
}

// NewMaterializer creates a materializer writing into store.
func NewMaterializer(store storage.Provider, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: store, logger: logger}
}

// Materialize writes every file, best effort. Local references go back to
// their original path; remote ones are placed under restored/. A live file is
// never replaced: identical bytes count as unchanged, different bytes send
// the backed-up copy to a side path under restored/.
func (m *Materializer) Materialize(ctx context.Context, files []models.MediaFile) MaterializeResult {
	var res MaterializeResult
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, &apperr.MediaFetchError{Reference: f.SourceReference, Err: err})
			continue
		}
		dst := TargetPath(f)
		sum := checksum.Sum(f.Bytes)
		if existing, err := m.store.Read(dst); err == nil {
			if checksum.Sum(existing) == sum {
				res.Unchanged++
				continue
			}
			side := ConflictPath(f)
			if prev, err := m.store.Read(side); err == nil && checksum.Sum(prev) == sum {
				res.Unchanged++
				continue
			}
			if err := m.store.Write(side, f.Bytes); err != nil {
				m.logger.Warn("media: restore write failed", slog.String("path", side), slog.String("error", err.Error()))
				res.Failures = append(res.Failures, &apperr.MediaFetchError{Reference: f.SourceReference, Err: err})
				continue
			}
			m.logger.Info("media: live file differs, kept backup copy beside it",
				slog.String("path", dst), slog.String("copy", side))
			res.Conflicts = append(res.Conflicts, Conflict{Reference: f.SourceReference, Path: side})
			continue
		}
		if err := m.store.Write(dst, f.Bytes); err != nil {
			m.logger.Warn("media: restore write failed", slog.String("path", dst), slog.String("error", err.Error()))
			res.Failures = append(res.Failures, &apperr.MediaFetchError{Reference: f.SourceReference, Err: err})
			continue
		}
		res.Written++
	}
	return res
}

// ConflictPath is where f goes when its target path already holds other
// bytes. The name is keyed by content so repeated restores reuse it.
func ConflictPath(f models.MediaFile) string {
	sum := checksum.Sum(f.Bytes)
	return path.Join(restoredDir, fmt.Sprintf("%s_%s", sum[:12], sanitizeFilename(path.Base(TargetPath(f)))))
}

// TargetPath returns where f is written in the media store.
func TargetPath(f models.MediaFile) string {
	if parser.Classify(f.SourceReference) == parser.RefLocal {
		return parser.LocalPath(f.SourceReference)
	}
	sum := checksum.Sum([]byte(f.SourceReference))
	return path.Join(restoredDir, fmt.Sprintf("%s_%s", sum[:12], sanitizeFilename(f.Filename)))
}
