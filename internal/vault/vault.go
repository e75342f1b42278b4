// Package vault implements the live note store on top of a directory of
// Markdown files with YAML frontmatter.
package vault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/notestore"
	"github.com/starford/kenaz-backup/internal/parser"
	"github.com/starford/kenaz-backup/internal/storage"
)

const notesDir = "notes"

// Store keeps one file per note at notes/<id>.md.
type Store struct {
	fs     storage.Provider
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates a vault store over fs.
func New(fs storage.Provider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fs:      fs,
		logger:  logger,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

var _ notestore.NoteStore = (*Store)(nil)

// ListNotes returns every note ordered by creation time, then id.
// Unreadable files are logged and skipped.
func (s *Store) ListNotes(_ context.Context) ([]models.Note, error) {
	metas, err := s.fs.List(notesDir, ".md")
	if err != nil {
		return nil, fmt.Errorf("vault: list: %w", err)
	}
	out := make([]models.Note, 0, len(metas))
	for _, m := range metas {
		n, err := s.read(m.Path)
		if err != nil {
			s.logger.Warn("vault: skip unreadable note", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetNote returns the note with id or apperr.ErrNotFound.
func (s *Store) GetNote(_ context.Context, id string) (*models.Note, error) {
	p, err := notePath(id)
	if err != nil {
		return nil, err
	}
	n, err := s.read(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

// CreateNote stores n under a fresh id. Timestamps carried by n are kept so
// restored notes keep their original creation time.
func (s *Store) CreateNote(_ context.Context, n models.Note) (*models.Note, error) {
	n.ID = s.newID()
	now := s.now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
	if err := s.write(n); err != nil {
		return nil, err
	}
	return &n, nil
}

// UpdateNote replaces the note with the same id and bumps updated_at.
func (s *Store) UpdateNote(_ context.Context, n models.Note) (*models.Note, error) {
	p, err := notePath(n.ID)
	if err != nil {
		return nil, err
	}
	if !s.fs.Exists(p) {
		return nil, apperr.ErrNotFound
	}
	n.UpdatedAt = s.now().UTC()
	if err := s.write(n); err != nil {
		return nil, err
	}
	return &n, nil
}

// DeleteNote removes the note with id.
func (s *Store) DeleteNote(_ context.Context, id string) error {
	p, err := notePath(id)
	if err != nil {
		return err
	}
	if !s.fs.Exists(p) {
		return apperr.ErrNotFound
	}
	return s.fs.Delete(p)
}

func (s *Store) read(p string) (models.Note, error) {
	data, err := s.fs.Read(p)
	if err != nil {
		return models.Note{}, err
	}
	n, err := parser.ParseNote(data)
	if err != nil {
		return models.Note{}, err
	}
	if n.ID == "" {
		n.ID = strings.TrimSuffix(path.Base(p), ".md")
	}
	return n, nil
}

func (s *Store) write(n models.Note) error {
	p, err := notePath(n.ID)
	if err != nil {
		return err
	}
	data, err := parser.RenderNote(n)
	if err != nil {
		return err
	}
	if err := s.fs.Write(p, data); err != nil {
		return fmt.Errorf("vault: write %s: %w", n.ID, err)
	}
	return nil
}

func (s *Store) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String())
}

func notePath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("vault: invalid note id %q", id)
	}
	return path.Join(notesDir, id+".md"), nil
}
