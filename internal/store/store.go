// Package store is the backup persistence layer: a remote primary with a
// local fallback cache, reconciled by Sync.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/history"
	"github.com/starford/kenaz-backup/internal/localdb"
	"github.com/starford/kenaz-backup/internal/media"
	"github.com/starford/kenaz-backup/internal/metrics"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/notestore"
)

// Remote is the remote backup primary.
type Remote interface {
	CreateBackup(ctx context.Context, b *models.Backup) (string, error)
	ListBackups(ctx context.Context) ([]models.Backup, error)
	GetBackup(ctx context.Context, id string) (*models.Backup, error)
	DeleteBackup(ctx context.Context, id string) error
}

// Cache is the local fallback: a key-value blob store keyed by backup id.
type Cache interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]localdb.Blob, error)
}

// MediaExtractor resolves media referenced by notes.
type MediaExtractor interface {
	Extract(ctx context.Context, notes []models.Note) media.Result
}

// Source names where a listing came from.
type Source string

// Listing sources.
const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

const defaultRemoteTimeout = 15 * time.Second

// Store owns create/list/get/delete/sync of backups.
type Store struct {
	notes     notestore.NoteStore
	remote    Remote
	cache     Cache
	extractor MediaExtractor
	ledger    *history.Ledger
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time

	locks *scopeLocks

	obsMu    sync.RWMutex
	observer func(models.BackupEvent)
}

// Option configures a Store.
type Option func(*Store)

// WithExtractor sets the media extractor. Without one backups carry no media.
func WithExtractor(e MediaExtractor) Option {
	return func(s *Store) { s.extractor = e }
}

// WithLedger sets the history ledger.
func WithLedger(l *history.Ledger) Option {
	return func(s *Store) { s.ledger = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRemoteTimeout bounds every call to the remote primary.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store. remote may be nil, in which case every write degrades
// to the local cache.
func New(notes notestore.NoteStore, remote Remote, cache Cache, opts ...Option) *Store {
	s := &Store{
		notes:   notes,
		remote:  remote,
		cache:   cache,
		logger:  slog.Default(),
		timeout: defaultRemoteTimeout,
		now:     time.Now,
		locks:   newScopeLocks(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnEvent registers the single observer for backup events, replacing any
// previous one. Pass nil to unregister.
func (s *Store) OnEvent(fn func(models.BackupEvent)) {
	s.obsMu.Lock()
	s.observer = fn
	s.obsMu.Unlock()
}

func (s *Store) emit(ev models.BackupEvent) {
	s.obsMu.RLock()
	fn := s.observer
	s.obsMu.RUnlock()
	if fn == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	fn(ev)
}

// Ledger returns the history ledger, possibly nil.
func (s *Store) Ledger() *history.Ledger {
	return s.ledger
}

// Notes returns the live note store.
func (s *Store) Notes() notestore.NoteStore {
	return s.notes
}

// ListOutput is the result of List.
type ListOutput struct {
	models.Result
	Backups []models.Backup `json:"backups"`
	Source  Source          `json:"source"`
}

// List returns every backup, newest first. The remote primary is tried first;
// when it fails the local cache contents are returned instead. The two sets
// are never merged.
func (s *Store) List(ctx context.Context) (*ListOutput, error) {
	backups, err := s.listRemote(ctx)
	if err == nil {
		sortNewestFirst(backups)
		metrics.Operation("list", metrics.StatusOK)
		return &ListOutput{Result: models.OK(), Backups: backups, Source: SourceRemote}, nil
	}
	s.logger.Warn("store: remote list failed, using local cache", slog.String("error", err.Error()))

	backups, err = s.listLocal(ctx)
	if err != nil {
		metrics.Operation("list", metrics.StatusFailed)
		return nil, fmt.Errorf("store: list local: %w", err)
	}
	sortNewestFirst(backups)
	metrics.Operation("list", metrics.StatusDegraded)
	return &ListOutput{Result: models.OK(), Backups: backups, Source: SourceLocal}, nil
}

// Pending returns the offline backups still waiting in the local cache to be
// pushed by Sync, newest first.
func (s *Store) Pending(ctx context.Context) ([]models.Backup, error) {
	backups, err := s.listLocal(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: pending: %w", err)
	}
	out := backups[:0]
	for _, b := range backups {
		if models.IsOfflineID(b.ID) {
			out = append(out, b)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Get returns one backup. Offline ids are read from the local cache only.
func (s *Store) Get(ctx context.Context, id string) (*models.Backup, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("store: get: empty id: %w", apperr.ErrNotFound)
	}
	if !models.IsOfflineID(id) && s.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		b, err := s.remote.GetBackup(rctx, id)
		cancel()
		if err == nil {
			return b, nil
		}
		s.logger.Debug("store: remote get failed, trying local cache",
			slog.String("id", id), slog.String("error", err.Error()))
	}

	data, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	var b models.Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("store: decode cached %s: %w", id, apperr.ErrCorruptBackup)
	}
	return &b, nil
}

// DeleteOutput is the result of Delete.
type DeleteOutput struct {
	models.Result
	ID     string `json:"id"`
	Source Source `json:"source,omitempty"`
}

// Delete removes id from the remote primary, falling back to the local cache
// only when the remote delete fails.
func (s *Store) Delete(ctx context.Context, id string) (*DeleteOutput, error) {
	out := &DeleteOutput{ID: id}

	var remoteErr error
	if models.IsOfflineID(id) {
		remoteErr = fmt.Errorf("offline id")
	} else {
		remoteErr = s.deleteRemote(ctx, id)
	}
	if remoteErr == nil {
		out.Result, out.Source = models.OK(), SourceRemote
		s.afterDelete(ctx, out, metrics.StatusOK)
		return out, nil
	}

	localErr := s.cache.Delete(ctx, id)
	if localErr == nil {
		out.Result, out.Source = models.OK(), SourceLocal
		s.afterDelete(ctx, out, metrics.StatusDegraded)
		return out, nil
	}

	metrics.Operation("delete", metrics.StatusFailed)
	if errors.Is(localErr, apperr.ErrNotFound) &&
		(models.IsOfflineID(id) || errors.Is(remoteErr, apperr.ErrNotFound)) {
		return nil, fmt.Errorf("store: delete %s: %w", id, apperr.ErrNotFound)
	}
	if !errors.Is(localErr, apperr.ErrNotFound) {
		return nil, fmt.Errorf("store: delete %s: %w", id, localErr)
	}
	s.logger.Warn("store: delete failed", slog.String("id", id), slog.String("error", remoteErr.Error()))
	out.Result = models.Failed(remoteErr)
	return out, nil
}

func (s *Store) afterDelete(ctx context.Context, out *DeleteOutput, status string) {
	metrics.Operation("delete", status)
	s.ledger.Recordf(ctx, models.OpDelete, 0, "deleted backup %s (%s)", out.ID, out.Source)
	s.emit(models.BackupEvent{Type: models.EventBackupDeleted, BackupID: out.ID})
}

func (s *Store) deleteRemote(ctx context.Context, id string) error {
	if s.remote == nil {
		return apperr.ErrRemoteUnavailable
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.remote.DeleteBackup(rctx, id)
}

func (s *Store) listRemote(ctx context.Context) ([]models.Backup, error) {
	if s.remote == nil {
		return nil, apperr.ErrRemoteUnavailable
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	backups, err := s.remote.ListBackups(rctx)
	if err != nil && backups == nil {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("store: skipped malformed remote entries", slog.String("error", err.Error()))
	}
	return backups, nil
}

func (s *Store) listLocal(ctx context.Context) ([]models.Backup, error) {
	blobs, err := s.cache.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Backup, 0, len(blobs))
	for _, bl := range blobs {
		var b models.Backup
		if err := json.Unmarshal(bl.Data, &b); err != nil {
			s.logger.Warn("store: skip undecodable cache entry", slog.String("id", bl.ID), slog.String("error", err.Error()))
			continue
		}
		b.ID = bl.ID
		out = append(out, b)
	}
	return out, nil
}

func newOfflineID() string {
	return models.OfflineIDPrefix + strings.ToLower(ulid.Make().String())
}

func sortNewestFirst(bs []models.Backup) {
	sort.SliceStable(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.After(bs[j].CreatedAt)
		}
		return bs[i].ID > bs[j].ID
	})
}
