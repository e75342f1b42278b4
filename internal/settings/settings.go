// Package settings owns the process-wide BackupSettings value. It is loaded
// from the remote primary, falling back to a local YAML file, and handed to
// subscribers explicitly rather than read from global state.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/history"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/pkg/config"
)

// Remote stores settings at the remote primary.
type Remote interface {
	GetSettings(ctx context.Context) (models.BackupSettings, error)
	PutSettings(ctx context.Context, s models.BackupSettings) error
}

// Source names where the current value came from.
type Source string

// Settings sources.
const (
	SourceRemote  Source = "remote"
	SourceLocal   Source = "local"
	SourceDefault Source = "default"
)

// Output is the result of Reload and Save.
type Output struct {
	models.Result
	Settings models.BackupSettings `json:"settings"`
	Source   Source                `json:"source"`
}

// Manager holds the current settings and notifies subscribers on change.
type Manager struct {
	remote  Remote
	path    string
	ledger  *history.Ledger
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	current models.BackupSettings
	source  Source

	subMu sync.Mutex
	subs  []func(models.BackupSettings)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLedger sets the history ledger.
func WithLedger(l *history.Ledger) Option { return func(m *Manager) { m.ledger = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithRemoteTimeout bounds remote calls.
func WithRemoteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithDefaults sets the value used before the first Reload and when nothing
// is stored anywhere.
func WithDefaults(s models.BackupSettings) Option {
	return func(m *Manager) { m.current = s }
}

// New creates a manager. remote may be nil; path is the YAML fallback file.
func New(remote Remote, path string, opts ...Option) *Manager {
	m := &Manager{
		remote:  remote,
		path:    path,
		logger:  slog.Default(),
		timeout: 10 * time.Second,
		current: models.DefaultBackupSettings(),
		source:  SourceDefault,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Current returns the current settings.
func (m *Manager) Current() models.BackupSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange subscribes fn to settings changes. fn runs synchronously on the
// goroutine that applied the change.
func (m *Manager) OnChange(fn func(models.BackupSettings)) {
	m.subMu.Lock()
	m.subs = append(m.subs, fn)
	m.subMu.Unlock()
}

// Reload reads the settings from the remote primary, falling back to the
// local file, then to the current value.
func (m *Manager) Reload(ctx context.Context) (*Output, error) {
	if s, err := m.getRemote(ctx); err == nil {
		if err := s.Validate(); err != nil {
			m.logger.Warn("settings: remote value invalid, ignoring", slog.String("error", err.Error()))
		} else {
			m.apply(s, SourceRemote)
			return m.output(), nil
		}
	} else {
		m.logger.Debug("settings: remote unavailable, reading local file", slog.String("error", err.Error()))
	}

	s, err := m.loadFile()
	switch {
	case err == nil:
		m.apply(s, SourceLocal)
	case errors.Is(err, os.ErrNotExist):
		m.logger.Debug("settings: no local file, keeping current", slog.String("path", m.path))
	default:
		return nil, fmt.Errorf("settings: reload: %w", err)
	}
	return m.output(), nil
}

// Save validates s and stores it at the remote primary, or in the local file
// when the remote fails.
func (m *Manager) Save(ctx context.Context, s models.BackupSettings) (*Output, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w: %w", apperr.ErrInvalidInput, err)
	}

	source := SourceRemote
	if err := m.putRemote(ctx, s); err != nil {
		m.logger.Warn("settings: remote save failed, writing local file", slog.String("error", err.Error()))
		if m.path == "" {
			return nil, fmt.Errorf("settings: save: %w", err)
		}
		if err := config.Save(m.path, &s); err != nil {
			return nil, fmt.Errorf("settings: save local: %w", err)
		}
		source = SourceLocal
	}

	m.apply(s, source)
	m.ledger.Recordf(ctx, models.OpSettings, 0,
		"auto_backup=%t interval=%dm compression=%t (%s)",
		s.AutoBackupEnabled, s.BackupIntervalMinutes, s.CompressionEnabled, source)
	return m.output(), nil
}

func (m *Manager) output() *Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Output{Result: models.OK(), Settings: m.current, Source: m.source}
}

// apply stores s and notifies subscribers if it differs from the current value.
func (m *Manager) apply(s models.BackupSettings, source Source) {
	m.mu.Lock()
	changed := m.current != s
	m.current, m.source = s, source
	m.mu.Unlock()

	if !changed {
		return
	}
	m.logger.Info("settings: applied",
		slog.Bool("auto_backup_enabled", s.AutoBackupEnabled),
		slog.Int("interval_minutes", s.BackupIntervalMinutes),
		slog.String("source", string(source)))

	m.subMu.Lock()
	subs := append([]func(models.BackupSettings){}, m.subs...)
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (m *Manager) getRemote(ctx context.Context) (models.BackupSettings, error) {
	if m.remote == nil {
		return models.BackupSettings{}, errors.New("no remote configured")
	}
	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.remote.GetSettings(rctx)
}

func (m *Manager) putRemote(ctx context.Context, s models.BackupSettings) error {
	if m.remote == nil {
		return errors.New("no remote configured")
	}
	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.remote.PutSettings(rctx, s)
}

func (m *Manager) loadFile() (models.BackupSettings, error) {
	var s models.BackupSettings
	if m.path == "" {
		return s, os.ErrNotExist
	}
	if _, err := os.Stat(m.path); err != nil {
		return s, err
	}
	if err := config.Load(m.path, &s); err != nil {
		return s, err
	}
	return s, nil
}
