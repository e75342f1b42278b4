// Package scheduler runs the automatic backup policy: on every tick each
// tracked scope whose content changed since its latest backup is backed up,
// then auto backups beyond the retention cap are pruned.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/starford/kenaz-backup/internal/checksum"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/notestore"
	"github.com/starford/kenaz-backup/internal/store"
)

// Store is the subset of the backup store the scheduler drives.
type Store interface {
	List(ctx context.Context) (*store.ListOutput, error)
	Pending(ctx context.Context) ([]models.Backup, error)
	Create(ctx context.Context, noteID string, kind models.BackupKind) (*store.CreateOutput, error)
	EnforceRetention(ctx context.Context, noteID string, keep int) (*store.RetentionOutput, error)
}

// State of the scheduler.
type State string

const (
	StateIdle   State = "idle"
	StateArmed  State = "armed"
	StateFiring State = "firing"
)

// TickOutput is the result of one tick.
type TickOutput struct {
	models.Result
	Created   int `json:"created"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Pruned    int `json:"pruned"`
}

// Scheduler arms a cron timer from BackupSettings.
type Scheduler struct {
	store       Store
	notes       notestore.NoteStore
	logger      *slog.Logger
	retention   int
	unit        time.Duration
	tickTimeout time.Duration

	mu       sync.Mutex
	cron     *cron.Cron
	interval time.Duration
	firing   bool

	trackMu sync.Mutex
	tracked map[string]struct{}

	tickMu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithRetention sets how many auto backups are kept per scope.
func WithRetention(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.retention = n
		}
	}
}

// WithIntervalUnit sets the unit of BackupIntervalMinutes. Tests use seconds.
func WithIntervalUnit(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.unit = d
		}
	}
}

// WithTickTimeout bounds one tick.
func WithTickTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickTimeout = d
		}
	}
}

// New creates an idle scheduler.
func New(st Store, notes notestore.NoteStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       st,
		notes:       notes,
		logger:      slog.Default(),
		retention:   store.DefaultRetention,
		unit:        time.Minute,
		tickTimeout: 10 * time.Minute,
		tracked:     make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Track adds a scope. The empty id tracks the whole store as one scope.
// When nothing is tracked every note is tracked individually.
func (s *Scheduler) Track(noteID string) {
	s.trackMu.Lock()
	s.tracked[noteID] = struct{}{}
	s.trackMu.Unlock()
}

// Untrack removes a scope.
func (s *Scheduler) Untrack(noteID string) {
	s.trackMu.Lock()
	delete(s.tracked, noteID)
	s.trackMu.Unlock()
}

// State reports the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.firing:
		return StateFiring
	case s.cron != nil:
		return StateArmed
	default:
		return StateIdle
	}
}

// Apply arms, re-arms or disarms the timer for settings.
func (s *Scheduler) Apply(settings models.BackupSettings) {
	if !settings.AutoBackupEnabled || settings.BackupIntervalMinutes <= 0 {
		s.disarm()
		return
	}
	interval := time.Duration(settings.BackupIntervalMinutes) * s.unit

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil && s.interval == interval {
		return
	}
	if s.cron != nil {
		s.cron.Stop()
	}

	c := cron.New(
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), s.fire); err != nil {
		s.logger.Error("scheduler: arm failed", slog.String("error", err.Error()))
		s.cron = nil
		return
	}
	c.Start()
	s.cron, s.interval = c, interval
	s.logger.Info("scheduler: armed", slog.String("interval", interval.String()))
}

// disarm stops the timer. A tick already running is left to complete.
func (s *Scheduler) disarm() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := s.cron.Stop()
	s.cron, s.interval = nil, 0
	s.logger.Info("scheduler: disarmed")
	return done
}

// Stop disarms the timer and waits for an in-flight tick or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.disarm()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
	defer cancel()
	out, err := s.Tick(ctx)
	if err != nil {
		s.logger.Warn("scheduler: tick failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("scheduler: tick",
		slog.Int("created", out.Created),
		slog.Int("unchanged", out.Unchanged),
		slog.Int("failed", out.Failed),
		slog.Int("pruned", out.Pruned))
}

// Tick runs one policy pass. Ticks never overlap.
func (s *Scheduler) Tick(ctx context.Context) (*TickOutput, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.setFiring(true)
	defer s.setFiring(false)

	notes, err := s.notes.ListNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list notes: %w", err)
	}
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list backups: %w", err)
	}
	backups := list.Backups
	if list.Source == store.SourceRemote {
		// Offline backups not yet synced are still the latest for their notes.
		pending, err := s.store.Pending(ctx)
		if err != nil {
			return nil, fmt.Errorf("scheduler: list pending backups: %w", err)
		}
		backups = append(backups, pending...)
	}
	latest := store.Latest(backups)

	byID := make(map[string]models.Note, len(notes))
	for _, n := range notes {
		byID[n.ID] = n
	}

	out := &TickOutput{Result: models.OK()}
	for _, scope := range s.scopes(notes) {
		if !s.changed(scope, notes, byID, latest) {
			out.Unchanged++
			continue
		}
		if _, err := s.store.Create(ctx, scope, models.KindAuto); err != nil {
			s.logger.Warn("scheduler: auto backup failed", slog.String("scope", scope), slog.String("error", err.Error()))
			out.Failed++
			continue
		}
		out.Created++

		ret, err := s.store.EnforceRetention(ctx, scope, s.retention)
		if err != nil {
			s.logger.Warn("scheduler: retention failed", slog.String("scope", scope), slog.String("error", err.Error()))
			continue
		}
		out.Pruned += len(ret.Deleted)
	}
	return out, nil
}

func (s *Scheduler) setFiring(v bool) {
	s.mu.Lock()
	s.firing = v
	s.mu.Unlock()
}

func (s *Scheduler) scopes(notes []models.Note) []string {
	s.trackMu.Lock()
	out := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		out = append(out, id)
	}
	s.trackMu.Unlock()

	if len(out) == 0 {
		for _, n := range notes {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out
}

// changed reports whether the scope differs from its latest backup. A note
// scope whose note no longer exists is never backed up.
func (s *Scheduler) changed(scope string, notes []models.Note, byID map[string]models.Note, latest map[string]models.NoteSnapshot) bool {
	if scope == "" {
		if len(notes) == 0 {
			return false
		}
		for _, n := range notes {
			prev, ok := latest[n.ID]
			if !ok || prev.Fingerprint != checksum.Fingerprint(n) {
				return true
			}
		}
		return false
	}
	n, ok := byID[scope]
	if !ok {
		return false
	}
	prev, ok := latest[scope]
	return !ok || prev.Fingerprint != checksum.Fingerprint(n)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
