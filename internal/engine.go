package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/kenaz-backup/internal/backupservice"
	"github.com/starford/kenaz-backup/internal/history"
	"github.com/starford/kenaz-backup/internal/kv"
	"github.com/starford/kenaz-backup/internal/localdb"
	"github.com/starford/kenaz-backup/internal/media"
	"github.com/starford/kenaz-backup/internal/notestore"
	"github.com/starford/kenaz-backup/internal/remote"
	"github.com/starford/kenaz-backup/internal/restore"
	"github.com/starford/kenaz-backup/internal/scheduler"
	"github.com/starford/kenaz-backup/internal/settings"
	"github.com/starford/kenaz-backup/internal/sse"
	"github.com/starford/kenaz-backup/internal/storage"
	"github.com/starford/kenaz-backup/internal/store"
	"github.com/starford/kenaz-backup/internal/vault"
)

// Engine holds every backup component built from a Config.
type Engine struct {
	Service   *backupservice.Service
	Store     *store.Store
	Settings  *settings.Manager
	Scheduler *scheduler.Scheduler
	Broker    *sse.Broker
	Exports   *storage.FS

	closers []func() error
}

// Build constructs the engine. The caller must Close it.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	notes, err := buildNoteStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := localdb.Open(cfg.Local.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("init local db: %w", err)
	}
	e.closers = append(e.closers, db.Close)

	var cache store.Cache = db
	if cfg.Local.Driver == LocalDriverBadger {
		kdb, err := kv.Open(kv.Config{Path: cfg.Local.BadgerPath, SyncWrites: true, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("init badger cache: %w", err)
		}
		e.closers = append(e.closers, kdb.Close)
		cache = kdb
	}

	mediaFS, err := storage.OpenDir(cfg.Media.Root)
	if err != nil {
		return nil, fmt.Errorf("init media store: %w", err)
	}
	e.Exports, err = storage.OpenDir(cfg.Export.Dir)
	if err != nil {
		return nil, fmt.Errorf("init export dir: %w", err)
	}

	ledger := history.New(db, logger)
	e.Broker = sse.NewBroker(30 * time.Second)
	e.closers = append(e.closers, func() error { e.Broker.Close(); return nil })

	// Interface values stay nil when the remote primary is disabled.
	var (
		storeRemote    store.Remote
		settingsRemote settings.Remote
		mirror         restore.Mirror
	)
	if cfg.Remote.Enabled {
		rc := remote.New(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.Timeout)
		storeRemote, settingsRemote, mirror = rc, rc, rc
	}

	e.Store = store.New(notes, storeRemote, cache,
		store.WithExtractor(media.NewExtractor(mediaFS, media.Config{
			Timeout:           cfg.Media.Timeout,
			Workers:           cfg.Media.Workers,
			MaxSize:           cfg.Media.MaxSize,
			AllowPrivateHosts: cfg.Media.AllowPrivateHosts,
		}, logger)),
		store.WithLedger(ledger),
		store.WithLogger(logger),
		store.WithRemoteTimeout(cfg.Remote.Timeout),
	)
	e.Store.OnEvent(e.Broker.PublishBackupEvent)

	restoreOpts := []restore.Option{
		restore.WithMedia(media.NewMaterializer(mediaFS, logger)),
		restore.WithLedger(ledger),
		restore.WithLogger(logger),
		restore.WithNotifier(e.Broker.PublishBackupEvent),
	}
	if mirror != nil {
		restoreOpts = append(restoreOpts, restore.WithMirror(mirror))
	}

	e.Settings = settings.New(settingsRemote, cfg.Backup.SettingsPath,
		settings.WithDefaults(cfg.Backup.Defaults),
		settings.WithLedger(ledger),
		settings.WithLogger(logger),
		settings.WithRemoteTimeout(cfg.Remote.Timeout),
	)
	if _, err := e.Settings.Reload(ctx); err != nil {
		logger.Warn("engine: initial settings reload failed", slog.String("error", err.Error()))
	}

	e.Scheduler = scheduler.New(e.Store, notes,
		scheduler.WithLogger(logger),
		scheduler.WithRetention(cfg.Backup.Retention),
		scheduler.WithTickTimeout(cfg.Backup.TickTimeout),
	)

	e.Service = backupservice.New(backupservice.Deps{
		Store:    e.Store,
		Restore:  restore.New(notes, restoreOpts...),
		Ledger:   ledger,
		Settings: e.Settings,
		Exports:  e.Exports,
		Logger:   logger,
	})

	ok = true
	return e, nil
}

// StartScheduler arms the scheduler from the current settings and re-arms it
// whenever they change.
func (e *Engine) StartScheduler() {
	e.Settings.OnChange(e.Scheduler.Apply)
	e.Scheduler.Apply(e.Settings.Current())
}

// Close releases every resource in reverse order of acquisition.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func buildNoteStore(cfg *Config, logger *slog.Logger) (notestore.NoteStore, error) {
	if cfg.Notes.Source == NotesSourceHTTP {
		return notestore.NewClient(cfg.Notes.URL, cfg.Notes.Token, cfg.Notes.Timeout), nil
	}
	fs, err := storage.OpenDir(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	return vault.New(fs, logger), nil
}
