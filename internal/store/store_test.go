package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/history"
	"github.com/starford/kenaz-backup/internal/localdb"
	"github.com/starford/kenaz-backup/internal/media"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/remote"
	"github.com/starford/kenaz-backup/internal/testutil"
	"github.com/starford/kenaz-backup/internal/vault"
)

type env struct {
	store  *Store
	vault  *vault.Store
	fake   *testutil.FakeRemote
	remote *remote.Client
	db     *localdb.DB
}

func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	v, _ := testutil.TestVault(t)
	fake := testutil.NewFakeRemote(t)
	db := testutil.TestDB(t)
	rc := remote.New(fake.URL(), "", 2*time.Second)

	opts = append([]Option{WithLedger(history.New(db, nil)), WithClock(tickingClock())}, opts...)
	return &env{
		store:  New(v, rc, db, opts...),
		vault:  v,
		fake:   fake,
		remote: rc,
		db:     db,
	}
}

func (e *env) note(t *testing.T, title, content string) *models.Note {
	t.Helper()
	n, err := e.vault.CreateNote(context.Background(), models.Note{
		Title:     title,
		Content:   content,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return n
}

func TestCreate_RemotePrimary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n1 := e.note(t, "one", "hello")
	e.note(t, "two", "world")

	out, err := e.store.Create(ctx, "", models.KindManual)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.False(t, out.Degraded)
	assert.Equal(t, 2, out.NoteCount)
	assert.False(t, models.IsOfflineID(out.Backup.ID))
	assert.Equal(t, 1, e.fake.Len())

	out, err = e.store.Create(ctx, n1.ID, models.KindAuto)
	require.NoError(t, err)
	require.Len(t, out.Backup.Notes, 1)
	assert.Equal(t, n1.ID, out.Backup.Notes[0].Note.ID)
	assert.Equal(t, n1.ID, out.Backup.NoteID)

	local, err := e.db.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, local, "remote success must not write the local cache")

	list, err := e.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, list.Source)
	require.Len(t, list.Backups, 2)
	assert.Equal(t, models.KindAuto, list.Backups[0].Kind, "newest first")

	got, err := e.store.Get(ctx, out.Backup.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Backup.IntegrityDigest, got.IntegrityDigest)

	recs, err := e.db.ListHistory(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, models.OpBackup, recs[0].Operation)
}

func TestCreate_Empty(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.store.Create(ctx, "", models.KindManual)
	assert.True(t, errors.Is(err, apperr.ErrEmptyBackup), "err = %v", err)

	e.note(t, "x", "y")
	_, err = e.store.Create(ctx, "01hzzzzzzzzzzzzzzzzzzzzzzz", models.KindManual)
	assert.True(t, errors.Is(err, apperr.ErrEmptyBackup), "err = %v", err)
	assert.Equal(t, 0, e.fake.Len())
}

func TestFallbackAndSync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.note(t, "n", "offline content")

	e.fake.SetFailing(true)
	out, err := e.store.Create(ctx, n.ID, models.KindManual)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.Degraded)
	offlineID := out.Backup.ID
	assert.True(t, models.IsOfflineID(offlineID))

	list, err := e.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, list.Source)
	require.Len(t, list.Backups, 1)
	assert.Equal(t, offlineID, list.Backups[0].ID)

	got, err := e.store.Get(ctx, offlineID)
	require.NoError(t, err)
	assert.Equal(t, out.Backup.IntegrityDigest, got.IntegrityDigest)

	pending, err := e.store.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, offlineID, pending[0].ID)

	// Sync while the remote is down leaves everything in place.
	res, err := e.store.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	all, _ := e.db.All(ctx)
	assert.Len(t, all, 1)

	e.fake.SetFailing(false)
	res, err = e.store.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Promoted)
	assert.Equal(t, 0, res.Retained)

	list, err = e.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, list.Source)
	require.Len(t, list.Backups, 1)
	assert.NotEqual(t, offlineID, list.Backups[0].ID)
	assert.Equal(t, out.Backup.IntegrityDigest, list.Backups[0].IntegrityDigest)

	all, _ = e.db.All(ctx)
	assert.Empty(t, all)
	pending, err = e.store.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSync_PrunesWhenRemoteHoldsCopy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.note(t, "n", "c")

	e.fake.SetFailing(true)
	out, err := e.store.Create(ctx, n.ID, models.KindAuto)
	require.NoError(t, err)
	e.fake.SetFailing(false)

	// The remote received its own copy out of band.
	_, err = e.remote.CreateBackup(ctx, out.Backup)
	require.NoError(t, err)

	// A stale server-id entry in the cache is pruned too.
	require.NoError(t, e.db.Put(ctx, "999", []byte(`{"id":"999","kind":"manual","notes":[]}`)))

	res, err := e.store.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, 0, res.Promoted)
	assert.Equal(t, 1, e.fake.Len(), "nothing pushed twice")
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.note(t, "n", "c")

	out, err := e.store.Create(ctx, n.ID, models.KindManual)
	require.NoError(t, err)
	del, err := e.store.Delete(ctx, out.Backup.ID)
	require.NoError(t, err)
	assert.True(t, del.Success)
	assert.Equal(t, SourceRemote, del.Source)
	assert.Equal(t, 0, e.fake.Len())

	e.fake.SetFailing(true)
	out, err = e.store.Create(ctx, n.ID, models.KindManual)
	require.NoError(t, err)
	del, err = e.store.Delete(ctx, out.Backup.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, del.Source)

	e.fake.SetFailing(false)
	_, err = e.store.Delete(ctx, "12345")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "err = %v", err)
	_, err = e.store.Delete(ctx, models.OfflineIDPrefix+"missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "err = %v", err)

	e.fake.SetFailing(true)
	del, err = e.store.Delete(ctx, "12345")
	require.NoError(t, err)
	assert.False(t, del.Success)
}

func TestRetentionCap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.note(t, "n", "c")
	other := e.note(t, "o", "c2")

	manual, err := e.store.Create(ctx, n.ID, models.KindManual)
	require.NoError(t, err)
	otherAuto, err := e.store.Create(ctx, other.ID, models.KindAuto)
	require.NoError(t, err)

	var autos []*models.Backup
	for i := 0; i < DefaultRetention+5; i++ {
		out, err := e.store.Create(ctx, n.ID, models.KindAuto)
		require.NoError(t, err)
		autos = append(autos, out.Backup)
	}

	res, err := e.store.EnforceRetention(ctx, n.ID, DefaultRetention)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 5)
	assert.Equal(t, DefaultRetention, res.Kept)
	for i, b := range autos[:5] {
		assert.Equal(t, b.ID, res.Deleted[i], "oldest deleted first")
	}

	list, err := e.store.List(ctx)
	require.NoError(t, err)
	remaining := make(map[string]bool)
	for _, b := range list.Backups {
		remaining[b.ID] = true
	}
	assert.True(t, remaining[manual.Backup.ID], "manual backup untouched")
	assert.True(t, remaining[otherAuto.Backup.ID], "other scope untouched")
	for _, b := range autos[5:] {
		assert.True(t, remaining[b.ID], "recent auto %s kept", b.ID)
	}
	assert.Len(t, list.Backups, DefaultRetention+2)
}

// gateExtractor records how many Extract calls run at once.
type gateExtractor struct {
	mu      sync.Mutex
	active  int
	max     int
	arrived chan struct{}
	wait    time.Duration
}

func (g *gateExtractor) Extract(ctx context.Context, _ []models.Note) media.Result {
	g.mu.Lock()
	g.active++
	if g.active > g.max {
		g.max = g.active
	}
	g.mu.Unlock()

	select {
	case g.arrived <- struct{}{}:
	default:
	}
	time.Sleep(g.wait)

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	return media.Result{}
}

func TestScopeLocks_SerializeOverlappingScopes(t *testing.T) {
	gate := &gateExtractor{arrived: make(chan struct{}, 8), wait: 50 * time.Millisecond}
	e := newEnv(t, WithExtractor(gate))
	n := e.note(t, "n", "c")

	var wg sync.WaitGroup
	for _, scope := range []string{n.ID, n.ID, ""} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.store.Create(context.Background(), scope, models.KindManual)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, gate.max)
	assert.Equal(t, 3, e.fake.Len())
}

func TestScopeLocks_DistinctNotesRunInParallel(t *testing.T) {
	gate := &gateExtractor{arrived: make(chan struct{}, 8), wait: 200 * time.Millisecond}
	e := newEnv(t, WithExtractor(gate))
	a := e.note(t, "a", "1")
	b := e.note(t, "b", "2")

	var wg sync.WaitGroup
	for _, scope := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.store.Create(context.Background(), scope, models.KindManual)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, gate.max)
}

func TestObserver(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.note(t, "n", "c")

	var (
		mu     sync.Mutex
		events []models.BackupEvent
	)
	e.store.OnEvent(func(ev models.BackupEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	e.fake.SetFailing(true)
	out, err := e.store.Create(ctx, n.ID, models.KindManual)
	require.NoError(t, err)
	e.fake.SetFailing(false)
	_, err = e.store.Sync(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventBackupCreated, events[0].Type)
	assert.Equal(t, out.Backup.ID, events[0].BackupID)
	assert.True(t, events[0].Degraded)
	assert.Equal(t, models.EventBackupSynced, events[1].Type)
	assert.Equal(t, 1, events[1].Removed)
	assert.False(t, events[1].At.IsZero())
}

func TestPut_RequiresValidBackup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.note(t, "n", "c")

	out, err := e.store.Create(ctx, n.ID, models.KindManual)
	require.NoError(t, err)

	cp := *out.Backup
	put, err := e.store.Put(ctx, cp)
	require.NoError(t, err)
	assert.NotEqual(t, out.Backup.ID, put.Backup.ID)
	assert.True(t, cp.CreatedAt.Equal(put.Backup.CreatedAt))

	cp.IntegrityDigest = "sha256:bogus"
	_, err = e.store.Put(ctx, cp)
	assert.True(t, errors.Is(err, apperr.ErrCorruptBackup), "err = %v", err)

	_, err = e.store.Put(ctx, models.Backup{})
	assert.True(t, errors.Is(err, apperr.ErrEmptyBackup))
}

func TestNoRemote_AlwaysLocal(t *testing.T) {
	v, _ := testutil.TestVault(t)
	db := testutil.TestDB(t)
	s := New(v, nil, db)
	ctx := context.Background()
	_, err := v.CreateNote(ctx, models.Note{Title: "t", Content: "c"})
	require.NoError(t, err)

	out, err := s.Create(ctx, "", models.KindManual)
	require.NoError(t, err)
	assert.True(t, out.Degraded)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, list.Source)
	assert.Len(t, list.Backups, 1)
}

// reservedIDRemote stores nothing and answers create with an offline-style id.
type reservedIDRemote struct{ Remote }

func (reservedIDRemote) CreateBackup(context.Context, *models.Backup) (string, error) {
	return "", fmt.Errorf("remote: %w: server assigned reserved id %q", apperr.ErrRemoteProtocol, "local_01HZX")
}

func TestCreate_ProtocolErrorDoesNotFallBack(t *testing.T) {
	v, _ := testutil.TestVault(t)
	db := testutil.TestDB(t)
	s := New(v, reservedIDRemote{}, db)
	ctx := context.Background()
	_, err := v.CreateNote(ctx, models.Note{Title: "t", Content: "c"})
	require.NoError(t, err)

	_, err = s.Create(ctx, "", models.KindManual)
	require.ErrorIs(t, err, apperr.ErrRemoteProtocol)

	blobs, err := db.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, blobs, "nothing may be cached locally")
}

func TestCreate_RemoteReturningOfflineIDIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"local_01HZX"}`))
	}))
	defer srv.Close()

	v, _ := testutil.TestVault(t)
	db := testutil.TestDB(t)
	s := New(v, remote.New(srv.URL, "", time.Second), db)
	ctx := context.Background()
	_, err := v.CreateNote(ctx, models.Note{Title: "t", Content: "c"})
	require.NoError(t, err)

	_, err = s.Create(ctx, "", models.KindManual)
	require.ErrorIs(t, err, apperr.ErrRemoteProtocol)
	blobs, err := db.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, blobs)
}

func TestLatest(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	old := models.Backup{ID: "1", CreatedAt: t0, Notes: []models.NoteSnapshot{{Note: models.Note{ID: "a"}, Fingerprint: "f-old"}}}
	newer := models.Backup{ID: "2", CreatedAt: t0.Add(time.Hour), Notes: []models.NoteSnapshot{{Note: models.Note{ID: "a"}, Fingerprint: "f-new"}}}
	other := models.Backup{ID: "3", CreatedAt: t0, Notes: []models.NoteSnapshot{{Note: models.Note{ID: "b"}, Fingerprint: "f-b"}}}

	got := Latest([]models.Backup{old, other, newer})
	assert.Equal(t, models.Fingerprint("f-new"), got["a"].Fingerprint)
	assert.Equal(t, models.Fingerprint("f-b"), got["b"].Fingerprint)
}
