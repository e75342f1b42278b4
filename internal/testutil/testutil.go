// Package testutil provides shared test helpers: temporary note vaults and
// databases, and an in-process fake of the remote backup primary.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kenaz-backup/internal/localdb"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/storage"
	"github.com/starford/kenaz-backup/internal/vault"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *localdb.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "kenaz-backup-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := localdb.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary note vault.
func TestVault(t *testing.T) (*vault.Store, storage.Provider) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return vault.New(fs, nil), fs
}

// Eventually polls cond until it returns true or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

// FakeRemote is an in-memory remote backup primary. It assigns numeric ids
// and answers listings in the legacy shape (type/timestamp, notes as a JSON
// string) so that payload normalization is exercised.
type FakeRemote struct {
	Server *httptest.Server

	failing atomic.Bool

	mu       sync.Mutex
	seq      int
	backups  map[int]map[string]any
	settings *models.BackupSettings
	restores []string
}

// NewFakeRemote starts a fake primary that is closed with the test.
func NewFakeRemote(t *testing.T) *FakeRemote {
	t.Helper()
	f := &FakeRemote{backups: make(map[int]map[string]any)}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if f.failing.Load() {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/backups", f.create)
	r.Get("/backups", f.list)
	r.Get("/backups/{id}", f.get)
	r.Delete("/backups/{id}", f.delete)
	r.Post("/backups/{id}/restore", f.restore)
	r.Get("/settings", f.getSettings)
	r.Put("/settings", f.putSettings)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base URL of the fake.
func (f *FakeRemote) URL() string { return f.Server.URL }

// SetFailing makes every request answer 503 while true.
func (f *FakeRemote) SetFailing(v bool) { f.failing.Store(v) }

// Len returns the number of stored backups.
func (f *FakeRemote) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.backups)
}

// Restores returns the ids passed to the restore mirror endpoint.
func (f *FakeRemote) Restores() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restores...)
}

func (f *FakeRemote) create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var in map[string]any
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec := map[string]any{
		"type":             in["backup_type"],
		"timestamp":        in["created_at"],
		"schema_version":   in["schema_version"],
		"note_id":          in["note_id"],
		"media":            in["media"],
		"integrity_digest": in["integrity_digest"],
	}
	notes, _ := json.Marshal(in["notes"])
	rec["notes"] = string(notes)

	f.mu.Lock()
	f.seq++
	id := f.seq
	rec["id"] = id
	f.backups[id] = rec
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (f *FakeRemote) list(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	ids := make([]int, 0, len(f.backups))
	for id := range f.backups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.backups[id])
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeRemote) lookup(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	f.mu.Lock()
	_, ok := f.backups[id]
	f.mu.Unlock()
	if err != nil || !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return 0, false
	}
	return id, true
}

func (f *FakeRemote) get(w http.ResponseWriter, r *http.Request) {
	id, ok := f.lookup(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	rec := f.backups[id]
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, rec)
}

func (f *FakeRemote) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := f.lookup(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	delete(f.backups, id)
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeRemote) restore(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.lookup(w, r); !ok {
		return
	}
	f.mu.Lock()
	f.restores = append(f.restores, chi.URLParam(r, "id"))
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (f *FakeRemote) getSettings(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	s := f.settings
	f.mu.Unlock()
	if s == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (f *FakeRemote) putSettings(w http.ResponseWriter, r *http.Request) {
	var s models.BackupSettings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.settings = &s
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
