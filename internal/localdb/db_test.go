package localdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.Get(&count, `SELECT count(*) FROM backups`); err != nil {
		t.Fatalf("backups table missing: %v", err)
	}
	if err := db.conn.Get(&count, `SELECT count(*) FROM history`); err != nil {
		t.Fatalf("history table missing: %v", err)
	}
}

func TestPutGetDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, "local_1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Put(ctx, "local_1", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, err := db.Get(ctx, "local_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("payload = %s", got)
	}

	all, err := db.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].ID != "local_1" {
		t.Errorf("All = %+v", all)
	}

	if err := db.Delete(ctx, "local_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get(ctx, "local_1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get after delete: err = %v", err)
	}
	if err := db.Delete(ctx, "local_1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second Delete: err = %v", err)
	}
}

func TestHistory(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ts := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	for i, op := range []models.Operation{models.OpBackup, models.OpRestore, models.OpDelete} {
		rec, err := db.AppendHistory(ctx, models.HistoryRecord{
			Timestamp:         ts.Add(time.Duration(i) * time.Minute),
			Operation:         op,
			AffectedNoteCount: i + 1,
			Details:           "detail",
		})
		if err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
		if rec.ID == 0 {
			t.Error("expected id to be assigned")
		}
	}

	recs, err := db.ListHistory(ctx, 2)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].Operation != models.OpDelete || recs[0].AffectedNoteCount != 3 {
		t.Errorf("newest = %+v", recs[0])
	}
	if !recs[1].Timestamp.Equal(ts.Add(time.Minute)) {
		t.Errorf("timestamp = %v", recs[1].Timestamp)
	}

	n, err := db.ClearHistory(ctx)
	if err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if n != 3 {
		t.Errorf("cleared = %d, want 3", n)
	}
	recs, _ = db.ListHistory(ctx, 0)
	if len(recs) != 0 {
		t.Errorf("len after clear = %d", len(recs))
	}
}
