package checksum

import (
	"errors"
	"testing"
	"time"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/models"
)

func sampleNote() models.Note {
	return models.Note{
		ID:        "n1",
		Title:     "Groceries",
		Content:   "milk, eggs",
		Tags:      []string{"home", "list"},
		CreatedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC),
	}
}

func TestSum(t *testing.T) {
	got := Sum([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("Sum = %s, want %s", got, want)
	}
}

func TestFingerprint_IgnoresID(t *testing.T) {
	a := sampleNote()
	b := sampleNote()
	b.ID = "some-other-store-id"
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprint must not depend on id")
	}
}

func TestFingerprint_SensitiveToContentAndTags(t *testing.T) {
	base := Fingerprint(sampleNote())

	c := sampleNote()
	c.Content = "milk, eggs, bread"
	if Fingerprint(c) == base {
		t.Error("content change must change fingerprint")
	}

	tg := sampleNote()
	tg.Tags = append(tg.Tags, "urgent")
	if Fingerprint(tg) == base {
		t.Error("tag change must change fingerprint")
	}
}

func TestFingerprint_IgnoresBookkeeping(t *testing.T) {
	base := Fingerprint(sampleNote())

	n := sampleNote()
	n.UpdatedAt = n.UpdatedAt.Add(time.Hour)
	n.IsPinned = true
	n.Mood = "happy"
	n.Weather = "rain"
	n.Tags = []string{" list", "home", "home"}
	if Fingerprint(n) != base {
		t.Error("bookkeeping fields and tag order must not change fingerprint")
	}
}

func TestFingerprint_SensitiveToTagCase(t *testing.T) {
	a := sampleNote()
	a.Tags = []string{"Work"}
	b := sampleNote()
	b.Tags = []string{"work"}
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("tag case change must change fingerprint")
	}
}

func TestFingerprint_StableAcrossZones(t *testing.T) {
	a := sampleNote()
	b := sampleNote()
	b.CreatedAt = a.CreatedAt.In(time.FixedZone("UTC+3", 3*3600))
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("same instant in another zone must hash identically")
	}
}

func TestVerify(t *testing.T) {
	n := sampleNote()
	snaps := []models.NoteSnapshot{Snapshot(n)}
	b := &models.Backup{ID: "b1", Notes: snaps, IntegrityDigest: Digest(snaps)}
	if err := Verify(b); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	b.Notes[0].Note.Content = "tampered"
	if err := Verify(b); !errors.Is(err, apperr.ErrCorruptBackup) {
		t.Errorf("tampered content: err = %v, want ErrCorruptBackup", err)
	}

	b.Notes = snaps[:0]
	if err := Verify(b); !errors.Is(err, apperr.ErrCorruptBackup) {
		t.Errorf("dropped note: err = %v, want ErrCorruptBackup", err)
	}
}

func TestVerify_DetectsNonFingerprintedFields(t *testing.T) {
	tamper := map[string]func(n *models.Note){
		"updated_at": func(n *models.Note) { n.UpdatedAt = n.UpdatedAt.Add(48 * time.Hour) },
		"is_pinned":  func(n *models.Note) { n.IsPinned = !n.IsPinned },
		"mood":       func(n *models.Note) { n.Mood = "TAMPERED" },
		"weather":    func(n *models.Note) { n.Weather = "TAMPERED" },
		"id":         func(n *models.Note) { n.ID = "other" },
	}
	for field, edit := range tamper {
		t.Run(field, func(t *testing.T) {
			snaps := []models.NoteSnapshot{Snapshot(sampleNote())}
			b := &models.Backup{ID: "b1", Notes: snaps, IntegrityDigest: Digest(snaps)}

			edit(&b.Notes[0].Note)
			if err := Verify(b); !errors.Is(err, apperr.ErrCorruptBackup) {
				t.Errorf("tampered %s: err = %v, want ErrCorruptBackup", field, err)
			}
		})
	}
}

func TestDigest_OrderAndZoneHandling(t *testing.T) {
	a, b := sampleNote(), sampleNote()
	b.ID, b.Title = "n2", "Other"
	ab := []models.NoteSnapshot{Snapshot(a), Snapshot(b)}
	ba := []models.NoteSnapshot{Snapshot(b), Snapshot(a)}
	if Digest(ab) == Digest(ba) {
		t.Error("digest must depend on snapshot order")
	}

	shifted := sampleNote()
	shifted.UpdatedAt = shifted.UpdatedAt.In(time.FixedZone("UTC-5", -5*3600))
	if Digest([]models.NoteSnapshot{Snapshot(a)}) != Digest([]models.NoteSnapshot{Snapshot(shifted)}) {
		t.Error("same instants in another zone must digest identically")
	}
}
