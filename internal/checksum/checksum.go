// Package checksum computes content digests: raw byte sums, note fingerprints,
// and the integrity digest over a backup's note sequence.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/models"
)

const fingerprintPrefix = "sha256:"

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// fingerprintInput is the canonical form hashed for a note. The id and
// bookkeeping fields (updated_at, pin state, mood, weather) are excluded.
type fingerprintInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}

// Fingerprint returns the content fingerprint of n.
func Fingerprint(n models.Note) models.Fingerprint {
	in := fingerprintInput{
		Title:   n.Title,
		Content: n.Content,
		Tags:    normalizeTags(n.Tags),
	}
	in.CreatedAt = canonicalTime(n.CreatedAt)
	// Marshal of a flat struct of strings cannot fail.
	data, _ := json.Marshal(in)
	return models.Fingerprint(fingerprintPrefix + Sum(data))
}

// Snapshot pairs a note with its fingerprint.
func Snapshot(n models.Note) models.NoteSnapshot {
	return models.NoteSnapshot{Note: n, Fingerprint: Fingerprint(n)}
}

// snapshotRecord is the canonical form of one snapshot inside the integrity
// digest. Every note field is covered; times are UTC at second precision so
// the digest survives a JSON round trip through either store.
type snapshotRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	IsPinned    bool     `json:"is_pinned"`
	Mood        string   `json:"mood"`
	Weather     string   `json:"weather"`
	Fingerprint string   `json:"fingerprint"`
}

func canonicalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Digest returns the integrity digest over an ordered snapshot sequence.
func Digest(snaps []models.NoteSnapshot) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, s := range snaps {
		tags := s.Note.Tags
		if tags == nil {
			tags = []string{}
		}
		// Encode of a flat struct of strings and bools cannot fail.
		_ = enc.Encode(snapshotRecord{
			ID:          s.Note.ID,
			Title:       s.Note.Title,
			Content:     s.Note.Content,
			Tags:        tags,
			CreatedAt:   canonicalTime(s.Note.CreatedAt),
			UpdatedAt:   canonicalTime(s.Note.UpdatedAt),
			IsPinned:    s.Note.IsPinned,
			Mood:        s.Note.Mood,
			Weather:     s.Note.Weather,
			Fingerprint: string(s.Fingerprint),
		})
	}
	return fingerprintPrefix + hex.EncodeToString(h.Sum(nil))
}

// Verify checks every snapshot fingerprint and the backup's integrity digest.
// Failures wrap apperr.ErrCorruptBackup.
func Verify(b *models.Backup) error {
	for i, s := range b.Notes {
		if got := Fingerprint(s.Note); got != s.Fingerprint {
			return fmt.Errorf("%w: note %d (%s) fingerprint mismatch", apperr.ErrCorruptBackup, i, s.Note.ID)
		}
	}
	if got := Digest(b.Notes); got != b.IntegrityDigest {
		return fmt.Errorf("%w: digest mismatch for backup %s", apperr.ErrCorruptBackup, b.ID)
	}
	return nil
}

// normalizeTags trims, dedupes and sorts tags so that tag order and
// duplicates do not change the fingerprint. Case is kept.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
