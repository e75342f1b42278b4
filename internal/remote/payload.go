package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/models"
)

// outgoing is the body sent to POST /backups.
type outgoing struct {
	BackupType      models.BackupKind     `json:"backup_type"`
	CreatedAt       string                `json:"created_at"`
	SchemaVersion   int                   `json:"schema_version"`
	NoteID          string                `json:"note_id,omitempty"`
	Notes           []models.NoteSnapshot `json:"notes"`
	Media           []models.MediaFile    `json:"media,omitempty"`
	IntegrityDigest string                `json:"integrity_digest"`
}

func toWire(b *models.Backup) outgoing {
	return outgoing{
		BackupType:      b.Kind,
		CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339Nano),
		SchemaVersion:   b.SchemaVersion,
		NoteID:          b.NoteID,
		Notes:           b.Notes,
		Media:           b.Media,
		IntegrityDigest: b.IntegrityDigest,
	}
}

// incoming accepts every shape the primary has been seen to return.
type incoming struct {
	ID              json.RawMessage `json:"id"`
	BackupType      string          `json:"backup_type"`
	Type            string          `json:"type"`
	Kind            string          `json:"kind"`
	CreatedAt       json.RawMessage `json:"created_at"`
	Timestamp       json.RawMessage `json:"timestamp"`
	SchemaVersion   int             `json:"schema_version"`
	NoteID          json.RawMessage `json:"note_id"`
	Notes           json.RawMessage `json:"notes"`
	Media           json.RawMessage `json:"media"`
	IntegrityDigest string          `json:"integrity_digest"`
}

// Normalize converts one raw primary payload into the canonical Backup shape.
func Normalize(raw []byte) (models.Backup, error) {
	var in incoming
	if err := json.Unmarshal(raw, &in); err != nil {
		return models.Backup{}, fmt.Errorf("remote: decode backup: %w", err)
	}
	return in.normalize()
}

func (in incoming) normalize() (models.Backup, error) {
	id, err := serverID(in.ID)
	if err != nil {
		return models.Backup{}, err
	}

	kind, err := models.ParseKind(firstNonEmpty(in.BackupType, in.Type, in.Kind))
	if err != nil {
		return models.Backup{}, fmt.Errorf("remote: backup %s: %w", id, err)
	}

	tsRaw := in.CreatedAt
	if isNull(tsRaw) {
		tsRaw = in.Timestamp
	}
	created, err := decodeTime(tsRaw)
	if err != nil {
		return models.Backup{}, fmt.Errorf("remote: backup %s: %w", id, err)
	}

	noteID, err := decodeID(in.NoteID)
	if err != nil {
		return models.Backup{}, fmt.Errorf("remote: backup %s note_id: %w", id, err)
	}

	notes, err := decodeNested[[]models.NoteSnapshot](in.Notes)
	if err != nil {
		return models.Backup{}, fmt.Errorf("remote: backup %s notes: %w", id, err)
	}
	media, err := decodeNested[[]models.MediaFile](in.Media)
	if err != nil {
		return models.Backup{}, fmt.Errorf("remote: backup %s media: %w", id, err)
	}

	version := in.SchemaVersion
	if version == 0 {
		version = models.SchemaVersion
	}
	return models.Backup{
		ID:              id,
		CreatedAt:       created,
		Kind:            kind,
		SchemaVersion:   version,
		NoteID:          noteID,
		Notes:           notes,
		Media:           media,
		IntegrityDigest: in.IntegrityDigest,
	}, nil
}

// serverID decodes an id assigned by the primary. Empty ids and ids in the
// offline namespace are protocol errors.
func serverID(raw json.RawMessage) (string, error) {
	id, err := decodeID(raw)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("remote: %w: missing id", apperr.ErrRemoteProtocol)
	}
	if models.IsOfflineID(id) {
		return "", fmt.Errorf("remote: %w: server assigned reserved id %q", apperr.ErrRemoteProtocol, id)
	}
	return id, nil
}

// decodeID accepts a JSON string or number.
func decodeID(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("remote: id %s is neither string nor number", raw)
	}
	return n.String(), nil
}

// decodeTime accepts RFC 3339 strings, SQL-style datetimes and epoch milliseconds.
func decodeTime(raw json.RawMessage) (time.Time, error) {
	if isNull(raw) {
		return time.Time{}, fmt.Errorf("missing created_at")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseTimeString(s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %s", raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

// decodeNested accepts a JSON value or a string holding the JSON-encoded value.
func decodeNested[T any](raw json.RawMessage) (T, error) {
	var out T
	if isNull(raw) {
		return out, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return out, nil
		}
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
