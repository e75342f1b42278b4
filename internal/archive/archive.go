// Package archive encodes backups into a portable zip archive and decodes
// them back.
//
// Layout:
//
//	README.txt                          informational, never parsed
//	backups.json                        backup metadata and note snapshots
//	media_files_<ts>/manifest.json      one entry per (backup, media reference)
//	media_files_<ts>/<sha256><ext>      raw media payloads, content-addressed
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/checksum"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/parser"
)

const (
	// FormatVersion is written into backups.json.
	FormatVersion = 1

	readmeName    = "README.txt"
	documentName  = "backups.json"
	manifestName  = "manifest.json"
	mediaPrefix   = "media_files_"
	timestampForm = "20060102T150405Z"

	maxEntrySize = 512 << 20
)

// ErrMalformed reports an archive that cannot be decoded.
var ErrMalformed = errors.New("archive: malformed")

// document is the machine-readable backups.json.
type document struct {
	FormatVersion int           `json:"format_version"`
	ExportedAt    time.Time     `json:"exported_at"`
	Backups       []backupEntry `json:"backups"`
}

type backupEntry struct {
	ID              string                `json:"id"`
	CreatedAt       time.Time             `json:"created_at"`
	Kind            models.BackupKind     `json:"kind"`
	SchemaVersion   int                   `json:"schema_version"`
	NoteID          string                `json:"note_id,omitempty"`
	Notes           []models.NoteSnapshot `json:"notes"`
	Media           []mediaRef            `json:"media"`
	IntegrityDigest string                `json:"integrity_digest"`
}

// mediaRef is the logical identifier of a media file inside backups.json.
type mediaRef struct {
	SourceReference string `json:"source_reference"`
	Filename        string `json:"filename"`
	ContentType     string `json:"content_type"`
	Size            int64  `json:"size"`
}

type manifest struct {
	CreatedAt time.Time       `json:"created_at"`
	Entries   []manifestEntry `json:"entries"`
}

type manifestEntry struct {
	BackupID        string `json:"backup_id"`
	SourceReference string `json:"source_reference"`
	ContentType     string `json:"content_type"`
	Size            int64  `json:"size"`
	SHA256          string `json:"sha256"`
	Path            string `json:"path"`
}

// Codec converts between backups and archive bytes.
type Codec struct {
	compress bool
	now      func() time.Time
}

// NewCodec returns a codec. compress selects Deflate over Store for entries.
func NewCodec(compress bool) *Codec {
	return &Codec{compress: compress, now: time.Now}
}

// Encode writes backups into a single archive.
func (c *Codec) Encode(backups []models.Backup) ([]byte, error) {
	now := c.now().UTC()
	mediaDir := mediaPrefix + now.Format(timestampForm)

	doc := document{FormatVersion: FormatVersion, ExportedAt: now, Backups: make([]backupEntry, 0, len(backups))}
	man := manifest{CreatedAt: now, Entries: []manifestEntry{}}
	payloads := make(map[string][]byte) // archive path -> bytes
	var order []string

	for _, b := range backups {
		entry := backupEntry{
			ID:              b.ID,
			CreatedAt:       b.CreatedAt,
			Kind:            b.Kind,
			SchemaVersion:   b.SchemaVersion,
			NoteID:          b.NoteID,
			Notes:           b.Notes,
			Media:           make([]mediaRef, 0, len(b.Media)),
			IntegrityDigest: b.IntegrityDigest,
		}
		for _, mf := range b.Media {
			sum := checksum.Sum(mf.Bytes)
			p := path.Join(mediaDir, sum+strings.ToLower(filepath.Ext(mf.Filename)))
			if _, ok := payloads[p]; !ok {
				payloads[p] = mf.Bytes
				order = append(order, p)
			}
			entry.Media = append(entry.Media, mediaRef{
				SourceReference: mf.SourceReference,
				Filename:        mf.Filename,
				ContentType:     mf.ContentType,
				Size:            mf.Size,
			})
			man.Entries = append(man.Entries, manifestEntry{
				BackupID:        b.ID,
				SourceReference: mf.SourceReference,
				ContentType:     mf.ContentType,
				Size:            int64(len(mf.Bytes)),
				SHA256:          sum,
				Path:            p,
			})
		}
		doc.Backups = append(doc.Backups, entry)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := c.writeEntry(zw, readmeName, []byte(readme(doc, man, mediaDir)), now); err != nil {
		return nil, err
	}
	docJSON, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: encode document: %w", err)
	}
	if err := c.writeEntry(zw, documentName, docJSON, now); err != nil {
		return nil, err
	}
	manJSON, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: encode manifest: %w", err)
	}
	if err := c.writeEntry(zw, path.Join(mediaDir, manifestName), manJSON, now); err != nil {
		return nil, err
	}
	for _, p := range order {
		if err := c.writeEntry(zw, p, payloads[p], now); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Codec) writeEntry(zw *zip.Writer, name string, data []byte, mod time.Time) error {
	method := zip.Store
	if c.compress {
		method = zip.Deflate
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: mod})
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("archive: write %s: %w", name, err)
	}
	return nil
}

// Decode parses an archive back into backups. Every backup is re-verified:
// fingerprints and integrity digests must match, and every media file must
// be referenced by one of its notes.
func (c *Codec) Decode(data []byte) ([]models.Backup, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	var manifests []*zip.File
	for _, f := range zr.File {
		files[f.Name] = f
		if strings.HasPrefix(f.Name, mediaPrefix) && path.Base(f.Name) == manifestName {
			manifests = append(manifests, f)
		}
	}

	docFile, ok := files[documentName]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, documentName)
	}
	var doc document
	if err := readJSON(docFile, &doc); err != nil {
		return nil, err
	}
	if doc.FormatVersion > FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrMalformed, doc.FormatVersion)
	}

	type key struct{ backup, ref string }
	located := make(map[key]manifestEntry)
	for _, mf := range manifests {
		var man manifest
		if err := readJSON(mf, &man); err != nil {
			return nil, err
		}
		for _, e := range man.Entries {
			located[key{e.BackupID, e.SourceReference}] = e
		}
	}

	blobs := make(map[string][]byte)
	out := make([]models.Backup, 0, len(doc.Backups))
	for _, entry := range doc.Backups {
		b := models.Backup{
			ID:              entry.ID,
			CreatedAt:       entry.CreatedAt,
			Kind:            entry.Kind,
			SchemaVersion:   entry.SchemaVersion,
			NoteID:          entry.NoteID,
			Notes:           entry.Notes,
			IntegrityDigest: entry.IntegrityDigest,
		}
		if err := checksum.Verify(&b); err != nil {
			return nil, err
		}
		referenced := referencedMedia(b.Notes)
		for _, ref := range entry.Media {
			if _, ok := referenced[ref.SourceReference]; !ok {
				return nil, fmt.Errorf("%w: backup %s carries unreferenced media %q", apperr.ErrCorruptBackup, b.ID, ref.SourceReference)
			}
			loc, ok := located[key{entry.ID, ref.SourceReference}]
			if !ok {
				return nil, fmt.Errorf("%w: no manifest entry for %q in backup %s", ErrMalformed, ref.SourceReference, b.ID)
			}
			payload, ok := blobs[loc.Path]
			if !ok {
				zf, ok := files[loc.Path]
				if !ok {
					return nil, fmt.Errorf("%w: missing media entry %s", ErrMalformed, loc.Path)
				}
				if payload, err = readAll(zf); err != nil {
					return nil, err
				}
				if checksum.Sum(payload) != loc.SHA256 {
					return nil, fmt.Errorf("%w: media %s checksum mismatch", apperr.ErrCorruptBackup, loc.Path)
				}
				blobs[loc.Path] = payload
			}
			b.Media = append(b.Media, models.MediaFile{
				Filename:        ref.Filename,
				SourceReference: ref.SourceReference,
				ContentType:     ref.ContentType,
				Size:            ref.Size,
				Bytes:           payload,
			})
		}
		out = append(out, b)
	}
	return out, nil
}

func referencedMedia(notes []models.NoteSnapshot) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range notes {
		for _, ref := range parser.MediaRefs(s.Note.Content) {
			out[ref] = struct{}{}
		}
	}
	return out
}

func readJSON(f *zip.File, v any) error {
	data, err := readAll(f)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformed, f.Name, err)
	}
	return nil
}

func readAll(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("%w: entry %s too large", ErrMalformed, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMalformed, f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrMalformed, f.Name, err)
	}
	return data, nil
}

func readme(doc document, man manifest, mediaDir string) string {
	notes := 0
	for _, b := range doc.Backups {
		notes += len(b.Notes)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Kenaz backup archive\n")
	fmt.Fprintf(&sb, "Exported: %s\n\n", doc.ExportedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Backups: %d\nNote snapshots: %d\nMedia references: %d\n\n", len(doc.Backups), notes, len(man.Entries))
	fmt.Fprintf(&sb, "Contents:\n")
	fmt.Fprintf(&sb, "  %s  backup metadata and note snapshots (JSON)\n", documentName)
	fmt.Fprintf(&sb, "  %s/%s  media manifest (JSON)\n", mediaDir, manifestName)
	fmt.Fprintf(&sb, "  %s/  media payloads named by SHA-256\n\n", mediaDir)
	fmt.Fprintf(&sb, "This file is informational. Import reads only the JSON entries and media payloads.\n")
	return sb.String()
}
