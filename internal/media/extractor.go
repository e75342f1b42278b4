// Package media resolves media references found in note content into
// MediaFile payloads and writes them back to the media store on restore.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/fetch"
	"github.com/starford/kenaz-backup/internal/metrics"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/parser"
	"github.com/starford/kenaz-backup/internal/storage"
)

// Config tunes media resolution.
type Config struct {
	// Timeout bounds each single fetch, local or remote.
	Timeout time.Duration
	// Workers caps concurrent fetches.
	Workers int
	// MaxSize rejects payloads larger than this many bytes.
	MaxSize int64
	// AllowPrivateHosts disables the loopback/metadata host block.
	AllowPrivateHosts bool
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Workers: 4,
		MaxSize: 25 << 20,
	}
}

// Result is the outcome of one Extract call.
type Result struct {
	Files       []models.MediaFile
	Inline      int
	Unsupported int
	Failures    []*apperr.MediaFetchError
}

// Extractor scans notes for media references and resolves them to bytes.
type Extractor struct {
	local   storage.Provider
	fetcher *fetch.Client
	cfg     Config
	logger  *slog.Logger
}

// NewExtractor creates an extractor. local may be nil, in which case local
// references fail per file.
func NewExtractor(local storage.Provider, cfg Config, logger *slog.Logger) *Extractor {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		local:   local,
		fetcher: fetch.New(fetch.Policy{AllowPrivateHosts: cfg.AllowPrivateHosts}, cfg.Timeout, cfg.MaxSize),
		cfg:     cfg,
		logger:  logger,
	}
}

// Extract resolves every distinct materializable reference across notes.
// A failing reference is logged and skipped; the batch never aborts.
// Files are returned in order of first appearance.
func (e *Extractor) Extract(ctx context.Context, notes []models.Note) Result {
	var res Result

	var refs []string
	queued := make(map[string]struct{})
	for _, n := range notes {
		for _, ref := range parser.MediaRefs(n.Content) {
			if _, ok := queued[ref]; ok {
				continue
			}
			queued[ref] = struct{}{}
			switch parser.Classify(ref) {
			case parser.RefLocal, parser.RefRemote:
				refs = append(refs, ref)
			case parser.RefInline:
				res.Inline++
				metrics.MediaFetchTotal.WithLabelValues("inline").Inc()
			default:
				res.Unsupported++
				metrics.MediaFetchTotal.WithLabelValues("unsupported").Inc()
			}
		}
	}

	var (
		mu       sync.Mutex
		resolved = make(map[string]models.MediaFile, len(refs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, ref := range refs {
		g.Go(func() error {
			mf, err := e.fetch(gctx, ref)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fe := &apperr.MediaFetchError{Reference: ref, Err: err}
				res.Failures = append(res.Failures, fe)
				metrics.MediaFetchTotal.WithLabelValues("failed").Inc()
				e.logger.Warn("media: skip reference", slog.String("ref", ref), slog.String("error", err.Error()))
				return nil
			}
			if _, dup := resolved[ref]; !dup {
				resolved[ref] = mf
				metrics.MediaFetchTotal.WithLabelValues("fetched").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, ref := range refs {
		if mf, ok := resolved[ref]; ok {
			res.Files = append(res.Files, mf)
		}
	}
	return res
}

func (e *Extractor) fetch(ctx context.Context, ref string) (models.MediaFile, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var (
		data []byte
		ct   string
		name string
		err  error
	)
	switch parser.Classify(ref) {
	case parser.RefLocal:
		data, err = e.readLocal(ctx, ref)
		name = path.Base(parser.LocalPath(ref))
	case parser.RefRemote:
		data, ct, err = e.fetcher.Get(ctx, ref)
		name = filenameFromURL(ref, "")
	default:
		err = errors.New("reference is not materializable")
	}
	if err != nil {
		return models.MediaFile{}, err
	}
	if ct == "" {
		ct = detectContentType(name, data)
	}
	if filepath.Ext(name) == "" {
		if exts, _ := mime.ExtensionsByType(ct); len(exts) > 0 {
			name += exts[0]
		}
	}
	return models.MediaFile{
		Filename:        sanitizeFilename(name),
		SourceReference: ref,
		ContentType:     ct,
		Size:            int64(len(data)),
		Bytes:           data,
	}, nil
}

// readLocal reads a local-store reference, honoring ctx between the
// (uninterruptible) file read and the caller.
func (e *Extractor) readLocal(ctx context.Context, ref string) ([]byte, error) {
	if e.local == nil {
		return nil, errors.New("no local media store configured")
	}
	type readResult struct {
		data []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		data, err := e.local.Read(parser.LocalPath(ref))
		ch <- readResult{data: data, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("read local: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if int64(len(r.data)) > e.cfg.MaxSize {
			return nil, fmt.Errorf("file too large: %d bytes (max %d)", len(r.data), e.cfg.MaxSize)
		}
		return r.data, nil
	}
}

var safeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// filenameFromURL extracts a filename from a URL, falling back to a UUID.
func filenameFromURL(rawURL, fallbackExt string) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		base := path.Base(parsed.Path)
		if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
			return base
		}
	}
	return uuid.New().String() + fallbackExt
}

// sanitizeFilename strips path separators and unsafe characters.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = safeFilenameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = uuid.New().String()
	}
	return name
}

func detectContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return strings.TrimSpace(strings.Split(ct, ";")[0])
	}
	return strings.TrimSpace(strings.Split(http.DetectContentType(data), ";")[0])
}
