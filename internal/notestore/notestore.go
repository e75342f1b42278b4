// Package notestore defines the live note store consumed by the backup engine
// and an HTTP client for an external note CRUD API.
package notestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/models"
)

// NoteStore is the live note store. CreateNote assigns a new id; the id of
// the argument is ignored.
type NoteStore interface {
	ListNotes(ctx context.Context) ([]models.Note, error)
	CreateNote(ctx context.Context, n models.Note) (*models.Note, error)
	GetNote(ctx context.Context, id string) (*models.Note, error)
}

// Client talks to a note API exposing GET /notes, POST /notes and GET /notes/{id}.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client. timeout bounds every request.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

var _ NoteStore = (*Client)(nil)

// ListNotes returns every note. Both a bare array and {"notes": [...]} are accepted.
func (c *Client) ListNotes(ctx context.Context) ([]models.Note, error) {
	body, err := c.do(ctx, http.MethodGet, "/notes", nil)
	if err != nil {
		return nil, err
	}
	var notes []models.Note
	if err := json.Unmarshal(body, &notes); err == nil {
		return notes, nil
	}
	var wrapped struct {
		Notes []models.Note `json:"notes"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("notestore: decode list: %w", err)
	}
	return wrapped.Notes, nil
}

// CreateNote posts n without its id and returns the stored note.
func (c *Client) CreateNote(ctx context.Context, n models.Note) (*models.Note, error) {
	n.ID = ""
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("notestore: encode note: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/notes", payload)
	if err != nil {
		return nil, err
	}
	var out models.Note
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("notestore: decode created note: %w", err)
	}
	return &out, nil
}

// GetNote returns a single note or apperr.ErrNotFound.
func (c *Client) GetNote(ctx context.Context, id string) (*models.Note, error) {
	body, err := c.do(ctx, http.MethodGet, "/notes/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out models.Note
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("notestore: decode note: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("notestore: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notestore: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("notestore: read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("notestore: %s: %w", path, apperr.ErrNotFound)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("notestore: %s %s: HTTP %d", method, path, resp.StatusCode)
	}
	return body, nil
}

// IsNotFound reports whether err means the note does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
