// Package remote is the HTTP client for the remote backup primary. Every
// payload it returns is normalized into the canonical models.Backup shape.
package remote

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

// DefaultTimeout bounds every call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Client talks to the remote backup primary.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. timeout bounds every request.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateBackup persists b and returns the id assigned by the primary.
func (c *Client) CreateBackup(ctx context.Context, b *models.Backup) (string, error) {
	payload, err := json.Marshal(toWire(b))
	if err != nil {
		return "", fmt.Errorf("remote: encode backup: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/backups", payload)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("remote: decode create response: %w", err)
	}
	return serverID(resp.ID)
}

// ListBackups returns every backup held by the primary. Entries that cannot be
// normalized are returned in the error together with the valid ones.
func (c *Client) ListBackups(ctx context.Context) ([]models.Backup, error) {
	body, err := c.do(ctx, http.MethodGet, "/backups", nil)
	if err != nil {
		return nil, err
	}
	var items []incoming
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapped struct {
			Backups []incoming `json:"backups"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("remote: decode list: %w", err)
		}
		items = wrapped.Backups
	}

	out := make([]models.Backup, 0, len(items))
	var errs []error
	for _, it := range items {
		b, err := it.normalize()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, b)
	}
	return out, errors.Join(errs...)
}

// GetBackup returns one backup or apperr.ErrNotFound.
func (c *Client) GetBackup(ctx context.Context, id string) (*models.Backup, error) {
	body, err := c.do(ctx, http.MethodGet, "/backups/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	b, err := Normalize(body)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBackup removes id from the primary.
func (c *Client) DeleteBackup(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/backups/"+url.PathEscape(id), nil)
	return err
}

// RestoreBackup asks the primary to mirror a restore of id server-side.
func (c *Client) RestoreBackup(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/backups/"+url.PathEscape(id)+"/restore", nil)
	return err
}

// GetSettings returns the settings stored by the primary.
func (c *Client) GetSettings(ctx context.Context) (models.BackupSettings, error) {
	var s models.BackupSettings
	body, err := c.do(ctx, http.MethodGet, "/settings", nil)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(body, &s); err != nil {
		return s, fmt.Errorf("remote: decode settings: %w", err)
	}
	return s, nil
}

// PutSettings stores s at the primary.
func (c *Client) PutSettings(ctx context.Context, s models.BackupSettings) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("remote: encode settings: %w", err)
	}
	_, err = c.do(ctx, http.MethodPut, "/settings", payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %w: %v", method, path, apperr.ErrRemoteUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, fmt.Errorf("remote: read body: %w: %v", apperr.ErrRemoteUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("remote: %s: %w", path, apperr.ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("remote: %s %s: HTTP %d: %w", method, path, resp.StatusCode, apperr.ErrRemoteUnavailable)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("remote: %s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
