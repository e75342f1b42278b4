// Package fetch downloads remote payloads under a single host policy. Media
// extraction and archive import both go through it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxRedirects = 5

var (
	// ErrBlockedHost means the target resolves to a loopback, link-local or
	// cloud metadata address.
	ErrBlockedHost = errors.New("blocked host")
	// ErrTooLarge means the body exceeded the configured size.
	ErrTooLarge = errors.New("payload too large")
)

var metadataIP = net.ParseIP("169.254.169.254")

// Policy decides which hosts may be contacted.
type Policy struct {
	// AllowPrivateHosts disables the host block, for tests and trusted
	// intranet deployments.
	AllowPrivateHosts bool
}

// CheckHost rejects hosts that resolve to loopback, unspecified, link-local
// or cloud metadata addresses. Every resolved address is checked. DNS
// failures are left to the HTTP client.
func (p Policy) CheckHost(host string) error {
	if p.AllowPrivateHosts {
		return nil
	}
	if host == "metadata.google.internal" {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	ips := []net.IP{net.ParseIP(host)}
	if ips[0] == nil {
		resolved, err := net.LookupIP(host)
		if err != nil || len(resolved) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ips = resolved
	}
	for _, ip := range ips {
		switch {
		case ip.IsLoopback():
			return fmt.Errorf("%w: loopback address %s", ErrBlockedHost, host)
		case ip.Equal(metadataIP):
			return fmt.Errorf("%w: cloud metadata address %s", ErrBlockedHost, host)
		case ip.IsUnspecified(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
			return fmt.Errorf("%w: link-local address %s", ErrBlockedHost, host)
		}
	}
	return nil
}

// Client performs bounded GETs under a Policy.
type Client struct {
	policy  Policy
	maxSize int64
	http    *http.Client
}

// New returns a client with the given per-request timeout and body limit.
// Redirects are re-checked against the policy.
func New(policy Policy, timeout time.Duration, maxSize int64) *Client {
	return &Client{
		policy:  policy,
		maxSize: maxSize,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (max %d)", maxRedirects)
				}
				return policy.CheckHost(req.URL.Hostname())
			},
		},
	}
}

// Get downloads rawURL and returns its body and media type.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}
	if err := c.policy.CheckHost(parsed.Hostname()); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body failed: %w", err)
	}
	if int64(len(data)) > c.maxSize {
		return nil, "", fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, c.maxSize)
	}
	return data, strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0]), nil
}
