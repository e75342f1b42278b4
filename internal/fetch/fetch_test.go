package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCheckHost(t *testing.T) {
	blocked := []string{"127.0.0.1", "::1", "169.254.169.254", "169.254.10.1", "0.0.0.0", "metadata.google.internal"}
	for _, host := range blocked {
		if err := (Policy{}).CheckHost(host); !errors.Is(err, ErrBlockedHost) {
			t.Errorf("CheckHost(%q) = %v, want ErrBlockedHost", host, err)
		}
		if err := (Policy{AllowPrivateHosts: true}).CheckHost(host); err != nil {
			t.Errorf("allowed CheckHost(%q) = %v", host, err)
		}
	}
	if err := (Policy{}).CheckHost("93.184.216.34"); err != nil {
		t.Errorf("public address blocked: %v", err)
	}
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "image/png; charset=binary")
			_, _ = w.Write([]byte("png!"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	ctx := context.Background()
	c := New(Policy{AllowPrivateHosts: true}, time.Second, 16)

	data, ct, err := c.Get(ctx, srv.URL+"/ok")
	if err != nil || string(data) != "png!" || ct != "image/png" {
		t.Errorf("Get ok = %q, %q, %v", data, ct, err)
	}
	if _, _, err := c.Get(ctx, srv.URL+"/big"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Get big err = %v, want ErrTooLarge", err)
	}
	if _, _, err := c.Get(ctx, srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("Get missing err = %v", err)
	}
	if _, _, err := c.Get(ctx, "ftp://example.com/x"); err == nil {
		t.Error("ftp scheme accepted")
	}

	strict := New(Policy{}, time.Second, 16)
	if _, _, err := strict.Get(ctx, srv.URL+"/ok"); !errors.Is(err, ErrBlockedHost) {
		t.Errorf("loopback fetch err = %v, want ErrBlockedHost", err)
	}
}
