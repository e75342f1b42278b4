package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/models"
)

func TestNormalize_Shapes(t *testing.T) {
	want := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	notes := `[{"note":{"id":"n1","title":"T","content":"c","tags":null,"created_at":"2025-03-04T05:06:07Z","updated_at":"0001-01-01T00:00:00Z","is_pinned":false},"fingerprint":"sha256:ab"}]`

	cases := []struct {
		name string
		raw  string
		kind models.BackupKind
	}{
		{"canonical", `{"id":"b1","backup_type":"auto","created_at":"2025-03-04T05:06:07Z","notes":` + notes + `}`, models.KindAuto},
		{"type alias", `{"id":"b1","type":"manual","created_at":"2025-03-04 05:06:07","notes":` + notes + `}`, models.KindManual},
		{"kind alias epoch", `{"id":"b1","kind":"auto","timestamp":1741064767000,"notes":` + notes + `}`, models.KindAuto},
		{"numeric id string notes", `{"id":1,"timestamp":"2025-03-04T05:06:07Z","notes":` + jsonString(notes) + `}`, models.KindManual},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Normalize([]byte(tc.raw))
			require.NoError(t, err)
			assert.NotEmpty(t, b.ID)
			assert.Equal(t, tc.kind, b.Kind)
			assert.True(t, want.Equal(b.CreatedAt), "created_at = %v", b.CreatedAt)
			assert.Equal(t, models.SchemaVersion, b.SchemaVersion)
			require.Len(t, b.Notes, 1)
			assert.Equal(t, "n1", b.Notes[0].Note.ID)
			assert.Equal(t, models.Fingerprint("sha256:ab"), b.Notes[0].Fingerprint)
		})
	}
}

func TestNormalize_Errors(t *testing.T) {
	_, err := Normalize([]byte(`{"backup_type":"manual","created_at":"2025-01-01T00:00:00Z"}`))
	assert.Error(t, err, "missing id")

	_, err = Normalize([]byte(`{"id":"x","backup_type":"weekly","created_at":"2025-01-01T00:00:00Z"}`))
	assert.Error(t, err, "unknown kind")

	_, err = Normalize([]byte(`{"id":"x","backup_type":"manual"}`))
	assert.Error(t, err, "missing timestamp")

	_, err = Normalize([]byte(`{"id":"local_01HZX","backup_type":"manual","created_at":"2025-01-01T00:00:00Z"}`))
	assert.ErrorIs(t, err, apperr.ErrRemoteProtocol, "offline id from server")
}

func TestClient_CreateRejectsOfflineID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"local_01HZX"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", time.Second).CreateBackup(context.Background(), &models.Backup{Kind: models.KindManual})
	require.ErrorIs(t, err, apperr.ErrRemoteProtocol)
	assert.False(t, errors.Is(err, apperr.ErrRemoteUnavailable))
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestClient_CreateAndList(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &got)
			_, _ = w.Write([]byte(`{"id":42}`))
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"backups":[{"id":42,"type":"auto","timestamp":"2025-01-01T00:00:00Z","notes":"[]"},{"id":"bad"}]}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second)
	id, err := c.CreateBackup(context.Background(), &models.Backup{
		Kind:      models.KindAuto,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		NoteID:    "n1",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "auto", got["backup_type"])
	assert.Equal(t, "n1", got["note_id"])

	list, err := c.ListBackups(context.Background())
	assert.Error(t, err, "malformed entry is reported")
	require.Len(t, list, 1)
	assert.Equal(t, "42", list[0].ID)
	assert.Equal(t, models.KindAuto, list[0].Kind)
}

func TestClient_ErrorMapping(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()
	c := New(srv.URL, "", time.Second)

	err := c.DeleteBackup(context.Background(), "x")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "err = %v", err)

	status = http.StatusBadGateway
	err = c.DeleteBackup(context.Background(), "x")
	assert.True(t, errors.Is(err, apperr.ErrRemoteUnavailable), "err = %v", err)

	srv.Close()
	_, err = c.ListBackups(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrRemoteUnavailable), "err = %v", err)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, "", 50*time.Millisecond)
	start := time.Now()
	_, err := c.GetSettings(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrRemoteUnavailable), "err = %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
