package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/kenaz-backup/internal/apperr"
	"github.com/starford/kenaz-backup/internal/models"
	"github.com/starford/kenaz-backup/internal/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func mediaStore(t *testing.T) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestExtract_LocalRemoteInline(t *testing.T) {
	local := mediaStore(t)
	require.NoError(t, local.Write("attachments/cat.png", pngHeader))

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = w.Write([]byte("jpegbytes"))
	}))
	defer srv.Close()

	ex := NewExtractor(local, Config{AllowPrivateHosts: true, Timeout: 2 * time.Second}, nil)
	notes := []models.Note{
		{ID: "1", Content: "![a](/attachments/cat.png)\n![b](" + srv.URL + "/photo.jpg)"},
		{ID: "2", Content: "same again ![a](/attachments/cat.png) ![c](data:image/png;base64,AAAA)"},
		{ID: "3", Content: "![b](" + srv.URL + "/photo.jpg)"},
	}

	res := ex.Extract(context.Background(), notes)
	require.Empty(t, res.Failures)
	require.Len(t, res.Files, 2)
	assert.Equal(t, 1, res.Inline)
	assert.Equal(t, int32(1), hits.Load(), "shared reference fetched once")

	assert.Equal(t, "/attachments/cat.png", res.Files[0].SourceReference)
	assert.Equal(t, "cat.png", res.Files[0].Filename)
	assert.Equal(t, "image/png", res.Files[0].ContentType)
	assert.Equal(t, pngHeader, res.Files[0].Bytes)
	assert.EqualValues(t, len(pngHeader), res.Files[0].Size)

	assert.Equal(t, "photo.jpg", res.Files[1].Filename)
	assert.Equal(t, "image/jpeg", res.Files[1].ContentType)
	assert.Equal(t, []byte("jpegbytes"), res.Files[1].Bytes)
}

func TestExtract_FailuresAreSkipped(t *testing.T) {
	local := mediaStore(t)
	require.NoError(t, local.Write("attachments/ok.png", pngHeader))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ex := NewExtractor(local, Config{AllowPrivateHosts: true}, nil)
	res := ex.Extract(context.Background(), []models.Note{{
		Content: "![](attachments/missing.png) ![](" + srv.URL + "/gone.png) ![](attachments/ok.png)",
	}})

	require.Len(t, res.Files, 1)
	assert.Equal(t, "attachments/ok.png", res.Files[0].SourceReference)
	require.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.True(t, errors.Is(f, apperr.ErrMediaFetch))
	}
}

func TestExtract_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ex := NewExtractor(nil, Config{AllowPrivateHosts: true, Timeout: 100 * time.Millisecond}, nil)
	start := time.Now()
	res := ex.Extract(context.Background(), []models.Note{{Content: "![](" + srv.URL + "/slow.png)"}})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, res.Files)
	assert.Len(t, res.Failures, 1)
}

func TestExtract_BlocksLoopbackByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	ex := NewExtractor(nil, Config{}, nil)
	res := ex.Extract(context.Background(), []models.Note{{Content: "![](" + srv.URL + "/x.png)"}})
	assert.Empty(t, res.Files)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Error(), "blocked host")
}

func TestMaterialize(t *testing.T) {
	store := mediaStore(t)
	m := NewMaterializer(store, nil)
	files := []models.MediaFile{
		{Filename: "cat.png", SourceReference: "/attachments/cat.png", Bytes: pngHeader},
		{Filename: "photo.jpg", SourceReference: "https://cdn.example.com/photo.jpg", Bytes: []byte("jpeg")},
	}

	res := m.Materialize(context.Background(), files)
	assert.Equal(t, 2, res.Written)
	assert.Empty(t, res.Failures)

	got, err := store.Read("attachments/cat.png")
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got)
	assert.True(t, store.Exists(TargetPath(files[1])))

	again := m.Materialize(context.Background(), files)
	assert.Equal(t, 2, again.Unchanged)
	assert.Equal(t, 0, again.Written)
}

func TestMaterialize_NeverReplacesLiveFile(t *testing.T) {
	store := mediaStore(t)
	require.NoError(t, store.Write("attachments/x.png", []byte("CURRENT-LIVE")))
	m := NewMaterializer(store, nil)
	file := models.MediaFile{Filename: "x.png", SourceReference: "attachments/x.png", Bytes: []byte("OLD-FROM-BACKUP")}

	res := m.Materialize(context.Background(), []models.MediaFile{file})
	assert.Equal(t, 0, res.Written)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "attachments/x.png", res.Conflicts[0].Reference)
	assert.True(t, strings.HasPrefix(res.Conflicts[0].Path, "restored/"))
	assert.True(t, strings.HasSuffix(res.Conflicts[0].Path, "_x.png"))

	live, err := store.Read("attachments/x.png")
	require.NoError(t, err)
	assert.Equal(t, "CURRENT-LIVE", string(live))
	side, err := store.Read(res.Conflicts[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "OLD-FROM-BACKUP", string(side))
}
