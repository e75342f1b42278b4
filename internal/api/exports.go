package api

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kenaz-backup/internal/storage"
)

// ExportFileHandler lists and serves archives previously written to the
// export directory.
type ExportFileHandler struct {
	files storage.Provider
}

// NewExportFileHandler creates a handler over the export directory.
func NewExportFileHandler(files storage.Provider) *ExportFileHandler {
	return &ExportFileHandler{files: files}
}

// safeName accepts only a plain archive file name.
func safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	if filepath.Ext(cleaned) != ".zip" {
		return "", fmt.Errorf("not an archive: %s", name)
	}
	return cleaned, nil
}

// List handles GET /api/exports.
//
//	@Summary		List exported archives
//	@Tags			archive
//	@Produce		json
//	@Success		200	{object}	ExportListResponse
//	@Security		BearerAuth
//	@Router			/exports [get]
func (h *ExportFileHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.files.List("", ".zip")
	if err != nil {
		writeError(w, "list exports", err)
		return
	}
	items := make([]ExportFile, 0, len(files))
	for _, f := range files {
		items = append(items, ExportFile{Filename: f.Path, Size: f.Size, CreatedAt: f.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, ExportListResponse{Exports: items})
}

// ServeFile handles GET /api/exports/{filename}.
//
//	@Summary		Download an exported archive
//	@Tags			archive
//	@Produce		application/zip
//	@Param			filename	path	string	true	"Archive file name"
//	@Success		200	{file}	binary
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/exports/{filename} [get]
func (h *ExportFileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name, err := safeName(chi.URLParam(r, "filename"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if !h.files.Exists(name) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	data, err := h.files.Read(name)
	if err != nil {
		writeError(w, "read export", err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
