package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kenaz-backup/internal/backupservice"
)

const maxArchiveBytes = 256 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *backupservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *backupservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListBackups handles GET /api/backups.
//
//	@Summary		List backups, newest first
//	@Tags			backups
//	@Produce		json
//	@Param			kind	query		string	false	"Filter by kind"	Enums(manual, auto)
//	@Param			note_id	query		string	false	"Filter by scope"
//	@Success		200		{object}	BackupListResponse
//	@Security		BearerAuth
//	@Router			/backups [get]
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListBackups(r.Context())
	if err != nil {
		writeError(w, "list backups", err)
		return
	}

	q := r.URL.Query()
	kind, scoped := q.Get("kind"), q.Has("note_id")
	items := make([]BackupSummary, 0, len(out.Backups))
	for i := range out.Backups {
		b := &out.Backups[i]
		if kind != "" && string(b.Kind) != kind {
			continue
		}
		if scoped && b.NoteID != q.Get("note_id") {
			continue
		}
		items = append(items, summarize(b))
	}
	writeJSON(w, http.StatusOK, BackupListResponse{
		Backups: items,
		Total:   len(items),
		Source:  string(out.Source),
	})
}

// CreateBackup handles POST /api/backups.
//
//	@Summary		Create a backup of one note or of every note
//	@Tags			backups
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateBackupRequest	false	"Backup scope"
//	@Success		201		{object}	store.CreateOutput
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backups [post]
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req CreateBackupRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	out, err := h.svc.CreateBackup(r.Context(), req.NoteID, req.Kind)
	if err != nil {
		writeError(w, "create backup", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetBackup handles GET /api/backups/{id}.
//
//	@Summary		Get one backup with its snapshots and media
//	@Tags			backups
//	@Produce		json
//	@Param			id	path		string	true	"Backup id"
//	@Success		200	{object}	models.Backup
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backups/{id} [get]
func (h *Handler) GetBackup(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get backup", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// DeleteBackup handles DELETE /api/backups/{id}.
//
//	@Summary		Delete a backup
//	@Tags			backups
//	@Produce		json
//	@Param			id	path		string	true	"Backup id"
//	@Success		200	{object}	store.DeleteOutput
//	@Failure		404	{object}	errResponse
//	@Failure		503	{object}	store.DeleteOutput
//	@Security		BearerAuth
//	@Router			/backups/{id} [delete]
func (h *Handler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.DeleteBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "delete backup", err)
		return
	}
	status := http.StatusOK
	if !out.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

// RestoreBackup handles POST /api/backups/{id}/restore.
//
//	@Summary		Restore a backup onto the live note store
//	@Tags			backups
//	@Produce		json
//	@Param			id	path		string	true	"Backup id"
//	@Success		200	{object}	restore.Report
//	@Failure		404	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backups/{id}/restore [post]
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.RestoreBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "restore backup", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// SyncBackups handles POST /api/backups/sync.
//
//	@Summary		Reconcile the local cache with the remote primary
//	@Tags			backups
//	@Produce		json
//	@Success		200	{object}	store.SyncOutput
//	@Failure		503	{object}	store.SyncOutput
//	@Security		BearerAuth
//	@Router			/backups/sync [post]
func (h *Handler) SyncBackups(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.SyncBackups(r.Context())
	if err != nil {
		writeError(w, "sync backups", err)
		return
	}
	status := http.StatusOK
	if !out.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

// ExportBackups handles GET /api/backups/export.
//
//	@Summary		Download backups as a zip archive
//	@Tags			archive
//	@Produce		application/zip
//	@Param			ids	query	string	false	"Comma separated backup ids; all when empty"
//	@Success		200	{file}	binary
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backups/export [get]
func (h *Handler) ExportBackups(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	out, data, err := h.svc.Export(r.Context(), ids)
	if err != nil {
		writeError(w, "export backups", err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Backup-Count", strconv.Itoa(out.BackupCount))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ImportBackups handles POST /api/backups/import. The archive is sent either
// as the raw body or as the "file" field of a multipart form.
//
//	@Summary		Import backups from a zip archive
//	@Tags			archive
//	@Accept			application/zip
//	@Produce		json
//	@Success		200	{object}	backupservice.ImportOutput
//	@Failure		400	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backups/import [post]
func (h *Handler) ImportBackups(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxArchiveBytes)
	data, err := readArchive(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	out, err := h.svc.Import(r.Context(), data)
	if err != nil {
		writeError(w, "import backups", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func readArchive(r *http.Request) ([]byte, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read body")
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("archive is required")
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("file too large or invalid multipart")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing 'file' field in multipart form")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file")
	}
	return data, nil
}

// ListHistory handles GET /api/history.
//
//	@Summary		List backup history, newest first
//	@Tags			history
//	@Produce		json
//	@Param			limit	query		int	false	"Max records"
//	@Success		200		{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/history [get]
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.svc.History(r.Context(), limit)
	if err != nil {
		writeError(w, "list history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: recs})
}

// ClearHistory handles DELETE /api/history.
//
//	@Summary		Remove every history record
//	@Tags			history
//	@Produce		json
//	@Success		200	{object}	ClearHistoryResponse
//	@Security		BearerAuth
//	@Router			/history [delete]
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ClearHistory(r.Context())
	if err != nil {
		writeError(w, "clear history", err)
		return
	}
	writeJSON(w, http.StatusOK, ClearHistoryResponse{Removed: n})
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Get backup settings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	models.BackupSettings
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

// PutSettings handles PUT /api/settings.
//
//	@Summary		Save backup settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.BackupSettings	true	"New settings"
//	@Success		200		{object}	settings.Output
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	out, err := h.svc.SaveSettings(r.Context(), req.apply(h.svc.Settings()))
	if err != nil {
		writeError(w, "save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
