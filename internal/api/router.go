package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kenaz-backup/internal/backupservice"
	"github.com/starford/kenaz-backup/internal/storage"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// exports, if non-nil, serves previously exported archives under /exports.
func NewRouter(svc *backupservice.Service, authEnabled bool, token string, sseHandler http.Handler, exports storage.Provider) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/backups", func(r chi.Router) {
		r.Get("/", h.ListBackups)
		r.Post("/", h.CreateBackup)
		r.Post("/sync", h.SyncBackups)
		r.Get("/export", h.ExportBackups)
		r.Post("/import", h.ImportBackups)
		r.Get("/{id}", h.GetBackup)
		r.Delete("/{id}", h.DeleteBackup)
		r.Post("/{id}/restore", h.RestoreBackup)
	})

	r.Get("/history", h.ListHistory)
	r.Delete("/history", h.ClearHistory)

	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)

	if exports != nil {
		eh := NewExportFileHandler(exports)
		r.Get("/exports", eh.List)
		r.Get("/exports/{filename}", eh.ServeFile)
	}

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
