// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the backup engine as tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/kenaz-backup/internal/backupservice"
	"github.com/starford/kenaz-backup/internal/fetch"
)

const guideURI = "kenaz-backup://guide"

// Server wraps the MCP server with backup tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *backupservice.Service
	fetcher *fetch.Client
}

// New creates a new MCP server with all backup tools registered.
func New(svc *backupservice.Service, version string) *Server {
	s := &Server{svc: svc, fetcher: fetch.New(fetch.Policy{}, archiveTimeout, maxArchiveSize)}

	s.mcp = server.NewMCPServer(
		"Kenaz Backup",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("create_backup",
		mcp.WithDescription("Snapshot one note, or every note when note_id is omitted. "+
			"When the backup server is unreachable the backup is kept locally and reported as degraded."),
		mcp.WithString("note_id", mcp.Description("Id of the note to back up (empty for all notes)")),
		mcp.WithString("kind", mcp.Description("manual (default) or auto"), mcp.Enum("manual", "auto")),
	), s.createBackup)

	s.mcp.AddTool(mcp.NewTool("list_backups",
		mcp.WithDescription("List backups, newest first. Returns a compact summary per backup."),
		mcp.WithString("note_id", mcp.Description("Only backups scoped to this note")),
	), s.listBackups)

	s.mcp.AddTool(mcp.NewTool("get_backup",
		mcp.WithDescription("Read one backup including every note snapshot it holds."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Backup id")),
	), s.getBackup)

	s.mcp.AddTool(mcp.NewTool("restore_backup",
		mcp.WithDescription("Restore a backup. Notes whose content already exists are skipped, "+
			"so restoring twice creates nothing the second time. Existing notes are never overwritten."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Backup id")),
	), s.restoreBackup)

	s.mcp.AddTool(mcp.NewTool("delete_backup",
		mcp.WithDescription("Delete one backup."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Backup id")),
	), s.deleteBackup)

	s.mcp.AddTool(mcp.NewTool("sync_backups",
		mcp.WithDescription("Push backups kept locally while offline to the backup server and prune the local cache."),
	), s.syncBackups)

	s.mcp.AddTool(mcp.NewTool("export_backups",
		mcp.WithDescription("Write backups to a zip archive in the export directory and return its file name."),
		mcp.WithString("ids", mcp.Description("Comma separated backup ids (empty for all)")),
	), s.exportBackups)

	s.mcp.AddTool(mcp.NewTool("import_backups",
		mcp.WithDescription("Import a zip archive produced by export_backups. "+
			"The source is an http(s) URL or a base64 data URI (data:application/zip;base64,...)."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Archive URL or data URI")),
	), s.importBackups)

	s.mcp.AddTool(mcp.NewTool("backup_history",
		mcp.WithDescription("List recent backup, restore, delete, import, export and settings operations, newest first."),
		mcp.WithNumber("limit", mcp.Description("Max records (default 20)")),
	), s.backupHistory)

	s.mcp.AddTool(mcp.NewTool("get_backup_settings",
		mcp.WithDescription("Read the automatic backup settings."),
	), s.getSettings)

	s.mcp.AddTool(mcp.NewTool("update_backup_settings",
		mcp.WithDescription("Change the automatic backup settings. Omitted fields keep their value."),
		mcp.WithBoolean("auto_backup_enabled", mcp.Description("Enable scheduled backups")),
		mcp.WithNumber("backup_interval_minutes", mcp.Description("Minutes between scheduled backups (>= 1)")),
		mcp.WithBoolean("compression_enabled", mcp.Description("Compress exported archives")),
	), s.updateSettings)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Backup Guide",
			mcp.WithResourceDescription("How backups, offline mode, restore and retention behave."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func optString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return strings.TrimSpace(v)
	}
	return ""
}

func (s *Server) createBackup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.svc.CreateBackup(ctx, optString(req, "note_id"), optString(req, "kind"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"id":             out.Backup.ID,
		"degraded":       out.Degraded,
		"note_count":     out.NoteCount,
		"media_count":    out.MediaCount,
		"media_failures": out.MediaFailures,
	})
}

type backupLine struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	NoteID    string `json:"note_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Notes     int    `json:"notes"`
	Offline   bool   `json:"offline,omitempty"`
}

func (s *Server) listBackups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.svc.ListBackups(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteID := optString(req, "note_id")
	lines := make([]backupLine, 0, len(out.Backups))
	for i := range out.Backups {
		b := &out.Backups[i]
		if noteID != "" && b.NoteID != noteID {
			continue
		}
		lines = append(lines, backupLine{
			ID:        b.ID,
			Kind:      string(b.Kind),
			NoteID:    b.NoteID,
			CreatedAt: b.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Notes:     len(b.Notes),
			Offline:   b.Offline(),
		})
	}
	return jsonResult(map[string]any{"source": out.Source, "backups": lines})
}

func (s *Server) getBackup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := s.svc.GetBackup(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// Media bytes are omitted; they are only useful to restore.
	for i := range b.Media {
		b.Media[i].Bytes = nil
	}
	return jsonResult(b)
}

func (s *Server) restoreBackup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.svc.RestoreBackup(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (s *Server) deleteBackup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.DeleteBackup(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !out.Success {
		return mcp.NewToolResultError(out.Error), nil
	}
	return mcp.NewToolResultText("deleted: " + out.ID), nil
}

func (s *Server) syncBackups(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.svc.SyncBackups(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !out.Success {
		return mcp.NewToolResultError("sync skipped: " + out.Error), nil
	}
	return jsonResult(out)
}

func (s *Server) exportBackups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var ids []string
	for _, id := range strings.Split(optString(req, "ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	out, _, err := s.svc.Export(ctx, ids)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(out)
}

func (s *Server) backupHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	recs, err := s.svc.History(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("no history"), nil
	}
	return jsonResult(recs)
}

func (s *Server) getSettings(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Settings())
}

func (s *Server) updateSettings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cur := s.svc.Settings()
	args := req.GetArguments()
	if _, ok := args["auto_backup_enabled"]; ok {
		cur.AutoBackupEnabled = req.GetBool("auto_backup_enabled", cur.AutoBackupEnabled)
	}
	if _, ok := args["backup_interval_minutes"]; ok {
		cur.BackupIntervalMinutes = req.GetInt("backup_interval_minutes", cur.BackupIntervalMinutes)
	}
	if _, ok := args["compression_enabled"]; ok {
		cur.CompressionEnabled = req.GetBool("compression_enabled", cur.CompressionEnabled)
	}
	out, err := s.svc.SaveSettings(ctx, cur)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(out)
}

func (s *Server) readGuideResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     BackupGuide,
		},
	}, nil
}
