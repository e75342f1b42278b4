package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	maxArchiveSize = 64 << 20
	archiveTimeout = 60 * time.Second
)

// zipMIME is what http.DetectContentType reports for a zip local file header.
const zipMIME = "application/zip"

func (s *Server) importBackups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data []byte
	if strings.HasPrefix(source, "data:") {
		data, err = decodeDataURI(source)
	} else {
		data, _, err = s.fetcher.Get(ctx, source)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxArchiveSize {
		return mcp.NewToolResultError(fmt.Sprintf("archive too large: %d bytes (max %d)", len(data), maxArchiveSize)), nil
	}
	if err := validateMagicBytes(data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.svc.Import(ctx, data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(out)
}

// decodeDataURI parses a data:[<mediatype>];base64,<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}
	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	if mime != "" && mime != zipMIME && mime != "application/octet-stream" {
		return nil, fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, nil
}

// validateMagicBytes verifies the payload starts like a zip archive.
func validateMagicBytes(data []byte) error {
	if detected := http.DetectContentType(data); !strings.HasPrefix(detected, zipMIME) {
		return fmt.Errorf("content is not a zip archive (detected: %s)", detected)
	}
	return nil
}
