// Package parser reads and writes note files (YAML frontmatter plus Markdown
// body) and scans note bodies for media references.
package parser

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/starford/kenaz-backup/internal/models"
)

const delim = "---\n"

// ParseNote decodes a note file. Files without frontmatter are treated as
// body-only; the caller decides the id.
func ParseNote(data []byte) (models.Note, error) {
	var n models.Note
	fm, body, ok := splitFrontmatter(data)
	if !ok {
		n.Content = string(data)
		return n, nil
	}
	if err := yaml.Unmarshal(fm, &n); err != nil {
		return models.Note{}, fmt.Errorf("parser: frontmatter: %w", err)
	}
	n.Content = body
	return n, nil
}

// RenderNote encodes n as frontmatter followed by the exact content.
func RenderNote(n models.Note) ([]byte, error) {
	fm, err := yaml.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("parser: marshal frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(fm) + len(n.Content) + 2*len(delim))
	buf.WriteString(delim)
	buf.Write(fm)
	buf.WriteString(delim)
	buf.WriteString(n.Content)
	return buf.Bytes(), nil
}

// splitFrontmatter separates the YAML block between the leading delimiters
// from the body. The body is returned byte-exact.
func splitFrontmatter(data []byte) ([]byte, string, bool) {
	if !bytes.HasPrefix(data, []byte(delim)) {
		return nil, "", false
	}
	rest := data[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, "", false
	}
	return rest[:idx+1], string(rest[idx+1+len(delim):]), true
}
