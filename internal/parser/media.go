package parser

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// RefKind classifies a media reference.
type RefKind int

// Reference kinds.
const (
	RefUnsupported RefKind = iota
	RefLocal
	RefRemote
	RefInline
)

func (k RefKind) String() string {
	switch k {
	case RefLocal:
		return "local"
	case RefRemote:
		return "remote"
	case RefInline:
		return "inline"
	}
	return "unsupported"
}

var (
	htmlSrcRe = regexp.MustCompile(`(?i)<(?:img|video|audio|source)\b[^>]*?\bsrc\s*=\s*["']([^"']+)["']`)

	mediaExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
		".svg": true, ".bmp": true, ".pdf": true, ".mp3": true, ".wav": true,
		".ogg": true, ".mp4": true, ".webm": true, ".mov": true,
	}

	md = goldmark.New()
)

// MediaRefs returns the distinct media references in content, in order of
// first appearance. Image destinations always count; plain links count when
// they point at a media file; HTML src attributes are picked up as well.
func MediaRefs(content string) []string {
	src := []byte(content)
	doc := md.Parser().Parse(text.NewReader(src))

	seen := make(map[string]struct{})
	var out []string
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	addHTML := func(raw []byte) {
		for _, m := range htmlSrcRe.FindAllSubmatch(raw, -1) {
			add(string(m[1]))
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Image:
			add(string(v.Destination))
		case *ast.Link:
			if IsMediaPath(string(v.Destination)) {
				add(string(v.Destination))
			}
		case *ast.RawHTML:
			for i := 0; i < v.Segments.Len(); i++ {
				seg := v.Segments.At(i)
				addHTML(seg.Value(src))
			}
		case *ast.HTMLBlock:
			lines := v.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				addHTML(seg.Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	return out
}

// Classify reports how a reference can be resolved.
func Classify(ref string) RefKind {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return RefInline
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return RefRemote
	case strings.HasPrefix(lower, "//"):
		return RefUnsupported
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return RefUnsupported
	}
	return RefLocal
}

// LocalPath converts a local reference to a path relative to the media root.
// Query strings and fragments are dropped, percent-escapes decoded.
func LocalPath(ref string) string {
	p := ref
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return p
}

// IsMediaPath reports whether ref ends in a known media extension.
func IsMediaPath(ref string) bool {
	p := ref
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return mediaExtensions[strings.ToLower(path.Ext(p))]
}
