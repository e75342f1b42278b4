package parser

import (
	"reflect"
	"testing"
	"time"

	"github.com/starford/kenaz-backup/internal/models"
)

func TestRenderParseRoundTrip(t *testing.T) {
	in := models.Note{
		ID:        "01HZY",
		Title:     "Trip",
		Content:   "\n# Day 1\n\n---\nnot frontmatter\n",
		Tags:      []string{"travel"},
		CreatedAt: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC),
		IsPinned:  true,
		Mood:      "calm",
		Weather:   "sunny",
	}
	data, err := RenderNote(in)
	if err != nil {
		t.Fatalf("RenderNote: %v", err)
	}
	out, err := ParseNote(data)
	if err != nil {
		t.Fatalf("ParseNote: %v", err)
	}
	if out.Content != in.Content {
		t.Errorf("content = %q, want %q", out.Content, in.Content)
	}
	if out.ID != in.ID || out.Title != in.Title || !out.CreatedAt.Equal(in.CreatedAt) || !out.IsPinned {
		t.Errorf("metadata mismatch: %+v", out)
	}
	if !reflect.DeepEqual(out.Tags, in.Tags) {
		t.Errorf("tags = %v", out.Tags)
	}
}

func TestParseNote_NoFrontmatter(t *testing.T) {
	n, err := ParseNote([]byte("just text"))
	if err != nil {
		t.Fatalf("ParseNote: %v", err)
	}
	if n.Content != "just text" || n.ID != "" {
		t.Errorf("got %+v", n)
	}
}

func TestMediaRefs(t *testing.T) {
	content := "# Pics\n\n" +
		"![cat](/attachments/cat.png) and again ![cat](/attachments/cat.png)\n\n" +
		"[doc](files/report.pdf) [site](https://example.com/page)\n\n" +
		"![remote](https://cdn.example.com/a.jpg)\n\n" +
		"![inline](data:image/png;base64,iVBORw0KGgo=)\n\n" +
		"<img src=\"/uploads/dog.gif\" alt=\"dog\">\n"

	got := MediaRefs(content)
	want := []string{
		"/attachments/cat.png",
		"files/report.pdf",
		"https://cdn.example.com/a.jpg",
		"data:image/png;base64,iVBORw0KGgo=",
		"/uploads/dog.gif",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MediaRefs = %v\nwant %v", got, want)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]RefKind{
		"/attachments/a.png":        RefLocal,
		"attachments/a.png":         RefLocal,
		"https://example.com/a.png": RefRemote,
		"HTTP://example.com/a.png":  RefRemote,
		"data:image/png;base64,AA":  RefInline,
		"ftp://example.com/a.png":   RefUnsupported,
		"//cdn.example.com/a.png":   RefUnsupported,
	}
	for ref, want := range cases {
		if got := Classify(ref); got != want {
			t.Errorf("Classify(%q) = %v, want %v", ref, got, want)
		}
	}
}

func TestLocalPath(t *testing.T) {
	cases := map[string]string{
		"/attachments/a.png":        "attachments/a.png",
		"attachments/my%20cat.png":  "attachments/my cat.png",
		"/attachments/a.png?v=2#x":  "attachments/a.png",
		"../../etc/passwd":          "etc/passwd",
	}
	for in, want := range cases {
		if got := LocalPath(in); got != want {
			t.Errorf("LocalPath(%q) = %q, want %q", in, got, want)
		}
	}
}
