// Package extract turns source files into plain text.
//
// PDF parsing is out of scope for ragon: binary sources are expected to
// ship with a pdftotext-style sidecar (<name>.pdf.txt). Everything else
// (.txt, .md) is read as-is. Pages are delimited by form-feed characters
// and numbered from 1.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
)

// Page is one page of extracted text.
type Page struct {
	// Number is the 1-based page number within the source.
	Number int
	Text   string
}

// Document is the extracted text of a single source file.
type Document struct {
	// Source is the display filename (base name of the source path).
	Source string
	Pages  []Page
}

// Provider extracts plain text from a source file.
type Provider interface {
	Extract(ctx context.Context, path string) (*Document, error)
}

// TextProvider is the shipped Provider. It reads text sources directly
// and resolves .pdf sources through their .pdf.txt sidecar.
type TextProvider struct{}

// NewTextProvider returns the default text provider.
func NewTextProvider() *TextProvider {
	return &TextProvider{}
}

// Extract reads the text of the source at path.
func (p *TextProvider) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	readPath := path
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		readPath = path + ".txt"
	}

	data, err := os.ReadFile(readPath)
	if err != nil {
		return nil, ragonerr.SourceUnavailable(readPath, err).
			WithSuggestion("run pdftotext to produce the .pdf.txt sidecar")
	}

	return &Document{
		Source: filepath.Base(path),
		Pages:  splitPages(string(data)),
	}, nil
}

// splitPages splits extracted text on form feeds. Page numbers are
// positional, so a blank page keeps its successors' numbering intact.
func splitPages(text string) []Page {
	raw := strings.Split(text, "\f")
	pages := make([]Page, 0, len(raw))
	for i, t := range raw {
		if strings.TrimSpace(t) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: t})
	}
	return pages
}

// IsSource reports whether name looks like a queryable source file.
// Sidecar files (.pdf.txt) belong to their .pdf and are not sources.
func IsSource(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}

	lower := strings.ToLower(base)
	if strings.HasSuffix(lower, ".pdf.txt") {
		return false
	}

	switch filepath.Ext(lower) {
	case ".pdf", ".txt", ".md":
		return true
	default:
		return false
	}
}

// ListSources returns the absolute paths of all source files directly in
// dir, sorted by name. The walk is non-recursive.
func ListSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ragonerr.SourceUnavailable(dir, err)
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() || !IsSource(entry.Name()) {
			continue
		}
		sources = append(sources, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(sources)
	return sources, nil
}
