package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions with no parser.
var ErrUnsupportedFormat = errors.New("parser: unsupported document format")

// Registry maps file formats to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a registry with the built-in parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&PDFParser{}, &TextParser{}, &XLSXParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser for format (an extension without the dot).
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Register adds or replaces the parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Format returns the lower-case extension of path without the dot.
func Format(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// ExtractText parses path and joins its sections with blank lines. An
// unknown format is an error; a parse failure is logged and yields empty
// text so the document produces no chunks and stays unregistered.
func (r *Registry) ExtractText(ctx context.Context, path string) (string, error) {
	p, err := r.Get(Format(path))
	if err != nil {
		return "", err
	}
	res, err := p.Parse(ctx, path)
	if err != nil {
		slog.Warn("parser: extraction failed, treating as empty", "path", path, "error", err)
		return "", nil
	}
	parts := make([]string, 0, len(res.Sections))
	for _, s := range res.Sections {
		if c := strings.TrimSpace(s.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
