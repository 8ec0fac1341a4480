package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextParser handles plain text, Markdown and LaTeX sources.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "tex"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := string(data)
	if Format(path) == "tex" {
		content = stripTeXComments(content)
	}
	if strings.TrimSpace(content) == "" {
		return &ParseResult{Method: "native"}, nil
	}

	return &ParseResult{
		Sections: []Section{{
			Heading: filepath.Base(path),
			Content: content,
		}},
		Method: "native",
	}, nil
}

// stripTeXComments drops whole-line % comments. Inline comments are kept
// since an unescaped % cannot be told apart from \% without a TeX parser.
func stripTeXComments(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "%") {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}
