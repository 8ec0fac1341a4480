package parser

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts the text layer of a PDF, one section per page.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	sections := make([]Section, 0, totalPages)

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sections = append(sections, Section{Content: text, PageNumber: i})
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no text layer in PDF")
	}

	return &ParseResult{
		Sections: stripRunningLines(sections),
		Method:   "native",
		Metadata: map[string]string{"pages": fmt.Sprintf("%d", totalPages)},
	}, nil
}

// runningLineMinPages is the fewest pages a running header or footer must
// repeat on before it is removed.
const runningLineMinPages = 3

// stripRunningLines removes book running heads and footers: first or last
// lines that repeat, ignoring digits, on at least half of the pages.
func stripRunningLines(sections []Section) []Section {
	if len(sections) < runningLineMinPages {
		return sections
	}
	threshold := max(runningLineMinPages, len(sections)/2)

	counts := make(map[string]int)
	for _, s := range sections {
		lines := strings.Split(s.Content, "\n")
		first := normalizeRunningLine(lines[0])
		counts[first]++
		if len(lines) > 1 {
			if last := normalizeRunningLine(lines[len(lines)-1]); last != first {
				counts[last]++
			}
		}
	}

	running := func(line string) bool {
		key := normalizeRunningLine(line)
		return key != "" && counts[key] >= threshold
	}

	out := make([]Section, len(sections))
	for i, s := range sections {
		lines := strings.Split(s.Content, "\n")
		if len(lines) > 1 && running(lines[0]) {
			lines = lines[1:]
		}
		if len(lines) > 1 && running(lines[len(lines)-1]) {
			lines = lines[:len(lines)-1]
		}
		s.Content = strings.TrimSpace(strings.Join(lines, "\n"))
		out[i] = s
	}
	return out
}

// normalizeRunningLine drops digits and collapses spaces so "Chapter 3. Groups 47"
// and "Chapter 3. Groups 48" compare equal. Lines that are only a page
// number normalise to "#".
func normalizeRunningLine(line string) string {
	var b strings.Builder
	digits := false
	for _, r := range strings.TrimSpace(line) {
		switch {
		case unicode.IsDigit(r):
			digits = true
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	s := strings.Join(strings.Fields(b.String()), " ")
	if s == "" && digits {
		return "#"
	}
	return s
}
