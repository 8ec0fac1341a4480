package reasoning

import (
	"strings"
)

// CitedTheorems returns the names of sources mentioned in answer, in source
// order. Matching ignores case and only counts whole phrases, so "Lagrange's
// theorem" cites "Lagrange's Theorem" but "Sylow II" does not cite "Sylow I".
func CitedTheorems(answer string, sources []Source) []string {
	lower := strings.ToLower(answer)
	var cited []string
	seen := make(map[string]bool)
	for _, s := range sources {
		if seen[s.Name] {
			continue
		}
		if mentions(lower, strings.ToLower(s.Name)) {
			seen[s.Name] = true
			cited = append(cited, s.Name)
		}
	}
	return cited
}

// mentions reports whether name occurs in text as a whole phrase.
func mentions(text, name string) bool {
	if name == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(text[from:], name)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(name)
		if boundary(text, start-1) && boundary(text, end) {
			return true
		}
		from = start + 1
	}
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_')
}
