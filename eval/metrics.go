package eval

import (
	"strings"
	"unicode"

	"github.com/brunobiangulo/theoremgraph"
)

// normalizeLLMText folds the Unicode spacing, hyphens and zero-width
// characters models like to emit so substring matching works.
func normalizeLLMText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '\u2010' || r == '\u2011' || r == '\u2012' || r == '\u2013' || r == '\u2014':
			b.WriteByte('-')
		case r == '\u2019':
			b.WriteByte('\'')
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			// strip zero-width characters
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// matcher holds the three normalised forms of a text that facts are
// matched against.
type matcher struct {
	normalized, spaceless, hyphenless string
}

func newMatcher(text string) matcher {
	n := normalizeLLMText(strings.ToLower(text))
	return matcher{
		normalized: n,
		spaceless:  strings.ReplaceAll(n, " ", ""),
		hyphenless: strings.ReplaceAll(strings.ReplaceAll(n, "-", ""), " ", ""),
	}
}

// contains reports whether any pipe-separated alternative of fact occurs.
func (m matcher) contains(fact string) bool {
	for _, alt := range strings.Split(fact, "|") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		a := normalizeLLMText(strings.ToLower(alt))
		if strings.Contains(m.normalized, a) ||
			strings.Contains(m.spaceless, strings.ReplaceAll(a, " ", "")) ||
			strings.Contains(m.hyphenless, strings.ReplaceAll(strings.ReplaceAll(a, "-", ""), " ", "")) {
			return true
		}
	}
	return false
}

// computeAccuracy is the fraction of expected facts found in the answer text.
func computeAccuracy(answer *theoremgraph.Answer, expectedFacts []string) float64 {
	if answer == nil || answer.Text == "" || len(expectedFacts) == 0 {
		return 0
	}
	m := newMatcher(answer.Text)
	found := 0
	for _, fact := range expectedFacts {
		if m.contains(fact) {
			found++
		}
	}
	return float64(found) / float64(len(expectedFacts))
}

// computeTheoremRecall is the fraction of expected theorems present among
// the answer's sources, compared case-insensitively.
func computeTheoremRecall(answer *theoremgraph.Answer, expected []string) float64 {
	if answer == nil || len(expected) == 0 {
		return 0
	}
	have := make(map[string]bool, len(answer.Sources))
	for _, s := range answer.Sources {
		have[normalizeName(s.Name)] = true
	}
	found := 0
	for _, name := range expected {
		if have[normalizeName(name)] {
			found++
		}
	}
	return float64(found) / float64(len(expected))
}

// computeCitationRate is the fraction of sources the answer names.
func computeCitationRate(answer *theoremgraph.Answer) float64 {
	if answer == nil || len(answer.Sources) == 0 {
		return 0
	}
	return clamp(float64(len(answer.Cited)) / float64(len(answer.Sources)))
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(normalizeLLMText(strings.ToLower(s))), " ")
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
