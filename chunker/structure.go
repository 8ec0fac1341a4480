package chunker

import (
	"regexp"
	"strings"
)

// Kind is the dominant structural role of a chunk.
type Kind string

const (
	KindStatement  Kind = "statement"
	KindProof      Kind = "proof"
	KindDefinition Kind = "definition"
	KindExample    Kind = "example"
	KindTable      Kind = "table"
	KindProse      Kind = "prose"
)

// ---------------------------------------------------------------------------
// Heading pattern detection
// ---------------------------------------------------------------------------

// headingPatterns match the labels that open a block in mathematical
// writing, e.g. "Theorem 3.2", "Lemma.", "Definition (Group)".
var headingPatterns = map[Kind]*regexp.Regexp{
	KindStatement:  regexp.MustCompile(`(?im)^\s*(?:\\begin\{)?(theorem|lemma|proposition|corollary|conjecture)\b`),
	KindProof:      regexp.MustCompile(`(?im)^\s*(?:\\begin\{)?proof\b`),
	KindDefinition: regexp.MustCompile(`(?im)^\s*(?:\\begin\{)?definition\b`),
	KindExample:    regexp.MustCompile(`(?im)^\s*(?:\\begin\{)?(example|exercise)s?\b`),
}

// kindOrder breaks ties between heading counts.
var kindOrder = []Kind{KindStatement, KindDefinition, KindExample, KindProof}

// IsHeading reports whether a line opens a theorem-like block.
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, re := range headingPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Section numbering
// ---------------------------------------------------------------------------

// numberingPattern matches the number after a block label, as in
// "Theorem 2.4.1" or "Lemma 3".
var numberingPattern = regexp.MustCompile(`^\s*[A-Za-z]+\s+(\d+(?:\.\d+)*)\b`)

// DetectNumbering extracts the number of a labelled block, e.g. "2.4.1"
// from "Theorem 2.4.1 (Sylow)".
func DetectNumbering(line string) (string, bool) {
	if !IsHeading(line) {
		return "", false
	}
	m := numberingPattern.FindStringSubmatch(line)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// ---------------------------------------------------------------------------
// Content classification
// ---------------------------------------------------------------------------

// Classify returns the dominant kind of text: the label that opens the most
// blocks, a table when most lines are pipe rows, and prose otherwise.
func Classify(text string) Kind {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return KindProse
	}
	if looksLikeTable(trimmed) {
		return KindTable
	}

	best, bestCount := KindProse, 0
	for _, k := range kindOrder {
		n := len(headingPatterns[k].FindAllStringIndex(trimmed, -1))
		if n > bestCount {
			best, bestCount = k, n
		}
	}
	if bestCount == 0 && endsProof(trimmed) {
		return KindProof
	}
	return best
}

// looksLikeTable reports whether most lines of text are pipe-delimited rows,
// the shape the spreadsheet parser emits.
func looksLikeTable(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return false
	}
	pipeCount := 0
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "|") {
			pipeCount++
		}
	}
	return pipeCount*2 > len(lines)
}

// endsProof reports whether text carries an end-of-proof mark.
func endsProof(text string) bool {
	for _, mark := range []string{"∎", "□", "Q.E.D.", `\end{proof}`} {
		if strings.Contains(text, mark) {
			return true
		}
	}
	return false
}
