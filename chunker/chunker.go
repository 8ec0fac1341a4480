// Package chunker splits document text into overlapping chunks sized for
// extraction prompts. Split points prefer the structural boundaries of
// mathematical writing (paragraphs, end-of-proof marks, theorem keywords)
// over sentence and word boundaries.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode/utf8"
)

// Defaults applied by New when the configuration is out of range.
const (
	DefaultSize    = 2000
	DefaultOverlap = 250
)

// Config controls the chunking behaviour. Sizes are measured in characters
// (Unicode code points), not bytes.
type Config struct {
	Size    int // Maximum characters per chunk.
	Overlap int // Characters shared by consecutive chunks.
}

// Chunk is one window of the source text.
type Chunk struct {
	Index int    // Position in the document, starting at 0.
	Start int    // Character offset of the first character in the source.
	Text  string // Exact source text, including whitespace.
	Hash  string // SHA-256 of Text.
	Kind  Kind   // Dominant block type, see Classify.
}

// Chunker converts document text into overlapping chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Out-of-range values are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		cfg.Overlap = min(DefaultOverlap, cfg.Size/8)
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Split breaks text into chunks of at most Size characters. Each chunk after
// the first begins exactly Overlap characters before the previous one ends,
// so the first chunk followed by every later chunk with its leading Overlap
// characters removed reproduces text exactly.
func (c *Chunker) Split(text string) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	size, overlap := c.cfg.Size, c.cfg.Overlap
	stride := size - overlap
	// A cut must advance the window by at least half a stride.
	minCut := overlap + (stride+1)/2

	var chunks []Chunk
	start := 0
	for {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, newChunk(len(chunks), start, runes[start:]))
			return chunks
		}

		cut := findCut(string(runes[start:end]), minCut, size)
		chunks = append(chunks, newChunk(len(chunks), start, runes[start:start+cut]))
		start += cut - overlap
	}
}

func newChunk(index, start int, runes []rune) Chunk {
	text := string(runes)
	return Chunk{Index: index, Start: start, Text: text, Hash: contentHash(text), Kind: Classify(text)}
}

// findCut returns the character length of the next chunk taken from window.
// The highest-priority separator whose last occurrence yields a cut of at
// least minCut wins; otherwise the window is cut hard at size.
func findCut(window string, minCut, size int) int {
	for _, sep := range separators {
		idx := strings.LastIndex(window, sep.text)
		if idx < 0 {
			continue
		}
		cut := utf8.RuneCountInString(window[:idx]) + sep.cutAt
		if cut >= minCut && cut <= size {
			return cut
		}
	}
	return size
}

// separator is a split marker. cutAt is the character offset, relative to the
// start of the match, at which the chunk ends.
type separator struct {
	text  string
	cutAt int
}

// after cuts just past the marker; before cuts just past a leading newline so
// the keyword opens the next chunk.
func after(s string) separator  { return separator{text: s, cutAt: utf8.RuneCountInString(s)} }
func before(s string) separator { return separator{text: "\n" + s, cutAt: 1} }

// separators in priority order.
var separators = []separator{
	after("\n\n"),

	after("∎"),
	after("□"),
	after("Q.E.D."),

	before("Proof."),
	before("Theorem "),
	before("Lemma "),
	before("Proposition "),
	before("Corollary "),
	before("Definition "),
	before("Example "),

	before("Therefore"),
	before("Hence"),
	before("Thus"),

	after(". "),
	after("? "),
	after("! "),

	after("\n"),
	after(" "),
}

// EstimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// contentHash returns the SHA-256 hex digest of text.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
