package graph

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/brunobiangulo/theoremgraph/chunker"
	"github.com/brunobiangulo/theoremgraph/llm"
	"github.com/brunobiangulo/theoremgraph/record"
)

// Extraction is the outcome of running both extraction passes over one chunk.
type Extraction struct {
	Chunk    int
	Theorems []record.Theorem
	Examples []record.Example
	// Rejected counts items that were present in a response but failed
	// strict parsing.
	Rejected int
	// Err is set when every pass failed to reach the model, as opposed to
	// the model answering with nothing usable.
	Err error
}

// Extractor turns chunks into candidate records. It holds no per-call
// state and is safe for concurrent use.
type Extractor struct {
	chat     llm.Provider
	theorems *llm.Template
	examples *llm.Template
}

// NewExtractor binds an extractor to a chat provider and the default prompts.
func NewExtractor(chat llm.Provider) *Extractor {
	return &Extractor{chat: chat, theorems: TheoremPrompt, examples: ExamplePrompt}
}

// Extract runs the theorem pass then the example pass. It never fails:
// malformed output yields zero records for that pass.
func (x *Extractor) Extract(ctx context.Context, c chunker.Chunk) Extraction {
	out := Extraction{Chunk: c.Index}
	vars := struct{ Text string }{Text: c.Text}

	var failures int
	var firstErr error

	items, err := x.pass(ctx, x.theorems, vars, "theorems", c.Index)
	if err != nil {
		failures++
		firstErr = err
	}
	for _, raw := range items {
		t, err := record.ParseTheorem(raw)
		if err != nil {
			slog.Warn("graph: discarding theorem", "chunk", c.Index, "error", err)
			out.Rejected++
			continue
		}
		out.Theorems = append(out.Theorems, t)
	}

	items, err = x.pass(ctx, x.examples, vars, "examples", c.Index)
	if err != nil {
		failures++
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, raw := range items {
		e, err := record.ParseExample(raw)
		if err != nil {
			slog.Warn("graph: discarding example", "chunk", c.Index, "error", err)
			out.Rejected++
			continue
		}
		out.Examples = append(out.Examples, e)
	}

	if failures == 2 {
		out.Err = firstErr
	}
	return out
}

// pass sends one prompt and returns the raw items under key. The error is
// non-nil only when the provider call itself failed.
func (x *Extractor) pass(ctx context.Context, tmpl *llm.Template, vars any, key string, chunk int) ([]json.RawMessage, error) {
	resp, err := llm.Complete(ctx, x.chat, tmpl, vars, llm.WithJSON())
	if err != nil {
		slog.Warn("graph: extraction call failed", "chunk", chunk, "pass", tmpl.Name(), "error", err)
		return nil, err
	}
	return decodeItems(resp.Content, key, chunk), nil
}

// decodeItems locates the JSON object in a model response and returns the
// array stored under key.
func decodeItems(content, key string, chunk int) []json.RawMessage {
	obj, ok := locateJSON(content)
	if !ok {
		slog.Warn("graph: no JSON object in response", "chunk", chunk, "key", key)
		return nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &envelope); err != nil {
		slog.Warn("graph: decoding response", "chunk", chunk, "key", key, "error", err)
		return nil
	}
	raw, ok := envelope[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		slog.Warn("graph: response items are not an array", "chunk", chunk, "key", key, "error", err)
		return nil
	}
	return items
}

// locateJSON returns the first top-level balanced {...} span in s that is
// valid JSON. Braces inside string literals are ignored. A balanced span that
// is not JSON (set notation such as {e, g}) is skipped whole; an unclosed
// brace ends the search, since nothing after it can be top level.
func locateJSON(s string) (string, bool) {
	for start := 0; start < len(s); start++ {
		if s[start] != '{' {
			continue
		}
		end, ok := matchBrace(s, start)
		if !ok {
			return "", false
		}
		if candidate := s[start : end+1]; json.Valid([]byte(candidate)) {
			return candidate, true
		}
		start = end
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at start.
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
