// Package retrieval decides which stored theorems are relevant to a
// question.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brunobiangulo/theoremgraph/conversation"
	"github.com/brunobiangulo/theoremgraph/llm"
	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/store"
)

// Replies the classifier uses instead of a name list.
const (
	SentinelOutOfDomain = "No algebra"
	SentinelGeneral     = "whatever"
)

// ClassifyPrompt asks the model which theorems a question needs.
var ClassifyPrompt = llm.MustTemplate("parse_question", `You are a mathematics assistant specialised in algebra. Identify every theorem needed to answer the user's question, using the chat history for context.
Return ONLY the theorem names.

Chat history:
{{.History}}

Question: {{.Question}}

Rules:
1. Do not include explanations or apologies.
2. If the question is not about mathematics, or the user only asks for clarification, return "`+SentinelOutOfDomain+`".
3. If the question is not about a specific theorem, return "`+SentinelGeneral+`".
4. If several theorems are needed, separate their names with semicolons: theorem 1; theorem 2
5. Do not hallucinate.`)

// Outcome is the classification of a question.
type Outcome string

const (
	// OutcomeTheorems means the classifier named theorems.
	OutcomeTheorems Outcome = "theorems"
	// OutcomeOutOfDomain means the question is not mathematical.
	OutcomeOutOfDomain Outcome = "out_of_domain"
	// OutcomeGeneral means no specific theorem is involved.
	OutcomeGeneral Outcome = "general"
)

// Match methods recorded on a Resolution.
const (
	MatchExact      = "exact"
	MatchSimilarity = "similarity"
)

// TheoremSource is the read side of the graph the resolver needs.
type TheoremSource interface {
	Theorem(ctx context.Context, name string) (*record.Theorem, error)
	Dependencies(ctx context.Context, name string) ([]record.Theorem, error)
	ExamplesFor(ctx context.Context, theorem string, limit int) ([]record.Example, error)
	TheoremsBySubject(ctx context.Context, subject string, limit int) ([]record.Theorem, error)
	TheoremsByDomain(ctx context.Context, domain string, limit int) ([]record.Theorem, error)
	SimilarTheorems(ctx context.Context, embedding []float32, k int) ([]store.ScoredTheorem, error)
}

// Resolution is the lookup result for one requested name.
type Resolution struct {
	Name string `json:"name"`
	// Theorem is nil when nothing matched.
	Theorem      *record.Theorem  `json:"theorem,omitempty"`
	Dependencies []record.Theorem `json:"dependencies,omitempty"`
	Examples     []record.Example `json:"examples,omitempty"`
	Match        string           `json:"match,omitempty"`
}

// Result is the outcome of resolving one question.
type Result struct {
	Outcome     Outcome      `json:"outcome"`
	Raw         string       `json:"raw"`
	Resolutions []Resolution `json:"resolutions"`
}

// Grounded reports whether at least one theorem was found.
func (r *Result) Grounded() bool {
	for _, res := range r.Resolutions {
		if res.Theorem != nil {
			return true
		}
	}
	return false
}

// Names returns the names of the resolved theorems.
func (r *Result) Names() []string {
	var out []string
	for _, res := range r.Resolutions {
		if res.Theorem != nil {
			out = append(out, res.Theorem.Name)
		}
	}
	return out
}

// Config tunes the resolver.
type Config struct {
	// ExamplesPerTheorem caps examples attached to each resolution. Zero
	// disables examples.
	ExamplesPerTheorem int `json:"examples_per_theorem" yaml:"examples_per_theorem"`
	// MinSimilarity is the cosine similarity a fuzzy match needs when an
	// exact name lookup misses. Zero disables the fallback.
	MinSimilarity float64 `json:"min_similarity" yaml:"min_similarity"`
}

// Resolver classifies questions and looks up the theorems they name.
type Resolver struct {
	graph TheoremSource
	chat  llm.Provider
	embed llm.Provider
	cfg   Config
}

// NewResolver creates a resolver. embed may be nil, which disables the
// similarity fallback.
func NewResolver(g TheoremSource, chat, embed llm.Provider, cfg Config) *Resolver {
	return &Resolver{graph: g, chat: chat, embed: embed, cfg: cfg}
}

// Resolve classifies question and, when it names theorems, looks each one
// up together with its direct dependencies. A failed model call is returned
// as an error; a lookup failure for one name is logged and treated as a miss.
func (r *Resolver) Resolve(ctx context.Context, question string, history []conversation.Turn) (*Result, error) {
	resp, err := llm.Complete(ctx, r.chat, ClassifyPrompt, map[string]string{
		"History":  conversation.Format(history),
		"Question": question,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: classifying question: %w", err)
	}

	outcome, names := ParseClassification(resp.Content)
	res := &Result{Outcome: outcome, Raw: resp.Content}
	slog.Info("retrieval: question classified", "outcome", outcome, "names", names)
	if outcome != OutcomeTheorems {
		return res, nil
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Resolutions = append(res.Resolutions, r.lookup(ctx, name))
	}
	return res, nil
}

// lookup resolves one name. It never fails; errors become misses.
func (r *Resolver) lookup(ctx context.Context, name string) Resolution {
	out := Resolution{Name: name}

	t, err := r.graph.Theorem(ctx, name)
	switch {
	case err == nil && !t.IsStub():
		out.Theorem = t
		out.Match = MatchExact
	case err != nil && !errors.Is(err, store.ErrNotFound):
		slog.Warn("retrieval: theorem lookup failed", "name", name, "error", err)
		return out
	default:
		t = r.similar(ctx, name)
		if t == nil {
			slog.Info("retrieval: theorem not found", "name", name)
			return out
		}
		out.Theorem = t
		out.Match = MatchSimilarity
	}

	deps, err := r.graph.Dependencies(ctx, out.Theorem.Name)
	if err != nil {
		slog.Warn("retrieval: dependency lookup failed", "name", out.Theorem.Name, "error", err)
	}
	out.Dependencies = deps

	if r.cfg.ExamplesPerTheorem > 0 {
		ex, err := r.graph.ExamplesFor(ctx, out.Theorem.Name, r.cfg.ExamplesPerTheorem)
		if err != nil {
			slog.Warn("retrieval: example lookup failed", "name", out.Theorem.Name, "error", err)
		}
		out.Examples = ex
	}
	return out
}

// similar returns the nearest non-stub theorem to name when it clears the
// similarity threshold.
func (r *Resolver) similar(ctx context.Context, name string) *record.Theorem {
	if r.embed == nil || r.cfg.MinSimilarity <= 0 {
		return nil
	}
	vecs, err := r.embed.Embed(ctx, []string{name})
	if err != nil || len(vecs) == 0 {
		slog.Warn("retrieval: embedding name failed", "name", name, "error", err)
		return nil
	}
	hits, err := r.graph.SimilarTheorems(ctx, vecs[0], 1)
	if err != nil {
		slog.Warn("retrieval: similarity search failed", "name", name, "error", err)
		return nil
	}
	if len(hits) == 0 || hits[0].Score < r.cfg.MinSimilarity || hits[0].Theorem.IsStub() {
		return nil
	}
	slog.Info("retrieval: matched by similarity", "name", name, "theorem", hits[0].Theorem.Name,
		"score", hits[0].Score)
	t := hits[0].Theorem
	return &t
}

var (
	// bulletRe matches list markers models put in front of names.
	bulletRe = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)
	fenceRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
)

// ParseClassification interprets a classifier reply. Names are separated by
// semicolons or newlines; list markers, quotes and duplicates are dropped. A
// reply with no usable names counts as general.
func ParseClassification(raw string) (Outcome, []string) {
	s := stripThinking(raw)
	if m := fenceRe.FindStringSubmatch(s); len(m) > 1 {
		s = m[1]
	}
	switch whole := trimName(s); {
	case whole == "", strings.EqualFold(whole, SentinelGeneral):
		return OutcomeGeneral, nil
	case strings.EqualFold(whole, SentinelOutOfDomain):
		return OutcomeOutOfDomain, nil
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '\n' })
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = bulletRe.ReplaceAllString(strings.TrimSpace(p), "")
		names = append(names, trimName(p))
	}
	names = record.CleanNames(names, "")
	if len(names) == 0 {
		return OutcomeGeneral, nil
	}
	return OutcomeTheorems, names
}

func trimName(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`.*! \t")
}

// stripThinking removes <think>...</think> blocks some models emit before
// their answer.
func stripThinking(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s, "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}
