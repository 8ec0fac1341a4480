package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/brunobiangulo/theoremgraph/llm"
	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/store"
)

const rrfK = 60 // RRF constant (standard value from literature)

// Search methods, in the order they are fused.
const (
	MethodName    = "name"
	MethodVector  = "vector"
	MethodSubject = "subject"
	MethodDomain  = "domain"
)

// SearchWeights weight each method's contribution to the fused score.
type SearchWeights struct {
	Name    float64 `json:"name" yaml:"name"`
	Vector  float64 `json:"vector" yaml:"vector"`
	Subject float64 `json:"subject" yaml:"subject"`
	Domain  float64 `json:"domain" yaml:"domain"`
}

// DefaultSearchWeights favour an exact name hit over everything else.
func DefaultSearchWeights() SearchWeights {
	return SearchWeights{Name: 2.0, Vector: 1.0, Subject: 0.5, Domain: 0.5}
}

// Hit is one fused search result.
type Hit struct {
	Theorem record.Theorem `json:"theorem"`
	Score   float64        `json:"score"`
	Methods []string       `json:"methods"`
	// Similarity is the cosine similarity when the vector method matched.
	Similarity float64 `json:"similarity,omitempty"`
}

// rankedList is one method's results, best first.
type rankedList struct {
	method  string
	weight  float64
	results []store.ScoredTheorem
}

// Searcher finds theorems for free-text queries by fusing exact name,
// embedding similarity, subject and domain lookups.
type Searcher struct {
	graph   TheoremSource
	embed   llm.Provider
	weights SearchWeights
}

// NewSearcher creates a searcher. embed may be nil, which disables the
// vector method.
func NewSearcher(g TheoremSource, embed llm.Provider, w SearchWeights) *Searcher {
	if w == (SearchWeights{}) {
		w = DefaultSearchWeights()
	}
	return &Searcher{graph: g, embed: embed, weights: w}
}

// Search returns at most k hits for query.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	var lists []rankedList

	t, err := s.graph.Theorem(ctx, query)
	switch {
	case err == nil && !t.IsStub():
		lists = append(lists, rankedList{MethodName, s.weights.Name, []store.ScoredTheorem{{Theorem: *t, Score: 1}}})
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("retrieval: name lookup: %w", err)
	}

	if s.embed != nil {
		vecs, err := s.embed.Embed(ctx, []string{query})
		if err != nil {
			slog.Warn("retrieval: query embedding failed, skipping vector search", "error", err)
		} else if len(vecs) > 0 {
			hits, err := s.graph.SimilarTheorems(ctx, vecs[0], k)
			if err != nil {
				return nil, fmt.Errorf("retrieval: vector search: %w", err)
			}
			lists = append(lists, rankedList{MethodVector, s.weights.Vector, hits})
		}
	}

	bySubject, err := s.graph.TheoremsBySubject(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: subject lookup: %w", err)
	}
	lists = append(lists, rankedList{MethodSubject, s.weights.Subject, unscored(bySubject)})

	byDomain, err := s.graph.TheoremsByDomain(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: domain lookup: %w", err)
	}
	lists = append(lists, rankedList{MethodDomain, s.weights.Domain, unscored(byDomain)})

	return fuseRRF(lists, k), nil
}

func unscored(ts []record.Theorem) []store.ScoredTheorem {
	out := make([]store.ScoredTheorem, len(ts))
	for i, t := range ts {
		out[i] = store.ScoredTheorem{Theorem: t}
	}
	return out
}

// fuseRRF implements Reciprocal Rank Fusion to combine results from
// multiple retrieval methods. Each list is ranked independently, then
// scores are combined using: score = sum(weight_i / (k + rank_i)).
// Stub theorems are dropped. Ties are broken by name.
func fuseRRF(lists []rankedList, maxResults int) []Hit {
	fused := make(map[string]*Hit)

	for _, l := range lists {
		for rank, r := range l.results {
			if r.Theorem.IsStub() {
				continue
			}
			h, ok := fused[r.Theorem.Name]
			if !ok {
				h = &Hit{Theorem: r.Theorem}
				fused[r.Theorem.Name] = h
			}
			h.Score += l.weight / float64(rrfK+rank+1)
			h.Methods = append(h.Methods, l.method)
			if l.method == MethodVector {
				h.Similarity = r.Score
			}
		}
	}

	hits := make([]Hit, 0, len(fused))
	for _, h := range fused {
		hits = append(hits, *h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Theorem.Name < hits[j].Theorem.Name
	})

	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits
}
