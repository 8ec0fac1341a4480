package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brunobiangulo/theoremgraph/conversation"
	"github.com/brunobiangulo/theoremgraph/llm"
	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/store"
)

// fakeGraph is an in-memory TheoremSource.
type fakeGraph struct {
	theorems map[string]record.Theorem
	deps     map[string][]string
	examples map[string][]record.Example
	similar  []store.ScoredTheorem
	failOn   string
}

func (g *fakeGraph) Theorem(_ context.Context, name string) (*record.Theorem, error) {
	if name == g.failOn {
		return nil, errors.New("connection reset")
	}
	t, ok := g.theorems[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	t.Dependencies = g.deps[name]
	return &t, nil
}

func (g *fakeGraph) Dependencies(_ context.Context, name string) ([]record.Theorem, error) {
	var out []record.Theorem
	for _, d := range g.deps[name] {
		if t, ok := g.theorems[d]; ok {
			out = append(out, t)
		} else {
			out = append(out, record.Theorem{Name: d})
		}
	}
	return out, nil
}

func (g *fakeGraph) ExamplesFor(_ context.Context, theorem string, limit int) ([]record.Example, error) {
	ex := g.examples[theorem]
	if len(ex) > limit {
		ex = ex[:limit]
	}
	return ex, nil
}

func (g *fakeGraph) TheoremsBySubject(_ context.Context, subject string, _ int) ([]record.Theorem, error) {
	var out []record.Theorem
	for _, t := range g.theorems {
		if t.Subject == subject {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *fakeGraph) TheoremsByDomain(_ context.Context, domain string, _ int) ([]record.Theorem, error) {
	var out []record.Theorem
	for _, t := range g.theorems {
		if t.Domain == domain {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *fakeGraph) SimilarTheorems(_ context.Context, _ []float32, k int) ([]store.ScoredTheorem, error) {
	if len(g.similar) > k {
		return g.similar[:k], nil
	}
	return g.similar, nil
}

// replyProvider answers every chat with a fixed reply and records prompts.
type replyProvider struct {
	reply   string
	err     error
	prompts []string
}

func (p *replyProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.prompts = append(p.prompts, req.Messages[len(req.Messages)-1].Content)
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Content: p.reply, Model: "fake"}, nil
}

func (p *replyProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func theorem(name, subject, domain string) record.Theorem {
	return record.Theorem{
		Name: name, Statement: name + " statement", Proof: record.ProofNotProvided,
		Subject: subject, Domain: domain, Type: record.TypeTheorem,
	}
}

func testGraph() *fakeGraph {
	return &fakeGraph{
		theorems: map[string]record.Theorem{
			"Lagrange's Theorem":      theorem("Lagrange's Theorem", "Algebra", "Group Theory"),
			"Coset Partition Lemma":   theorem("Coset Partition Lemma", "Algebra", "Group Theory"),
			"Fermat's Little Theorem": theorem("Fermat's Little Theorem", "Number Theory", "Modular Arithmetic"),
			"Stub Only":               {Name: "Stub Only"},
		},
		deps: map[string][]string{
			"Lagrange's Theorem": {"Coset Partition Lemma"},
		},
		examples: map[string][]record.Example{
			"Lagrange's Theorem": {{Name: "Z6", Content: "subgroups of Z6"}, {Name: "S3", Content: "subgroups of S3"}},
		},
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		outcome Outcome
		names   []string
	}{
		{"out of domain", "No algebra", OutcomeOutOfDomain, nil},
		{"out of domain quoted", `"No Algebra."`, OutcomeOutOfDomain, nil},
		{"general", "whatever", OutcomeGeneral, nil},
		{"empty", "   ", OutcomeGeneral, nil},
		{"thinking stripped", "<think>the user asks about groups</think>\nwhatever", OutcomeGeneral, nil},
		{"single", "Lagrange's Theorem", OutcomeTheorems, []string{"Lagrange's Theorem"}},
		{"semicolons", "Lagrange's Theorem; Cauchy's Theorem ;", OutcomeTheorems, []string{"Lagrange's Theorem", "Cauchy's Theorem"}},
		{"newline list", "- Lagrange's Theorem\n2. Sylow Theorems\n* \"Cauchy's Theorem\"", OutcomeTheorems, []string{"Lagrange's Theorem", "Sylow Theorems", "Cauchy's Theorem"}},
		{"duplicates", "A; A; B", OutcomeTheorems, []string{"A", "B"}},
		{"fenced", "```\nA; B\n```", OutcomeTheorems, []string{"A", "B"}},
		{"commas kept in names", "Bolzano, Weierstrass Theorem", OutcomeTheorems, []string{"Bolzano, Weierstrass Theorem"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, names := ParseClassification(tt.raw)
			if outcome != tt.outcome {
				t.Errorf("outcome = %q, want %q", outcome, tt.outcome)
			}
			if strings.Join(names, "|") != strings.Join(tt.names, "|") {
				t.Errorf("names = %q, want %q", names, tt.names)
			}
		})
	}
}

func TestResolveNames(t *testing.T) {
	chat := &replyProvider{reply: "Lagrange's Theorem; Unknown Theorem; Stub Only"}
	r := NewResolver(testGraph(), chat, nil, Config{ExamplesPerTheorem: 1})

	history := []conversation.Turn{{Question: "What is a subgroup?", Answer: "A subset closed under..."}}
	res, err := r.Resolve(context.Background(), "Why does |H| divide |G|?", history)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Outcome != OutcomeTheorems || len(res.Resolutions) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	lagrange := res.Resolutions[0]
	if lagrange.Theorem == nil || lagrange.Match != MatchExact {
		t.Fatalf("Lagrange not resolved: %+v", lagrange)
	}
	if len(lagrange.Dependencies) != 1 || lagrange.Dependencies[0].Name != "Coset Partition Lemma" {
		t.Errorf("dependencies = %+v", lagrange.Dependencies)
	}
	if len(lagrange.Examples) != 1 {
		t.Errorf("examples not capped: %d", len(lagrange.Examples))
	}
	if res.Resolutions[1].Theorem != nil {
		t.Errorf("unknown name should miss, got %+v", res.Resolutions[1])
	}
	if res.Resolutions[2].Theorem != nil {
		t.Errorf("stub should not ground an answer, got %+v", res.Resolutions[2])
	}
	if !res.Grounded() || strings.Join(res.Names(), "|") != "Lagrange's Theorem" {
		t.Errorf("Grounded/Names = %v, %v", res.Grounded(), res.Names())
	}

	if !strings.Contains(chat.prompts[0], "User: What is a subgroup?") ||
		!strings.Contains(chat.prompts[0], "Why does |H| divide |G|?") {
		t.Errorf("history or question missing from prompt:\n%s", chat.prompts[0])
	}
}

func TestResolveSentinel(t *testing.T) {
	r := NewResolver(testGraph(), &replyProvider{reply: "No algebra"}, nil, Config{})
	res, err := r.Resolve(context.Background(), "What's the weather?", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Outcome != OutcomeOutOfDomain || len(res.Resolutions) != 0 || res.Grounded() {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestResolveLookupErrorIsMiss(t *testing.T) {
	g := testGraph()
	g.failOn = "Lagrange's Theorem"
	r := NewResolver(g, &replyProvider{reply: "Lagrange's Theorem; Fermat's Little Theorem"}, nil, Config{})

	res, err := r.Resolve(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("store errors must not fail the request: %v", err)
	}
	if res.Resolutions[0].Theorem != nil || res.Resolutions[1].Theorem == nil {
		t.Errorf("unexpected resolutions %+v", res.Resolutions)
	}
}

func TestResolveCapabilityFailure(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewResolver(testGraph(), &replyProvider{err: boom}, nil, Config{})
	if _, err := r.Resolve(context.Background(), "q", nil); !errors.Is(err, boom) {
		t.Errorf("expected wrapped capability error, got %v", err)
	}
}

func TestResolveSimilarityFallback(t *testing.T) {
	g := testGraph()
	g.similar = []store.ScoredTheorem{{Theorem: g.theorems["Lagrange's Theorem"], Score: 0.95}}
	p := &replyProvider{reply: "Theorem of Lagrange"}

	r := NewResolver(g, p, p, Config{MinSimilarity: 0.9})
	res, err := r.Resolve(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := res.Resolutions[0]
	if got.Theorem == nil || got.Theorem.Name != "Lagrange's Theorem" || got.Match != MatchSimilarity {
		t.Errorf("fallback did not match: %+v", got)
	}

	r = NewResolver(g, p, p, Config{MinSimilarity: 0.99})
	res, _ = r.Resolve(context.Background(), "q", nil)
	if res.Resolutions[0].Theorem != nil {
		t.Error("hit below threshold should miss")
	}
}

func TestFuseRRF(t *testing.T) {
	a := theorem("A", "Algebra", "Group Theory")
	b := theorem("B", "Algebra", "Group Theory")
	c := theorem("C", "Algebra", "Ring Theory")

	lists := []rankedList{
		{MethodVector, 1.0, []store.ScoredTheorem{{Theorem: a, Score: 0.9}, {Theorem: b, Score: 0.8}}},
		{MethodSubject, 1.0, []store.ScoredTheorem{{Theorem: b}, {Theorem: c}}},
		{MethodDomain, 0.5, []store.ScoredTheorem{{Theorem: a}}},
	}
	hits := fuseRRF(lists, 10)
	if len(hits) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(hits))
	}

	// A: 1/61 + 0.5/61; B: 1/62 + 1/61; C: 1/62.
	wantOrder := []string{"B", "A", "C"}
	wantScore := []float64{1.0/62.0 + 1.0/61.0, 1.5 / 61.0, 1.0 / 62.0}
	const eps = 1e-9
	for i, h := range hits {
		if h.Theorem.Name != wantOrder[i] {
			t.Errorf("hit %d = %s, want %s", i, h.Theorem.Name, wantOrder[i])
		}
		if diff := h.Score - wantScore[i]; diff < -eps || diff > eps {
			t.Errorf("%s score: got %f, want %f", h.Theorem.Name, h.Score, wantScore[i])
		}
	}
	if hits[1].Similarity != 0.9 || len(hits[1].Methods) != 2 {
		t.Errorf("method tracking wrong for A: %+v", hits[1])
	}
}

func TestFuseRRFMaxResultsAndStubs(t *testing.T) {
	lists := []rankedList{{MethodVector, 1.0, []store.ScoredTheorem{
		{Theorem: record.Theorem{Name: "stub"}},
		{Theorem: theorem("A", "x", "y")},
		{Theorem: theorem("B", "x", "y")},
	}}}
	hits := fuseRRF(lists, 1)
	if len(hits) != 1 || hits[0].Theorem.Name != "A" {
		t.Errorf("unexpected hits %+v", hits)
	}
	if got := fuseRRF(nil, 10); len(got) != 0 {
		t.Errorf("expected no hits, got %d", len(got))
	}
}

func TestSearch(t *testing.T) {
	g := testGraph()
	g.similar = []store.ScoredTheorem{
		{Theorem: g.theorems["Coset Partition Lemma"], Score: 0.7},
		{Theorem: g.theorems["Lagrange's Theorem"], Score: 0.6},
	}
	s := NewSearcher(g, &replyProvider{}, SearchWeights{})

	hits, err := s.Search(context.Background(), "Lagrange's Theorem", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].Theorem.Name != "Lagrange's Theorem" {
		t.Fatalf("exact name should rank first, got %+v", hits)
	}

	hits, err = s.Search(context.Background(), "Number Theory", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	var names []string
	for _, h := range hits {
		names = append(names, h.Theorem.Name)
	}
	if !strings.Contains(strings.Join(names, "|"), "Fermat's Little Theorem") {
		t.Errorf("subject match missing: %v", names)
	}

	noVec := NewSearcher(g, nil, SearchWeights{})
	hits, err = noVec.Search(context.Background(), "Group Theory", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("domain search without embeddings = %+v", hits)
	}
}
