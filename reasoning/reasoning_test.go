package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brunobiangulo/theoremgraph/conversation"
	"github.com/brunobiangulo/theoremgraph/llm"
	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/retrieval"
)

type captureProvider struct {
	reply string
	err   error
	req   llm.ChatRequest
}

func (p *captureProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.req = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Content: p.reply, Model: "fake", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func (p *captureProvider) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

func (p *captureProvider) prompt() string {
	return p.req.Messages[len(p.req.Messages)-1].Content
}

func lagrangeResolution() retrieval.Resolution {
	return retrieval.Resolution{
		Name: "Lagrange's Theorem",
		Theorem: &record.Theorem{
			Name: "Lagrange's Theorem", Statement: "|H| divides |G|.", Proof: "Cosets partition G.",
			Subject: "Algebra", Domain: "Group Theory", Type: record.TypeTheorem,
		},
		Dependencies: []record.Theorem{
			{Name: "Coset Partition Lemma", Statement: "Cosets of H partition G.", Type: record.TypeLemma},
			{Name: "Index Formula"}, // stub
		},
		Examples: []record.Example{{Name: "Z6", Content: "Subgroups have orders 1, 2, 3, 6."}},
	}
}

func TestComposeGrounded(t *testing.T) {
	p := &captureProvider{reply: "  By Lagrange's theorem, the order of H divides 12.  "}
	c := NewComposer(p)
	history := []conversation.Turn{{Question: "What is a coset?", Answer: "gH"}}

	ans, err := c.Compose(context.Background(), "Can a group of order 12 have a subgroup of order 5?", history,
		[]retrieval.Resolution{lagrangeResolution(), {Name: "Missing"}})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !ans.Grounded {
		t.Error("expected grounded answer")
	}
	if ans.Text != "By Lagrange's theorem, the order of H divides 12." {
		t.Errorf("text not trimmed: %q", ans.Text)
	}
	if len(ans.Sources) != 2 || ans.Sources[1].DependencyOf != "Lagrange's Theorem" {
		t.Errorf("unexpected sources %+v", ans.Sources)
	}
	if len(ans.Cited) != 1 || ans.Cited[0] != "Lagrange's Theorem" {
		t.Errorf("cited = %v", ans.Cited)
	}
	if ans.TotalTokens != 15 || ans.ModelUsed != "fake" {
		t.Errorf("usage not carried: %+v", ans)
	}

	prompt := p.prompt()
	for _, want := range []string{
		"|H| divides |G|.", "Proof: Cosets partition G.", "Coset Partition Lemma: Cosets of H partition G.",
		"  - Index Formula", "Example (Z6)", "User: What is a coset?", "order 12",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("grounded prompt missing %q:\n%s", want, prompt)
		}
	}
	if p.req.Messages[0].Role != llm.RoleSystem {
		t.Error("expected system message first")
	}
}

func TestComposeUngrounded(t *testing.T) {
	p := &captureProvider{reply: "It is sunny."}
	c := NewComposer(p)

	ans, err := c.Compose(context.Background(), "What's the weather?", nil, []retrieval.Resolution{{Name: "Nothing"}})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if ans.Grounded || len(ans.Sources) != 0 {
		t.Errorf("expected ungrounded answer, got %+v", ans)
	}
	if strings.Contains(p.prompt(), "Relevant theorems") {
		t.Error("ungrounded prompt should not list theorems")
	}
}

func TestComposeFailure(t *testing.T) {
	boom := errors.New("model offline")
	c := NewComposer(&captureProvider{err: boom})
	if _, err := c.Compose(context.Background(), "q", nil, nil); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestCitedTheorems(t *testing.T) {
	sources := []Source{{Name: "Sylow I"}, {Name: "Sylow II"}, {Name: "Cauchy's Theorem"}, {Name: "Sylow I"}}

	tests := []struct {
		answer string
		want   string
	}{
		{"By Sylow II the subgroups are conjugate.", "Sylow II"},
		{"sylow i gives existence; SYLOW II conjugacy.", "Sylow I|Sylow II"},
		{"Apply Cauchy's theorem.", "Cauchy's Theorem"},
		{"Nothing relevant here.", ""},
	}
	for _, tt := range tests {
		got := strings.Join(CitedTheorems(tt.answer, sources), "|")
		if got != tt.want {
			t.Errorf("CitedTheorems(%q) = %q, want %q", tt.answer, got, tt.want)
		}
	}
}
