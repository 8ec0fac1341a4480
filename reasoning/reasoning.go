// Package reasoning composes the final answer from the resolved theorems.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/theoremgraph/conversation"
	"github.com/brunobiangulo/theoremgraph/llm"
	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/retrieval"
)

// GroundedPrompt answers from the theorems found in the graph.
var GroundedPrompt = llm.MustTemplate("answer_with_rag", `You are a mathematics assistant specialised in algebra with access to a knowledge graph of theorems.

Based on the following theorems from the knowledge graph, answer the user's question accurately and rigorously.

Relevant theorems:
{{.Theorems}}

Chat history:
{{.History}}

User question: {{.Question}}

Provide a clear, mathematically precise answer. Reference the theorems you use by name. When you explain how theorems connect, use their dependency relationships.`)

// UngroundedPrompt answers when no theorem could be resolved.
var UngroundedPrompt = llm.MustTemplate("answer_without_rag", `You are a mathematics assistant.

Based on the following chat history, answer the user's question accurately and rigorously.

Chat history:
{{.History}}

User question: {{.Question}}

Provide a clear, mathematically precise answer. If you rely on well-known theorems, reference them by name. If you do not know the answer, say so.`)

const systemPrompt = `You are a careful mathematician. Only state results you can justify. Preserve mathematical notation exactly.`

// Answer is the final output of a query.
type Answer struct {
	Text     string   `json:"answer"`
	Grounded bool     `json:"grounded"`
	Sources  []Source `json:"sources"`
	// Cited lists the source theorems the answer mentions by name.
	Cited            []string `json:"cited,omitempty"`
	ConversationID   string   `json:"conversation_id,omitempty"`
	ModelUsed        string   `json:"model_used"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	ElapsedMs        int64    `json:"elapsed_ms"`
}

// Source is a theorem placed in the answer prompt.
type Source struct {
	Name      string             `json:"name"`
	Statement string             `json:"statement"`
	Type      record.TheoremType `json:"type"`
	Subject   string             `json:"subject"`
	Domain    string             `json:"domain"`
	// DependencyOf names the resolved theorem this one was pulled in for.
	DependencyOf string `json:"dependency_of,omitempty"`
}

// Composer generates answers.
type Composer struct {
	chat llm.Provider
}

// NewComposer creates a composer over chat.
func NewComposer(chat llm.Provider) *Composer {
	return &Composer{chat: chat}
}

// Compose answers question. The grounded prompt is used when at least one
// resolution found a theorem; otherwise the ungrounded prompt is used.
func (c *Composer) Compose(ctx context.Context, question string, history []conversation.Turn, resolutions []retrieval.Resolution) (*Answer, error) {
	start := time.Now()
	sources := collectSources(resolutions)
	grounded := false
	for _, r := range resolutions {
		if r.Theorem != nil {
			grounded = true
			break
		}
	}

	tmpl := UngroundedPrompt
	vars := map[string]string{
		"History":  conversation.Format(history),
		"Question": question,
	}
	if grounded {
		tmpl = GroundedPrompt
		vars["Theorems"] = buildContext(resolutions)
	}

	resp, err := llm.Complete(ctx, c.chat, tmpl, vars, llm.WithSystem(systemPrompt))
	if err != nil {
		return nil, fmt.Errorf("reasoning: generating answer: %w", err)
	}
	elapsed := time.Since(start)
	slog.Info("reasoning: answer generated", "grounded", grounded, "sources", len(sources),
		"tokens", resp.TotalTokens, "elapsed", elapsed.Round(time.Millisecond))

	text := strings.TrimSpace(resp.Content)
	return &Answer{
		Text:             text,
		Grounded:         grounded,
		Sources:          sources,
		Cited:            CitedTheorems(text, sources),
		ModelUsed:        resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		ElapsedMs:        elapsed.Milliseconds(),
	}, nil
}

// collectSources flattens resolutions into unique sources, resolved
// theorems first, then their dependencies. Stubs carry no statement and are
// skipped.
func collectSources(resolutions []retrieval.Resolution) []Source {
	seen := make(map[string]bool)
	var out []Source
	add := func(t record.Theorem, parent string) {
		if t.IsStub() || seen[t.Name] {
			return
		}
		seen[t.Name] = true
		out = append(out, Source{
			Name: t.Name, Statement: t.Statement, Type: t.Type,
			Subject: t.Subject, Domain: t.Domain, DependencyOf: parent,
		})
	}
	for _, r := range resolutions {
		if r.Theorem != nil {
			add(*r.Theorem, "")
		}
	}
	for _, r := range resolutions {
		if r.Theorem == nil {
			continue
		}
		for _, d := range r.Dependencies {
			add(d, r.Theorem.Name)
		}
	}
	return out
}

// buildContext renders the resolved theorems for the grounded prompt.
func buildContext(resolutions []retrieval.Resolution) string {
	var b strings.Builder
	for _, r := range resolutions {
		if r.Theorem == nil {
			continue
		}
		t := r.Theorem
		fmt.Fprintf(&b, "--- %s (%s; %s / %s) ---\n", t.Name, t.Type, t.Subject, t.Domain)
		fmt.Fprintf(&b, "Statement: %s\n", t.Statement)
		if t.Proof != "" && t.Proof != record.ProofNotProvided {
			fmt.Fprintf(&b, "Proof: %s\n", t.Proof)
		}
		if len(r.Dependencies) > 0 {
			b.WriteString("Depends on:\n")
			for _, d := range r.Dependencies {
				if d.IsStub() {
					fmt.Fprintf(&b, "  - %s\n", d.Name)
					continue
				}
				fmt.Fprintf(&b, "  - %s: %s\n", d.Name, d.Statement)
			}
		}
		for _, ex := range r.Examples {
			fmt.Fprintf(&b, "Example (%s): %s\n", ex.Name, ex.Content)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
