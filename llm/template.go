package llm

import (
	"context"
	"fmt"
	"strings"
	"text/template"
)

// Template is a named prompt with {{.Field}} placeholders.
type Template struct {
	name string
	tmpl *template.Template
}

// NewTemplate parses a prompt template. Missing keys are an error at render
// time so a misnamed variable never produces a silently empty prompt.
func NewTemplate(name, text string) (*Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt %q: %w", name, err)
	}
	return &Template{name: name, tmpl: t}, nil
}

// MustTemplate is NewTemplate for package-level prompts.
func MustTemplate(name, text string) *Template {
	t, err := NewTemplate(name, text)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Render fills the template with vars.
func (t *Template) Render(vars any) (string, error) {
	var b strings.Builder
	if err := t.tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("rendering prompt %q: %w", t.name, err)
	}
	return b.String(), nil
}

// CompleteOption adjusts the request built by Complete.
type CompleteOption func(*ChatRequest)

// WithJSON asks the provider for a JSON object response.
func WithJSON() CompleteOption {
	return func(r *ChatRequest) { r.ResponseFormat = "json_object" }
}

// WithSystem prepends a system message.
func WithSystem(content string) CompleteOption {
	return func(r *ChatRequest) {
		r.Messages = append([]Message{{Role: RoleSystem, Content: content}}, r.Messages...)
	}
}

// Complete renders tmpl with vars and sends it to p as a single user message.
func Complete(ctx context.Context, p Provider, tmpl *Template, vars any, opts ...CompleteOption) (*ChatResponse, error) {
	prompt, err := tmpl.Render(vars)
	if err != nil {
		return nil, err
	}
	req := ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	}
	for _, o := range opts {
		o(&req)
	}
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tmpl.name, err)
	}
	return resp, nil
}
