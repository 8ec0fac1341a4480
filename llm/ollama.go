package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// ollamaProvider implements Provider for Ollama's native API, which accepts
// the sampling options (top_k, top_p, num_ctx) the OpenAI-compatible
// endpoint ignores.
type ollamaProvider struct {
	base openAICompatClient
}

// NewOllama creates a provider for Ollama.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaProvider{base: newOpenAICompatClient(cfg)}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (p *ollamaProvider) options(req ChatRequest) map[string]any {
	opts := map[string]any{"temperature": req.Temperature}
	if p.base.cfg.TopK > 0 {
		opts["top_k"] = p.base.cfg.TopK
	}
	if p.base.cfg.TopP > 0 {
		opts["top_p"] = p.base.cfg.TopP
	}
	if p.base.cfg.NumCtx > 0 {
		opts["num_ctx"] = p.base.cfg.NumCtx
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	return opts
}

func (p *ollamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := ollamaChatRequest{
		Model:    p.base.model(req),
		Messages: req.Messages,
		Options:  p.options(req),
	}
	if req.ResponseFormat == "json_object" {
		body.Format = "json"
	}

	respBody, err := p.base.doPost(ctx, "/api/chat", body)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding ollama chat response: %w", err)
	}

	return &ChatResponse{
		Content:          resp.Message.Content,
		Model:            resp.Model,
		FinishReason:     resp.DoneReason,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}, nil
}

func (p *ollamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := ollamaEmbedRequest{
		Model: p.base.cfg.Model,
		Input: texts,
	}

	respBody, err := p.base.doPost(ctx, "/api/embed", body)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	var embedResp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &embedResp); err != nil {
		return nil, fmt.Errorf("decoding ollama embed response: %w", err)
	}

	result := make([][]float32, len(embedResp.Embeddings))
	for i, emb := range embedResp.Embeddings {
		result[i] = float64sToFloat32s(emb)
	}
	return result, nil
}

func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
