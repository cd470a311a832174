package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// ollamaMaxTextLength caps the input passed to the local embedding model.
const ollamaMaxTextLength = 2048

// Ollama adapts a local Ollama server for chat and embeddings.
type Ollama struct {
	baseClient
	embeddingModel string
	dimensions     int
}

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	BaseURL        string
	EmbeddingModel string
	Dimensions     int
	Timeout        time.Duration
}

// NewOllama creates an Ollama provider adapter.
func NewOllama(cfg OllamaConfig) *Ollama {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = 768 // nomic-embed-text
	}
	return &Ollama{
		baseClient:     newBaseClient("ollama", baseURL, "", cfg.Timeout),
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     dims,
	}
}

func (p *Ollama) Name() string    { return p.name }
func (p *Ollama) Dimensions() int { return p.dimensions }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Completion implements llm.ChatProvider.
func (p *Ollama) Completion(ctx context.Context, req *llm.ChatRequest) (string, error) {
	options := map[string]any{}
	if req.Options.Temperature > 0 {
		options["temperature"] = req.Options.Temperature
	}
	if req.Options.MaxTokens > 0 {
		options["num_predict"] = req.Options.MaxTokens
	}

	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
		Options:  options,
	}

	respBody, err := p.doRequest(ctx, "/api/chat", body, nil)
	if err != nil {
		return "", err
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	return resp.Message.Content, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed implements llm.EmbeddingProvider. Inputs beyond the local context
// window are truncated.
func (p *Ollama) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	input := make([]string, len(texts))
	for i, text := range texts {
		if len(text) > ollamaMaxTextLength {
			text = text[:ollamaMaxTextLength]
		}
		input[i] = text
	}

	body := ollamaEmbedRequest{Model: p.embeddingModel, Input: input}

	respBody, err := p.doRequest(ctx, "/api/embed", body, nil)
	if err != nil {
		return nil, err
	}

	var resp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, types.NewError(types.ErrUpstreamError, "embedding count mismatch").
			WithProvider(p.name).WithRetryable(true)
	}
	return resp.Embeddings, nil
}
