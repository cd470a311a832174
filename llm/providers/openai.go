package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// openAIDimensions maps known embedding models to their vector dimension.
var openAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAI adapts the OpenAI-compatible chat and embeddings API.
type OpenAI struct {
	baseClient
	embeddingModel string
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
}

// NewOpenAI creates an OpenAI provider adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "openai: API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		baseClient:     newBaseClient("openai", baseURL, cfg.APIKey, cfg.Timeout),
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

func (p *OpenAI) Name() string { return p.name }

// Dimensions returns the embedding dimension for the configured model.
func (p *OpenAI) Dimensions() int {
	if d, ok := openAIDimensions[p.embeddingModel]; ok {
		return d
	}
	return 1536
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Completion implements llm.ChatProvider.
func (p *OpenAI) Completion(ctx context.Context, req *llm.ChatRequest) (string, error) {
	body := openAIChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Options.Temperature,
		MaxTokens:   req.Options.MaxTokens,
	}

	respBody, err := p.doRequest(ctx, "/chat/completions", body, p.authHeaders())
	if err != nil {
		return "", err
	}

	var resp openAIChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", types.NewError(types.ErrUpstreamError, "empty choices in chat response").
			WithProvider(p.name).WithRetryable(true)
	}
	return resp.Choices[0].Message.Content, nil
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements llm.EmbeddingProvider.
func (p *OpenAI) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body := openAIEmbeddingRequest{Model: p.embeddingModel, Input: texts}

	respBody, err := p.doRequest(ctx, "/embeddings", body, p.authHeaders())
	if err != nil {
		return nil, err
	}

	var resp openAIEmbeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, types.NewError(types.ErrUpstreamError, "embedding index out of range").WithProvider(p.name)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (p *OpenAI) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}
