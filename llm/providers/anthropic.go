package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// Anthropic adapts the Anthropic Messages API. Anthropic has no embeddings
// endpoint; deployments selecting it pair it with another embedding provider.
type Anthropic struct {
	baseClient
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewAnthropic creates an Anthropic provider adapter.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "anthropic: API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &Anthropic{
		baseClient: newBaseClient("anthropic", baseURL, cfg.APIKey, cfg.Timeout),
	}, nil
}

func (p *Anthropic) Name() string { return p.name }

type anthropicRequest struct {
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Messages  []types.Message `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	// Temperature is a pointer so that zero is distinguishable from unset.
	Temperature *float32 `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Completion implements llm.ChatProvider. System-role messages are lifted into
// the dedicated system field expected by the Messages API.
func (p *Anthropic) Completion(ctx context.Context, req *llm.ChatRequest) (string, error) {
	var system string
	messages := make([]types.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		messages = append(messages, m)
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	body := anthropicRequest{
		Model:     req.Model,
		System:    system,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Options.Temperature > 0 {
		t := req.Options.Temperature
		body.Temperature = &t
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	}

	respBody, err := p.doRequest(ctx, "/messages", body, headers)
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode messages response: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", types.NewError(types.ErrUpstreamError, "empty content in messages response").
			WithProvider(p.name).WithRetryable(true)
	}
	return text, nil
}
