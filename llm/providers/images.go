package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/graphflow/types"
)

// DallE adapts the OpenAI image generation API.
type DallE struct {
	baseClient
	model string
}

// DallEConfig configures the image adapter.
type DallEConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewDallE creates the image provider adapter.
func NewDallE(cfg DallEConfig) (*DallE, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "dalle: API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "dall-e-3"
	}
	return &DallE{
		baseClient: newBaseClient("dalle", baseURL, cfg.APIKey, cfg.Timeout),
		model:      model,
	}, nil
}

func (p *DallE) Name() string { return p.name }

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// Generate renders one image and returns it as a data URL (or the provider's
// hosted URL when base64 is unavailable).
func (p *DallE) Generate(ctx context.Context, prompt, style string) (string, error) {
	fullPrompt := prompt
	if style != "" && style != "photo" {
		fullPrompt = fmt.Sprintf("%s, rendered as a %s", prompt, style)
	}

	body := imageRequest{
		Model:          p.model,
		Prompt:         fullPrompt,
		N:              1,
		Size:           "1024x1024",
		ResponseFormat: "b64_json",
	}

	respBody, err := p.doRequest(ctx, "/images/generations", body, map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	})
	if err != nil {
		return "", err
	}

	var resp imageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode image response: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", types.NewError(types.ErrUpstreamError, "no image in response").WithProvider(p.name)
	}
	if resp.Data[0].B64JSON != "" {
		return "data:image/png;base64," + resp.Data[0].B64JSON, nil
	}
	return resp.Data[0].URL, nil
}
