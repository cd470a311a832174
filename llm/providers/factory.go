package providers

import (
	"github.com/BaSui01/graphflow/config"
	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// FromConfig builds the chat and embedding providers selected by the
// configuration. Anthropic deployments fall back to OpenAI embeddings when an
// OpenAI key is present, since Anthropic exposes no embeddings endpoint.
func FromConfig(cfg config.LLMConfig) (llm.ChatProvider, llm.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "openai":
		p, err := NewOpenAI(OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil

	case "anthropic":
		chat, err := NewAnthropic(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		var embeddings llm.EmbeddingProvider
		if cfg.OpenAIAPIKey != "" {
			oa, err := NewOpenAI(OpenAIConfig{
				APIKey:         cfg.OpenAIAPIKey,
				BaseURL:        cfg.OpenAIBaseURL,
				EmbeddingModel: cfg.EmbeddingModel,
				Timeout:        cfg.Timeout,
			})
			if err != nil {
				return nil, nil, err
			}
			embeddings = oa
		}
		return chat, embeddings, nil

	case "ollama":
		p := NewOllama(OllamaConfig{
			BaseURL:        cfg.OllamaBaseURL,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
		})
		return p, p, nil

	default:
		return nil, nil, types.NewError(types.ErrConfiguration, "unsupported provider "+cfg.Provider)
	}
}
