// Package llm provides the uniform model gateway over chat-completion and
// embedding providers. Callers address models by class (small or large), never
// by provider-specific identifiers.
package llm

import (
	"context"

	"github.com/BaSui01/graphflow/types"
)

// ModelClass selects a model tier without naming a concrete model.
type ModelClass string

const (
	// ModelSmall is the cheap, fast tier used for routing, reranking, and
	// lightweight generation.
	ModelSmall ModelClass = "small"
	// ModelLarge is the capable tier used for synthesis and document analysis.
	ModelLarge ModelClass = "large"
)

// ChatOptions carries per-call sampling parameters.
type ChatOptions struct {
	Temperature float32
	MaxTokens   int
}

// ChatRequest is a fully resolved provider request.
type ChatRequest struct {
	Model    string
	Messages []types.Message
	Options  ChatOptions
}

// ChatProvider is the provider-side chat contract.
type ChatProvider interface {
	// Completion sends a chat request and returns the assistant text.
	Completion(ctx context.Context, req *ChatRequest) (string, error)

	// Name returns the provider identifier.
	Name() string
}

// EmbeddingProvider is the provider-side embedding contract. Vectors are
// returned in the caller-supplied order, all of the configured dimension.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
	Name() string
}
