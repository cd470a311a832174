package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/types"
)

// Cache is an optional read-through cache for chat completions. Implementations
// must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Key(provider, model string, messages []types.Message, opts ChatOptions) string
}

// Gateway is the uniform call surface over chat and embedding providers. It is
// configured once at startup; the rest of the system does not know which
// provider is in use.
type Gateway struct {
	chat       ChatProvider
	embeddings EmbeddingProvider
	models     map[ModelClass]string
	retry      RetryPolicy
	cache      Cache
	logger     *zap.Logger
}

// GatewayOption customises gateway construction.
type GatewayOption func(*Gateway)

// WithCache attaches a completion cache.
func WithCache(cache Cache) GatewayOption {
	return func(g *Gateway) { g.cache = cache }
}

// WithRetryPolicy overrides the default retry schedule.
func WithRetryPolicy(policy RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.retry = policy }
}

// NewGateway creates a gateway over the given providers. The embeddings
// provider may be nil when the deployment has no retrieval corpus.
func NewGateway(chat ChatProvider, embeddings EmbeddingProvider, smallModel, largeModel string, logger *zap.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		chat:       chat,
		embeddings: embeddings,
		models: map[ModelClass]string{
			ModelSmall: smallModel,
			ModelLarge: largeModel,
		},
		retry:  DefaultRetryPolicy(),
		logger: logger.With(zap.String("component", "model_gateway")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model resolves a model class to the configured model identifier.
func (g *Gateway) Model(class ModelClass) string {
	return g.models[class]
}

// Provider returns the chat provider name.
func (g *Gateway) Provider() string {
	if g.chat == nil {
		return ""
	}
	return g.chat.Name()
}

// Chat sends an ordered message list to the model of the given class and
// returns the assistant text. Transport failures are retried per policy before
// surfacing as a retryable error.
func (g *Gateway) Chat(ctx context.Context, class ModelClass, messages []types.Message, opts ChatOptions) (string, error) {
	if g.chat == nil {
		return "", types.NewError(types.ErrConfiguration, "no chat provider configured")
	}

	model, ok := g.models[class]
	if !ok || model == "" {
		return "", types.NewError(types.ErrConfiguration, "no model configured for class "+string(class))
	}

	ctx, span := otel.Tracer("graphflow/llm").Start(ctx, "gateway.chat")
	span.SetAttributes(
		attribute.String("llm.provider", g.chat.Name()),
		attribute.String("llm.model", model),
	)
	defer span.End()

	var cacheKey string
	if g.cache != nil {
		cacheKey = g.cache.Key(g.chat.Name(), model, messages, opts)
		if cached, ok := g.cache.Get(ctx, cacheKey); ok {
			g.logger.Debug("completion cache hit", zap.String("model", model))
			return cached, nil
		}
	}

	req := &ChatRequest{Model: model, Messages: messages, Options: opts}
	text, err := retryDo(ctx, g.retry, g.logger, func() (string, error) {
		return g.chat.Completion(ctx, req)
	})
	if err != nil {
		return "", err
	}

	if g.cache != nil {
		g.cache.Set(ctx, cacheKey, text)
	}
	return text, nil
}

// Embed returns one vector per input text, in input order.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if g.embeddings == nil {
		return nil, types.NewError(types.ErrConfiguration, "no embedding provider configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := otel.Tracer("graphflow/llm").Start(ctx, "gateway.embed")
	span.SetAttributes(
		attribute.String("llm.provider", g.embeddings.Name()),
		attribute.Int("llm.input_count", len(texts)),
	)
	defer span.End()

	return retryDo(ctx, g.retry, g.logger, func() ([][]float64, error) {
		vectors, err := g.embeddings.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, types.NewError(types.ErrUpstreamError, "embedding count mismatch").
				WithProvider(g.embeddings.Name()).WithRetryable(true)
		}
		return vectors, nil
	})
}

// EmbeddingDimensions reports the configured embedding dimension, 0 when no
// embedding provider is configured.
func (g *Gateway) EmbeddingDimensions() int {
	if g.embeddings == nil {
		return 0
	}
	return g.embeddings.Dimensions()
}
