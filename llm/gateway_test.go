package llm

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/types"
)

type stubChatProvider struct {
	mu        sync.Mutex
	calls     int
	responses []string
	errs      []error
}

func (s *stubChatProvider) Completion(ctx context.Context, req *ChatRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "default", nil
}

func (s *stubChatProvider) Name() string { return "stub" }

type stubEmbeddingProvider struct {
	dims  int
	calls int
}

func (s *stubEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	s.calls++
	vectors := make([][]float64, len(texts))
	for i := range texts {
		v := make([]float64, s.dims)
		v[0] = float64(len(texts[i]))
		vectors[i] = v
	}
	return vectors, nil
}

func (s *stubEmbeddingProvider) Dimensions() int { return s.dims }
func (s *stubEmbeddingProvider) Name() string    { return "stub" }

func TestGateway_ChatResolvesModelClass(t *testing.T) {
	chat := &stubChatProvider{responses: []string{"hi"}}
	g := NewGateway(chat, nil, "small-model", "large-model", zap.NewNop())

	assert.Equal(t, "small-model", g.Model(ModelSmall))
	assert.Equal(t, "large-model", g.Model(ModelLarge))

	text, err := g.Chat(context.Background(), ModelSmall, []types.Message{types.UserMessage("hey")}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestGateway_ChatRetriesTransientFailure(t *testing.T) {
	transient := types.NewError(types.ErrUpstreamError, "connection reset").WithRetryable(true)
	chat := &stubChatProvider{
		errs:      []error{transient, transient},
		responses: []string{"", "", "recovered"},
	}
	g := NewGateway(chat, nil, "s", "l", zap.NewNop())

	text, err := g.Chat(context.Background(), ModelSmall, []types.Message{types.UserMessage("q")}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 3, chat.calls, "two retries after the initial attempt")
}

func TestGateway_ChatDoesNotRetryNonRetryable(t *testing.T) {
	fatal := types.NewError(types.ErrUnauthorized, "bad key")
	chat := &stubChatProvider{errs: []error{fatal}}
	g := NewGateway(chat, nil, "s", "l", zap.NewNop())

	_, err := g.Chat(context.Background(), ModelSmall, []types.Message{types.UserMessage("q")}, ChatOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnauthorized, types.GetErrorCode(err))
	assert.Equal(t, 1, chat.calls)
}

func TestGateway_ChatExhaustsRetries(t *testing.T) {
	transient := types.NewError(types.ErrUpstreamError, "down").WithRetryable(true)
	chat := &stubChatProvider{errs: []error{transient, transient, transient, transient}}
	g := NewGateway(chat, nil, "s", "l", zap.NewNop())

	_, err := g.Chat(context.Background(), ModelSmall, []types.Message{types.UserMessage("q")}, ChatOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.Equal(t, 3, chat.calls)
}

func TestGateway_ChatMissingProvider(t *testing.T) {
	g := NewGateway(nil, nil, "s", "l", zap.NewNop())
	_, err := g.Chat(context.Background(), ModelSmall, nil, ChatOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestGateway_EmbedPreservesOrder(t *testing.T) {
	emb := &stubEmbeddingProvider{dims: 4}
	g := NewGateway(nil, emb, "s", "l", zap.NewNop())

	vectors, err := g.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, 1.0, vectors[0][0])
	assert.Equal(t, 2.0, vectors[1][0])
	assert.Equal(t, 3.0, vectors[2][0])
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
}

func TestGateway_EmbedEmptyInput(t *testing.T) {
	emb := &stubEmbeddingProvider{dims: 4}
	g := NewGateway(nil, emb, "s", "l", zap.NewNop())

	vectors, err := g.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, emb.calls, "no provider call for empty input")
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *mapCache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(ctx context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *mapCache) Key(provider, model string, messages []types.Message, opts ChatOptions) string {
	key := provider + "|" + model
	for _, m := range messages {
		key += "|" + string(m.Role) + ":" + m.Content
	}
	return key
}

func TestGateway_ChatUsesCache(t *testing.T) {
	chat := &stubChatProvider{responses: []string{"first"}}
	g := NewGateway(chat, nil, "s", "l", zap.NewNop(), WithCache(&mapCache{data: map[string]string{}}))

	messages := []types.Message{types.UserMessage("q")}

	text, err := g.Chat(context.Background(), ModelSmall, messages, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", text)

	text, err = g.Chat(context.Background(), ModelSmall, messages, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", text)
	assert.Equal(t, 1, chat.calls, "second call served from cache")
}
