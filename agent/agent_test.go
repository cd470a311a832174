package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/rag"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
)

// scriptedGateway returns canned completions and records prompts.
type scriptedGateway struct {
	responses []string
	calls     int
	lastClass llm.ModelClass
	prompts   []string
}

func (g *scriptedGateway) Chat(ctx context.Context, class llm.ModelClass, messages []types.Message, opts llm.ChatOptions) (string, error) {
	g.lastClass = class
	var all []string
	for _, m := range messages {
		all = append(all, m.Content)
	}
	g.prompts = append(g.prompts, strings.Join(all, "\n---\n"))

	i := g.calls
	g.calls++
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (g *scriptedGateway) Model(class llm.ModelClass) string {
	if class == llm.ModelLarge {
		return "large-model"
	}
	return "small-model"
}

// fixedRetriever returns canned hits.
type fixedRetriever struct {
	hits   []rag.Hit
	err    error
	lastK  int
	called int

	lastQuery string
}

func (r *fixedRetriever) Retrieve(ctx context.Context, corpus, query string, k int, rerank bool, rerankK int) ([]rag.Hit, error) {
	r.called++
	r.lastK = k
	r.lastQuery = query
	if r.err != nil {
		return nil, r.err
	}
	if k > len(r.hits) {
		k = len(r.hits)
	}
	return r.hits[:k], nil
}

func request(message string, settings, context map[string]any) workflow.Request {
	if context == nil {
		context = map[string]any{}
	}
	return workflow.Request{
		UserMessage: message,
		Context:     context,
		Settings:    settings,
		ModelClass:  llm.ModelSmall,
	}
}

func TestOrchestrator_SelectsValidTools(t *testing.T) {
	gw := &scriptedGateway{responses: []string{
		`{"selected_tools": ["s1", "ghost"], "reasoning": "search is needed"}`,
	}}
	a := NewOrchestrator(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), request("find the policy", nil, map[string]any{
		workflow.KeyAvailableTools: []string{"s1", "i1"},
	}))
	require.NoError(t, err)

	selected := result.ContextUpdates[workflow.KeySelectedTools].([]string)
	assert.Equal(t, []string{"s1"}, selected, "hallucinated node ids are dropped")
	assert.Contains(t, result.Content, "s1")
}

func TestOrchestrator_FallbackOnGarbage(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"definitely not json"}}
	a := NewOrchestrator(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), request("q", nil, map[string]any{
		workflow.KeyAvailableTools: []string{"s1"},
	}))
	require.NoError(t, err)

	selected := result.ContextUpdates[workflow.KeySelectedTools].([]string)
	assert.Empty(t, selected, "unparseable decision selects no tools")
}

func TestOrchestrator_CodeFencedJSON(t *testing.T) {
	gw := &scriptedGateway{responses: []string{
		"```json\n{\"selected_tools\": [\"i1\"], \"image_prompt\": \"a flow diagram\", \"image_type\": \"diagram\"}\n```",
	}}
	a := NewOrchestrator(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), request("draw a diagram", nil, map[string]any{
		workflow.KeyAvailableTools: []string{"s1", "i1"},
	}))
	require.NoError(t, err)

	orchestrated := result.ContextUpdates[workflow.KeyOrchestratorResult].(map[string]any)
	assert.Equal(t, "a flow diagram", orchestrated["image_prompt"])
	assert.Equal(t, "diagram", orchestrated["image_type"])
}

func TestSemanticSearch_PublishesResults(t *testing.T) {
	retriever := &fixedRetriever{hits: []rag.Hit{
		{Title: "HACCP Guide", Snippet: "hazard analysis basics", Score: 0.91, ScoreType: "reranked", Source: "haccp.md"},
		{Title: "Controls", Snippet: "ccp details", Score: 0.84, ScoreType: "reranked", Source: "controls.md"},
	}}
	a := NewSemanticSearch(retriever, zap.NewNop())

	result, err := a.Execute(context.Background(), request("What is HACCP?",
		map[string]any{"topK": float64(2)}, nil))
	require.NoError(t, err)

	assert.Equal(t, "Found 2 relevant documents", result.Content)
	assert.Equal(t, 2, retriever.lastK)

	snippets := result.ContextUpdates[workflow.KeyContextSnippets].([]string)
	require.Len(t, snippets, 2)
	assert.Equal(t, "[HACCP Guide] hazard analysis basics", snippets[0])

	results := result.ContextUpdates[workflow.KeySemanticResults].([]any)
	first := results[0].(map[string]any)
	assert.Equal(t, 0.91, first["score"])
	assert.Equal(t, "haccp.md", first["source"])
	assert.Equal(t, "embedding", result.Metadata["model"])
}

func TestSemanticSearch_UsesSearchGuidance(t *testing.T) {
	retriever := &fixedRetriever{}
	a := NewSemanticSearch(retriever, zap.NewNop())

	_, err := a.Execute(context.Background(), request("original query", nil, map[string]any{
		"search_guidance": "refined query terms",
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, retriever.called)
	assert.Equal(t, "refined query terms", retriever.lastQuery)
}

func TestSampler_ParsesCandidates(t *testing.T) {
	gw := &scriptedGateway{responses: []string{
		"[1] First detailed answer about the topic.\nIt continues here.\n[2] Second angle on the question.\n[3] Third perspective.",
	}}
	a := NewSampler(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), request("q",
		map[string]any{"numResponses": float64(3)},
		map[string]any{workflow.KeyContextSnippets: []string{"[Doc] some real context"}}))
	require.NoError(t, err)

	candidates := result.ContextUpdates[workflow.KeyCandidates].([]string)
	require.Len(t, candidates, 3)
	assert.Equal(t, "First detailed answer about the topic. It continues here.", candidates[0])
	assert.Equal(t, "Second angle on the question.", candidates[1])
	assert.Equal(t, 3, result.Metadata["num_candidates"])
}

func TestSampler_UnnumberedResponseKeptWhole(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"just one flowing answer without numbering"}}
	a := NewSampler(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), request("q", nil,
		map[string]any{workflow.KeyContextSnippets: []string{"real context"}}))
	require.NoError(t, err)

	candidates := result.ContextUpdates[workflow.KeyCandidates].([]string)
	require.Len(t, candidates, 1)
	assert.Equal(t, "just one flowing answer without numbering", candidates[0])
}

func TestSynthesis_WritesFinalAnswer(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"HACCP is a preventive system [1]."}}
	a := NewSynthesis(gw, zap.NewNop())

	req := request("What is HACCP?", map[string]any{"maxWords": float64(100)}, map[string]any{
		workflow.KeyContextSnippets: []string{"[Guide] hazard analysis"},
		workflow.KeyCandidates:      []string{"candidate one"},
		workflow.KeyDocs:            []any{map[string]any{"title": "Guide"}},
	})
	req.ModelClass = llm.ModelLarge

	result, err := a.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "HACCP is a preventive system [1].", result.ContextUpdates[workflow.KeyFinalAnswer])
	assert.Equal(t, llm.ModelLarge, gw.lastClass)
	assert.Contains(t, gw.prompts[0], "[Source 1]")
	assert.Contains(t, gw.prompts[0], "Candidate 1")
	assert.Contains(t, gw.prompts[0], "[1] Guide", "source list offered for citations")
}

func TestSummarization_NoContent(t *testing.T) {
	gw := &scriptedGateway{}
	a := NewSummarization(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), workflow.Request{
		Context:  map[string]any{},
		Settings: nil,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Err, "missing content is a recoverable error")
	assert.Zero(t, gw.calls, "no model call without content")
}

func TestSummarization_PassesSummaryDownstream(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"short summary"}}
	a := NewSummarization(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), request("q", nil, map[string]any{
		workflow.KeyInputContent: "a very long body of text to compress",
	}))
	require.NoError(t, err)

	assert.Equal(t, "short summary", result.ContextUpdates[workflow.KeySummary])
	assert.Equal(t, "short summary", result.ContextUpdates[workflow.KeyInputContent])
}

func TestTransformer_StripsCodeFence(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"```csv\nItem,Qty\nApples,4\n```"}}
	a := NewTransformer(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), request("extract", nil, map[string]any{
		workflow.KeyUploadedContent: "Apples 4",
	}))
	require.NoError(t, err)

	assert.Equal(t, "Item,Qty\nApples,4", result.Content)
	assert.Equal(t, "Item,Qty\nApples,4", result.ContextUpdates[workflow.KeyTransformedContent])
	assert.Equal(t, llm.ModelLarge, gw.lastClass, "deep extraction defaults to the large tier")
}

func TestTransformer_CustomColumnsInPrompt(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"A,B\n1,2"}}
	a := NewTransformer(gw, zap.NewNop())

	_, err := a.Execute(context.Background(), request("extract",
		map[string]any{"customColumns": "Vendor, Amount , Date"},
		map[string]any{workflow.KeyInputContent: "doc"}))
	require.NoError(t, err)

	assert.Contains(t, gw.prompts[0], "Vendor, Amount, Date")
}

func TestTranslator_IdentityLanguage(t *testing.T) {
	gw := &scriptedGateway{}
	a := NewTranslator(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), request("q",
		map[string]any{"sourceLanguage": "en", "targetLanguage": "en"},
		map[string]any{workflow.KeyInputContent: "unchanged text"}))
	require.NoError(t, err)

	assert.Equal(t, "unchanged text", result.Content)
	assert.Zero(t, gw.calls, "same-language translation skips the model")
}

func TestTranslator_TranslatesAndPreservesKey(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"texte traduit"}}
	a := NewTranslator(gw, zap.NewNop())

	result, err := a.Execute(context.Background(), request("q",
		map[string]any{"targetLanguage": "fr"},
		map[string]any{workflow.KeyFinalAnswer: "translated text"}))
	require.NoError(t, err)

	assert.Equal(t, "texte traduit", result.ContextUpdates[workflow.KeyTranslatedContent])
	assert.Contains(t, gw.prompts[0], "French")
}

func TestImageGenerator_NoBackend(t *testing.T) {
	a := NewImageGenerator(nil, zap.NewNop())

	result, err := a.Execute(context.Background(), request("draw a cat", nil, nil))
	require.NoError(t, err)
	assert.NotEmpty(t, result.Err)
}

type fakeImageBackend struct{ fail bool }

func (f *fakeImageBackend) Generate(ctx context.Context, prompt, style string) (string, error) {
	if f.fail {
		return "", errors.New("quota exhausted")
	}
	return "data:image/png;base64,abc", nil
}

func (f *fakeImageBackend) Name() string { return "fake-images" }

func TestImageGenerator_UsesOrchestratorPrompt(t *testing.T) {
	a := NewImageGenerator(&fakeImageBackend{}, zap.NewNop())

	result, err := a.Execute(context.Background(), request("original message", nil, map[string]any{
		workflow.KeyOrchestratorResult: map[string]any{
			"image_prompt": "a refined diagram prompt",
			"image_type":   "diagram",
		},
	}))
	require.NoError(t, err)

	images := result.ContextUpdates["images"].([]any)
	require.Len(t, images, 1)
	image := images[0].(map[string]any)
	assert.Equal(t, "a refined diagram prompt", image["prompt"])
	assert.Equal(t, "diagram", image["style"])
	assert.Equal(t, "data:image/png;base64,abc", image["url"])
}

func TestImageGenerator_BackendFailureIsRecoverable(t *testing.T) {
	a := NewImageGenerator(&fakeImageBackend{fail: true}, zap.NewNop())

	result, err := a.Execute(context.Background(), request("draw", nil, nil))
	require.NoError(t, err)
	assert.Contains(t, result.Err, "quota exhausted")
	assert.Nil(t, result.ContextUpdates)
}

func TestSupervisor_AutoRAGPublishesContext(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"QUERY ANALYSIS: ..."}}
	retriever := &fixedRetriever{hits: []rag.Hit{
		{Title: "Doc", Snippet: "relevant content", Score: 0.8, Source: "doc.md"},
	}}
	a := NewSupervisor(gw, retriever, zap.NewNop())

	result, err := a.Execute(context.Background(), request("q",
		map[string]any{"autoRAG": true},
		map[string]any{workflow.KeyGraphNodes: []string{"p1", "sp1", "r1"}}))
	require.NoError(t, err)

	assert.Equal(t, 1, retriever.called)
	assert.NotEmpty(t, result.ContextUpdates[workflow.KeySemanticResults])
	assert.Equal(t, "QUERY ANALYSIS: ...", result.ContextUpdates[workflow.KeySupervisorPlan])
	assert.Contains(t, gw.prompts[0], "- p1", "workflow nodes listed in the prompt")
}

func TestSupervisor_DocumentAnalysisUsesLargeModel(t *testing.T) {
	gw := &scriptedGateway{responses: []string{"plan"}}
	a := NewSupervisor(gw, nil, zap.NewNop())

	_, err := a.Execute(context.Background(), request("q", nil, map[string]any{
		workflow.KeyUploadedContent: "a big uploaded document",
	}))
	require.NoError(t, err)
	assert.Equal(t, llm.ModelLarge, gw.lastClass)
	assert.Contains(t, gw.prompts[0], "A document has been uploaded")
}
