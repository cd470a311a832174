package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/rag"
	"github.com/BaSui01/graphflow/workflow"
)

// SearchBackend is the slice of the retriever the search agent uses. An empty
// corpus name selects the active knowledge base.
type SearchBackend interface {
	Retrieve(ctx context.Context, corpus, query string, k int, rerank bool, rerankK int) ([]rag.Hit, error)
}

// SemanticSearch queries the knowledge base and publishes ranked snippets for
// downstream agents. It consumes the embedding model, not a chat model.
type SemanticSearch struct {
	retriever SearchBackend
	logger    *zap.Logger
}

// NewSemanticSearch creates the search handler.
func NewSemanticSearch(retriever SearchBackend, logger *zap.Logger) *SemanticSearch {
	return &SemanticSearch{
		retriever: retriever,
		logger:    logger.With(zap.String("agent", "semantic_search")),
	}
}

// Execute implements workflow.Handler.
func (a *SemanticSearch) Execute(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	topK := settingInt(req.Settings, "topK", 5)
	rerank := settingBool(req.Settings, "enableReranking", true)

	metadata := map[string]any{
		"model": "embedding",
		"top_k": topK,
	}

	if a.retriever == nil {
		return &workflow.Result{
			Action:   "search",
			Content:  "Found 0 relevant documents",
			Metadata: metadata,
		}, nil
	}

	// A search_guidance context value, when present, replaces the raw user
	// query.
	query := req.UserMessage
	if guidance := contextString(req.Context, "search_guidance"); guidance != "" {
		query = guidance
	}

	hits, err := a.retriever.Retrieve(ctx, "", query, topK, rerank, topK*3)
	if err != nil {
		return nil, err
	}

	snippets := make([]string, 0, len(hits))
	results := make([]any, 0, len(hits))
	docs := make([]any, 0, len(hits))
	for _, hit := range hits {
		snippets = append(snippets, fmt.Sprintf("[%s] %s", hit.Title, hit.Snippet))
		results = append(results, map[string]any{
			"title":      hit.Title,
			"snippet":    hit.Snippet,
			"score":      hit.Score,
			"score_type": hit.ScoreType,
			"source":     hit.Source,
		})
		shortSnippet := hit.Snippet
		if len(shortSnippet) > 500 {
			shortSnippet = shortSnippet[:500]
		}
		docs = append(docs, map[string]any{
			"title":      hit.Title,
			"snippet":    shortSnippet,
			"score":      hit.Score,
			"score_type": hit.ScoreType,
		})
	}

	metadata["num_results"] = len(hits)
	metadata["reranked"] = rerank && len(hits) > 1
	metadata["docs"] = docs

	return &workflow.Result{
		Action:   "search",
		Content:  fmt.Sprintf("Found %d relevant documents", len(hits)),
		Metadata: metadata,
		ContextUpdates: map[string]any{
			workflow.KeySemanticResults: results,
			workflow.KeyContextSnippets: snippets,
			workflow.KeyDocs:            docs,
		},
	}, nil
}
