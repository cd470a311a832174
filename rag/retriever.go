package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// rerankSnippetTokens caps each candidate snippet in the rerank prompt.
const rerankSnippetTokens = 300

// rerankPrompt is the fixed template sent to the small model. The response is
// expected to be a JSON array of 1-based indices ordered by relevance.
const rerankPrompt = `You are a document relevance ranker. Rank the numbered documents below by relevance to the query, most relevant first.

Query: %s

Documents:
%s

Output ONLY a JSON array with the document numbers in relevance order, most relevant first. Example: [3, 1, 2]`

// Chatter is the slice of the model gateway the retriever uses for reranking.
type Chatter interface {
	Chat(ctx context.Context, class llm.ModelClass, messages []types.Message, opts llm.ChatOptions) (string, error)
}

// Retriever answers semantic queries over one of several corpora.
type Retriever struct {
	store         Store
	gateway       Chatter
	embedder      Embedder
	snippetBudget int
	logger        *zap.Logger
	encoder       *tiktoken.Tiktoken

	mu           sync.RWMutex
	activeCorpus string
	documents    map[string]map[string]Document
}

// NewRetriever creates a retriever over the given store and gateway.
func NewRetriever(store Store, embedder Embedder, gateway Chatter, snippetBudget int, logger *zap.Logger) *Retriever {
	if snippetBudget <= 0 {
		snippetBudget = 2000
	}
	// cl100k_base covers the supported embedding and chat models; a missing
	// encoding file degrades to character trimming.
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tokenizer unavailable, falling back to character trimming", zap.Error(err))
	}
	return &Retriever{
		store:         store,
		gateway:       gateway,
		embedder:      embedder,
		snippetBudget: snippetBudget,
		logger:        logger.With(zap.String("component", "retriever")),
		encoder:       encoder,
		documents:     make(map[string]map[string]Document),
	}
}

// RegisterCorpus records the documents of a corpus so hits can be materialised
// after a store search. The first registered corpus becomes active.
func (r *Retriever) RegisterCorpus(corpus string, documents []Document) {
	byID := make(map[string]Document, len(documents))
	for _, doc := range documents {
		byID[doc.ID] = doc
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents[corpus] = byID
	if r.activeCorpus == "" {
		r.activeCorpus = corpus
	}
}

// SetActive switches the default corpus.
func (r *Retriever) SetActive(corpus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.documents[corpus]; !ok {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("unknown knowledge base %q", corpus))
	}
	r.activeCorpus = corpus
	return nil
}

// Active returns the current default corpus.
func (r *Retriever) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCorpus
}

// Corpora returns the registered corpus names.
func (r *Retriever) Corpora() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.documents))
	for name := range r.documents {
		names = append(names, name)
	}
	return names
}

// Count returns the number of indexed documents in corpus.
func (r *Retriever) Count(ctx context.Context, corpus string) (int, error) {
	if corpus == "" {
		corpus = r.Active()
	}
	return r.store.Count(ctx, corpus)
}

// Retrieve embeds the query, asks the store for candidates, optionally reranks
// them with the small model, and materialises up to k hits. An empty corpus
// yields an empty list, never an error.
func (r *Retriever) Retrieve(ctx context.Context, corpus, query string, k int, rerank bool, rerankK int) ([]Hit, error) {
	if corpus == "" {
		corpus = r.Active()
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	if rerankK < k {
		rerankK = k * 3
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return []Hit{}, nil
	}

	fetch := k
	if rerank {
		fetch = rerankK
	}

	results, err := r.store.Search(ctx, corpus, vectors[0], fetch)
	if err != nil {
		return nil, fmt.Errorf("search corpus %s: %w", corpus, err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	r.mu.RLock()
	byID := r.documents[corpus]
	r.mu.RUnlock()

	type candidate struct {
		doc   Document
		score float64
	}
	candidates := make([]candidate, 0, len(results))
	for _, res := range results {
		doc, ok := byID[res.DocumentID]
		if !ok {
			r.logger.Warn("search hit without registered document", zap.String("doc_id", res.DocumentID))
			continue
		}
		candidates = append(candidates, candidate{doc: doc, score: res.Score})
	}

	scoreType := "semantic"
	if rerank && len(candidates) > 1 {
		docs := make([]Document, len(candidates))
		for i, c := range candidates {
			docs[i] = c.doc
		}
		if order, ok := r.rerank(ctx, query, docs, k); ok {
			reordered := make([]candidate, 0, len(order))
			for _, idx := range order {
				reordered = append(reordered, candidates[idx])
			}
			candidates = reordered
			scoreType = "reranked"
		}
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, Hit{
			Title:     c.doc.Title,
			Snippet:   r.snippet(c.doc.Content),
			Score:     c.score,
			Source:    c.doc.Source,
			ScoreType: scoreType,
		})
	}
	return hits, nil
}

// rerank asks the small model for a permutation of candidate indices. It
// returns (order, true) only when the response parses to at least k distinct
// in-range indices; otherwise the caller keeps the pre-rerank order.
func (r *Retriever) rerank(ctx context.Context, query string, docs []Document, k int) ([]int, bool) {
	if r.gateway == nil {
		return nil, false
	}

	var b strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&b, "[DOC %d] %s\n%s\n\n", i+1, doc.Title, r.trimTokens(doc.Content, rerankSnippetTokens))
	}

	prompt := fmt.Sprintf(rerankPrompt, query, b.String())
	response, err := r.gateway.Chat(ctx, llm.ModelSmall,
		[]types.Message{types.UserMessage(prompt)},
		llm.ChatOptions{Temperature: 0, MaxTokens: 500},
	)
	if err != nil {
		r.logger.Warn("rerank call failed, keeping semantic order", zap.Error(err))
		return nil, false
	}

	order := parsePermutation(response, len(docs))
	want := k
	if want > len(docs) {
		want = len(docs)
	}
	if len(order) < want {
		r.logger.Warn("rerank response incomplete, keeping semantic order",
			zap.Int("parsed", len(order)),
			zap.Int("wanted", want),
		)
		return nil, false
	}
	return order, true
}

// snippet trims content to the configured character budget.
func (r *Retriever) snippet(content string) string {
	if len(content) <= r.snippetBudget {
		return content
	}
	return content[:r.snippetBudget] + "..."
}

// trimTokens caps text at maxTokens using the tokenizer, degrading to a
// character cap when the tokenizer is unavailable.
func (r *Retriever) trimTokens(text string, maxTokens int) string {
	if r.encoder == nil {
		limit := maxTokens * 4
		if len(text) > limit {
			return text[:limit]
		}
		return text
	}
	tokens := r.encoder.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return r.encoder.Decode(tokens[:maxTokens])
}

// parsePermutation extracts a JSON array of 1-based indices from an LLM
// response, tolerating surrounding prose and code fences.
func parsePermutation(response string, n int) []int {
	response = strings.TrimSpace(response)
	match := permutationPattern.FindString(response)
	if match == "" {
		return nil
	}

	var raw []int
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil
	}

	seen := make(map[int]bool, len(raw))
	order := make([]int, 0, len(raw))
	for _, idx := range raw {
		zeroBased := idx - 1
		if zeroBased < 0 || zeroBased >= n || seen[zeroBased] {
			continue
		}
		seen[zeroBased] = true
		order = append(order, zeroBased)
	}
	return order
}

var permutationPattern = regexp.MustCompile(`\[[\d,\s]*\]`)
