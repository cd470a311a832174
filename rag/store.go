package rag

import (
	"context"
	"math"
	"sort"
)

// Embedder is the slice of the model gateway the store depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// SearchResult pairs a document id with its similarity score.
type SearchResult struct {
	DocumentID string  `json:"doc_id"`
	Score      float64 `json:"score"`
}

// SyncStats reports what a Sync pass did.
type SyncStats struct {
	Embedded      int
	Reused        int
	Deleted       int
	FailedBatches int
}

// Store persists (document, corpus, hash, vector) tuples. A cached vector is
// returned only while its stored hash equals the document's current hash.
//
// Sync is idempotent: running it twice over the same documents issues no
// embedding calls on the second pass. Search returns the k highest cosine
// similarities in descending order, ties broken by document id ascending.
type Store interface {
	Sync(ctx context.Context, corpus string, documents []Document) (SyncStats, error)
	Search(ctx context.Context, corpus string, queryVector []float64, k int) ([]SearchResult, error)
	Count(ctx context.Context, corpus string) (int, error)
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// isZeroVector reports whether every component is zero. A query embedding to
// the zero vector behaves as if no candidates matched.
func isZeroVector(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// rankTopK scores every record against the query and returns the top k,
// ordered by score descending with ties broken by document id ascending.
func rankTopK(query []float64, records []EmbeddingRecord, k int) []SearchResult {
	if k <= 0 || len(records) == 0 || isZeroVector(query) {
		return []SearchResult{}
	}

	results := make([]SearchResult, 0, len(records))
	for _, rec := range records {
		results = append(results, SearchResult{
			DocumentID: rec.DocumentID,
			Score:      cosineSimilarity(query, rec.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k]
}
