package rag

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultEmbedBatchSize bounds documents per embedding call to amortise
// provider overhead.
const DefaultEmbedBatchSize = 16

// syncPlan compares current documents against stored hashes and splits them
// into documents needing (re-)embedding, documents whose record is still
// valid, and record ids whose document disappeared.
func syncPlan(stored map[string]string, documents []Document) (toEmbed []Document, reused []string, toDelete []string) {
	present := make(map[string]bool, len(documents))
	for _, doc := range documents {
		present[doc.ID] = true
		if hash, ok := stored[doc.ID]; ok && hash == doc.ContentHash {
			reused = append(reused, doc.ID)
			continue
		}
		toEmbed = append(toEmbed, doc)
	}
	for id := range stored {
		if !present[id] {
			toDelete = append(toDelete, id)
		}
	}
	sort.Strings(toDelete)
	return toEmbed, reused, toDelete
}

// embedInBatches embeds documents in bounded batches. A failing batch is
// retried once, then marked failed; the remaining batches still proceed so a
// partial sync makes progress. The limiter, when non-nil, paces batches.
func embedInBatches(ctx context.Context, embedder Embedder, documents []Document, batchSize int, limiter *rate.Limiter, logger *zap.Logger) ([]EmbeddingRecord, int) {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}

	var records []EmbeddingRecord
	failedBatches := 0

	for start := 0; start < len(documents); start += batchSize {
		end := start + batchSize
		if end > len(documents) {
			end = len(documents)
		}
		batch := documents[start:end]

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				failedBatches += (len(documents) - start + batchSize - 1) / batchSize
				return records, failedBatches
			}
		}

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
		}

		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			logger.Warn("embedding batch failed, retrying once",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			vectors, err = embedder.Embed(ctx, texts)
		}
		if err != nil {
			logger.Error("embedding batch failed after retry, skipping",
				zap.Int("batch_start", start),
				zap.Error(err),
			)
			failedBatches++
			continue
		}

		for i, doc := range batch {
			records = append(records, EmbeddingRecord{
				DocumentID:  doc.ID,
				Corpus:      doc.Corpus,
				ContentHash: doc.ContentHash,
				Vector:      vectors[i],
			})
		}
	}

	return records, failedBatches
}
