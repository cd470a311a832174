package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// corpusCache is the on-disk schema, one file per corpus.
type corpusCache struct {
	// DocumentsHash fingerprints the whole corpus for quick change detection.
	DocumentsHash string            `json:"documents_hash"`
	Hashes        map[string]string `json:"hashes"`
	Embeddings    []storedEmbedding `json:"embeddings"`
}

type storedEmbedding struct {
	DocID     string    `json:"doc_id"`
	Embedding []float64 `json:"embedding"`
}

// FileStore persists one embedding table per corpus as a JSON file, replaced
// atomically on every sync. Reads after startup are served from memory.
type FileStore struct {
	embedder  Embedder
	dir       string
	batchSize int
	limiter   *rate.Limiter
	logger    *zap.Logger

	mu      sync.RWMutex
	corpora map[string][]EmbeddingRecord
}

// FileStoreOption customises file store construction.
type FileStoreOption func(*FileStore)

// WithBatchSize overrides the embedding batch size.
func WithBatchSize(n int) FileStoreOption {
	return func(s *FileStore) { s.batchSize = n }
}

// WithRateLimit paces embedding batches at n per second.
func WithRateLimit(n float64) FileStoreOption {
	return func(s *FileStore) {
		if n > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(n), 1)
		}
	}
}

// NewFileStore creates a file-backed embedding store rooted at dir.
func NewFileStore(embedder Embedder, dir string, logger *zap.Logger, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		embedder:  embedder,
		dir:       dir,
		batchSize: DefaultEmbedBatchSize,
		logger:    logger.With(zap.String("component", "embedding_store")),
		corpora:   make(map[string][]EmbeddingRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) cachePath(corpus string) string {
	return filepath.Join(s.dir, fmt.Sprintf("embeddings_%s.json", corpus))
}

// Sync reconciles the stored embeddings for corpus with the given documents.
// Stale and missing entries are re-embedded in batches; records for vanished
// documents are evicted. The cache file is replaced atomically.
func (s *FileStore) Sync(ctx context.Context, corpus string, documents []Document) (SyncStats, error) {
	stored, err := s.load(corpus)
	if err != nil {
		s.logger.Warn("embedding cache unreadable, rebuilding", zap.String("corpus", corpus), zap.Error(err))
		stored = &corpusCache{Hashes: map[string]string{}}
	}

	vectors := make(map[string][]float64, len(stored.Embeddings))
	for _, e := range stored.Embeddings {
		vectors[e.DocID] = e.Embedding
	}

	toEmbed, reused, toDelete := syncPlan(stored.Hashes, documents)

	fresh, failedBatches := embedInBatches(ctx, s.embedder, toEmbed, s.batchSize, s.limiter, s.logger)

	// Assemble the surviving record set: reused + freshly embedded.
	records := make([]EmbeddingRecord, 0, len(reused)+len(fresh))
	hashByID := make(map[string]string, len(documents))
	for _, doc := range documents {
		hashByID[doc.ID] = doc.ContentHash
	}
	for _, id := range reused {
		records = append(records, EmbeddingRecord{
			DocumentID:  id,
			Corpus:      corpus,
			ContentHash: hashByID[id],
			Vector:      vectors[id],
		})
	}
	records = append(records, fresh...)

	if err := s.save(corpus, records); err != nil {
		return SyncStats{}, fmt.Errorf("persist embedding cache: %w", err)
	}

	s.mu.Lock()
	s.corpora[corpus] = records
	s.mu.Unlock()

	stats := SyncStats{
		Embedded:      len(fresh),
		Reused:        len(reused),
		Deleted:       len(toDelete),
		FailedBatches: failedBatches,
	}
	s.logger.Info("corpus synced",
		zap.String("corpus", corpus),
		zap.Int("embedded", stats.Embedded),
		zap.Int("reused", stats.Reused),
		zap.Int("deleted", stats.Deleted),
		zap.Int("failed_batches", stats.FailedBatches),
	)
	return stats, nil
}

// Search returns the k nearest documents by cosine similarity.
func (s *FileStore) Search(ctx context.Context, corpus string, queryVector []float64, k int) ([]SearchResult, error) {
	s.mu.RLock()
	records := s.corpora[corpus]
	s.mu.RUnlock()

	return rankTopK(queryVector, records, k), nil
}

// Count returns the number of embedded documents in corpus.
func (s *FileStore) Count(ctx context.Context, corpus string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.corpora[corpus]), nil
}

// load reads the cache file for corpus; a missing file yields an empty cache.
func (s *FileStore) load(corpus string) (*corpusCache, error) {
	data, err := os.ReadFile(s.cachePath(corpus))
	if os.IsNotExist(err) {
		return &corpusCache{Hashes: map[string]string{}}, nil
	}
	if err != nil {
		return nil, err
	}

	var cache corpusCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	if cache.Hashes == nil {
		cache.Hashes = map[string]string{}
	}
	return &cache, nil
}

// save writes the cache file via temp-file-and-rename so readers never observe
// a partial table.
func (s *FileStore) save(corpus string, records []EmbeddingRecord) error {
	cache := corpusCache{
		Hashes:     make(map[string]string, len(records)),
		Embeddings: make([]storedEmbedding, 0, len(records)),
	}
	for _, rec := range records {
		cache.Hashes[rec.DocumentID] = rec.ContentHash
		cache.Embeddings = append(cache.Embeddings, storedEmbedding{
			DocID:     rec.DocumentID,
			Embedding: rec.Vector,
		})
	}
	cache.DocumentsHash = corpusFingerprint(records)

	data, err := json.Marshal(cache)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "embeddings_*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.cachePath(corpus))
}

// corpusFingerprint hashes the (id, hash) pairs of all records in sorted order.
func corpusFingerprint(records []EmbeddingRecord) string {
	pairs := make([]string, 0, len(records))
	for _, rec := range records {
		pairs = append(pairs, rec.DocumentID+":"+rec.ContentHash)
	}
	sort.Strings(pairs)
	var joined []byte
	for _, p := range pairs {
		joined = append(joined, p...)
		joined = append(joined, '\n')
	}
	return HashContent(joined)
}
