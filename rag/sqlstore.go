package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// embeddingRow is the persistent table behind the SQL store.
type embeddingRow struct {
	DocID   string `gorm:"column:doc_id;primaryKey"`
	Corpus  string `gorm:"column:corpus;primaryKey;index"`
	Title   string `gorm:"column:title"`
	Content string `gorm:"column:content"`
	Source  string `gorm:"column:source"`
	Hash    string `gorm:"column:hash"`
	// Vector is the JSON-encoded embedding, stored as text. The migrations
	// create no vector-typed column and no nearest-neighbour index; Search
	// ranks all of a corpus's rows in the application.
	Vector string `gorm:"column:vector"`
}

func (embeddingRow) TableName() string { return "document_embeddings" }

// SQLStore persists embeddings in a relational database via GORM. It serves
// the same contract as FileStore and is selected by DATABASE_URL.
type SQLStore struct {
	db        *gorm.DB
	embedder  Embedder
	batchSize int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// OpenDatabase opens a GORM handle for the given DSN. postgres:// DSNs use the
// postgres driver; sqlite:// DSNs (or bare file paths) use the pure-Go sqlite
// driver.
func OpenDatabase(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// NewSQLStore creates a SQL-backed embedding store.
func NewSQLStore(db *gorm.DB, embedder Embedder, logger *zap.Logger, opts ...SQLStoreOption) *SQLStore {
	s := &SQLStore{
		db:        db,
		embedder:  embedder,
		batchSize: DefaultEmbedBatchSize,
		logger:    logger.With(zap.String("component", "embedding_store_sql")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SQLStoreOption customises SQL store construction.
type SQLStoreOption func(*SQLStore)

// WithSQLBatchSize overrides the embedding batch size.
func WithSQLBatchSize(n int) SQLStoreOption {
	return func(s *SQLStore) { s.batchSize = n }
}

// WithSQLRateLimit paces embedding batches at n per second.
func WithSQLRateLimit(n float64) SQLStoreOption {
	return func(s *SQLStore) {
		if n > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(n), 1)
		}
	}
}

// AutoMigrate creates the embeddings table when migrations have not run.
func (s *SQLStore) AutoMigrate() error {
	return s.db.AutoMigrate(&embeddingRow{})
}

// Sync reconciles stored rows for corpus with the given documents.
func (s *SQLStore) Sync(ctx context.Context, corpus string, documents []Document) (SyncStats, error) {
	var rows []embeddingRow
	if err := s.db.WithContext(ctx).
		Select("doc_id", "hash").
		Where("corpus = ?", corpus).
		Find(&rows).Error; err != nil {
		return SyncStats{}, fmt.Errorf("load stored hashes: %w", err)
	}

	stored := make(map[string]string, len(rows))
	for _, row := range rows {
		stored[row.DocID] = row.Hash
	}

	toEmbed, reused, toDelete := syncPlan(stored, documents)

	fresh, failedBatches := embedInBatches(ctx, s.embedder, toEmbed, s.batchSize, s.limiter, s.logger)

	docByID := make(map[string]Document, len(documents))
	for _, doc := range documents {
		docByID[doc.ID] = doc
	}

	for _, rec := range fresh {
		doc := docByID[rec.DocumentID]
		vector, err := json.Marshal(rec.Vector)
		if err != nil {
			return SyncStats{}, fmt.Errorf("encode vector: %w", err)
		}
		row := embeddingRow{
			DocID:   rec.DocumentID,
			Corpus:  corpus,
			Title:   doc.Title,
			Content: doc.Content,
			Source:  doc.Source,
			Hash:    rec.ContentHash,
			Vector:  string(vector),
		}
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&row).Error; err != nil {
			return SyncStats{}, fmt.Errorf("upsert embedding for %s: %w", rec.DocumentID, err)
		}
	}

	if len(toDelete) > 0 {
		if err := s.db.WithContext(ctx).
			Where("corpus = ? AND doc_id IN ?", corpus, toDelete).
			Delete(&embeddingRow{}).Error; err != nil {
			return SyncStats{}, fmt.Errorf("delete stale embeddings: %w", err)
		}
	}

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

// Search loads the corpus rows and ranks them by cosine similarity. Ranking
// happens application-side so ordering and tie-breaks are identical across
// backends.
func (s *SQLStore) Search(ctx context.Context, corpus string, queryVector []float64, k int) ([]SearchResult, error) {
	var rows []embeddingRow
	if err := s.db.WithContext(ctx).
		Select("doc_id", "hash", "vector").
		Where("corpus = ?", corpus).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	records := make([]EmbeddingRecord, 0, len(rows))
	for _, row := range rows {
		var vector []float64
		if err := json.Unmarshal([]byte(row.Vector), &vector); err != nil {
			s.logger.Warn("skipping undecodable vector", zap.String("doc_id", row.DocID), zap.Error(err))
			continue
		}
		records = append(records, EmbeddingRecord{
			DocumentID:  row.DocID,
			Corpus:      corpus,
			ContentHash: row.Hash,
			Vector:      vector,
		})
	}

	return rankTopK(queryVector, records, k), nil
}

// Count returns the number of embedded documents in corpus.
func (s *SQLStore) Count(ctx context.Context, corpus string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&embeddingRow{}).
		Where("corpus = ?", corpus).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return int(count), nil
}
