package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	})
	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return NewSQLStore(gdb, &stubEmbedder{}, zap.NewNop()), mock, db
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestSQLStore_SearchRanksApplicationSide(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"doc_id", "hash", "vector"}).
		AddRow("doc_b", "h1", mustJSON(t, []float64{1, 0})).
		AddRow("doc_a", "h2", mustJSON(t, []float64{1, 0})).
		AddRow("doc_c", "h3", mustJSON(t, []float64{0, 1}))

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "doc_id","hash","vector" FROM "document_embeddings" WHERE corpus = $1`,
	)).WithArgs("legal").WillReturnRows(rows)

	results, err := store.Search(context.Background(), "legal", []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc_a", results[0].DocumentID, "tie broken by id ascending")
	assert.Equal(t, "doc_b", results[1].DocumentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SearchSkipsCorruptVector(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"doc_id", "hash", "vector"}).
		AddRow("doc_a", "h1", "not json").
		AddRow("doc_b", "h2", mustJSON(t, []float64{1, 0}))

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "doc_id","hash","vector" FROM "document_embeddings" WHERE corpus = $1`,
	)).WithArgs("legal").WillReturnRows(rows)

	results, err := store.Search(context.Background(), "legal", []float64{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc_b", results[0].DocumentID)
}

func TestSQLStore_Count(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT count(*) FROM "document_embeddings" WHERE corpus = $1`,
	)).WithArgs("audit").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := store.Count(context.Background(), "audit")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestSQLStore_SyncReusesMatchingHashes(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()

	document := doc("legal", "doc_a", "alpha")

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "doc_id","hash" FROM "document_embeddings" WHERE corpus = $1`,
	)).WithArgs("legal").WillReturnRows(
		sqlmock.NewRows([]string{"doc_id", "hash"}).AddRow("doc_a", document.ContentHash),
	)

	stats, err := store.Sync(context.Background(), "legal", []Document{document})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Embedded)
	assert.Equal(t, 1, stats.Reused)
	require.NoError(t, mock.ExpectationsWereMet())
}
