package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndGetDocument(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	doc := DocumentRow{
		DocID:       "doc1",
		URL:         "https://docs.example.com/install",
		ContentHash: "abc",
		IngestedAt:  time.Now().UTC(),
		ChunkCount:  2,
	}
	chunks := []ChunkRow{
		{ChunkID: "doc1_0", DocID: "doc1", ChunkIndex: 0, VectorID: "v0"},
		{ChunkID: "doc1_1", DocID: "doc1", ChunkIndex: 1, VectorID: "v1"},
	}
	require.NoError(t, db.RecordDocument(ctx, doc, chunks))

	got, err := db.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.ContentHash)
	assert.Equal(t, 2, got.ChunkCount)

	rows, err := db.ListChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "v1", rows[1].VectorID)
}

func TestGetDocumentUnknownIsNil(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetDocument(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordDocumentReplacesChunks(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	doc := DocumentRow{DocID: "doc1", URL: "u", ContentHash: "h1", IngestedAt: time.Now(), ChunkCount: 2}
	require.NoError(t, db.RecordDocument(ctx, doc, []ChunkRow{
		{ChunkID: "doc1_0", DocID: "doc1", ChunkIndex: 0, VectorID: "v0"},
		{ChunkID: "doc1_1", DocID: "doc1", ChunkIndex: 1, VectorID: "v1"},
	}))

	doc.ContentHash = "h2"
	doc.ChunkCount = 1
	require.NoError(t, db.RecordDocument(ctx, doc, []ChunkRow{
		{ChunkID: "doc1_0", DocID: "doc1", ChunkIndex: 0, VectorID: "v0b"},
	}))

	rows, err := db.ListChunks(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "re-record fully replaces chunk rows")
	assert.Equal(t, "v0b", rows[0].VectorID)
}

func TestDeleteDocument(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	doc := DocumentRow{DocID: "doc1", URL: "u", ContentHash: "h", IngestedAt: time.Now(), ChunkCount: 1}
	require.NoError(t, db.RecordDocument(ctx, doc, []ChunkRow{
		{ChunkID: "doc1_0", DocID: "doc1", ChunkIndex: 0, VectorID: "v0"},
	}))
	require.NoError(t, db.StoreWorkbook(ctx, "doc1", "u", []Sheet{{Name: "S", Rows: [][]string{{"x"}}}}))

	require.NoError(t, db.DeleteDocument(ctx, "doc1"))

	got, err := db.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Nil(t, got)
	names, err := db.SheetNames(ctx, "doc1")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStoreWorkbook(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sheets := []Sheet{
		{Name: "Servers", Rows: [][]string{{"hostname", "role"}, {"db01", "postgres"}}},
		{Name: "Networks", Rows: [][]string{{"cidr"}, {"10.0.0.0/8"}}},
	}
	require.NoError(t, db.StoreWorkbook(ctx, "doc1", "https://example.com/infra.xlsx", sheets))

	names, err := db.SheetNames(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Servers", "Networks"}, names)

	var value string
	err = db.QueryRowContext(ctx,
		"SELECT value FROM xlsx_cells WHERE doc_id = ? AND sheet_name = ? AND row = 2 AND column = 2",
		"doc1", "Servers").Scan(&value)
	require.NoError(t, err)
	assert.Equal(t, "postgres", value)
}
