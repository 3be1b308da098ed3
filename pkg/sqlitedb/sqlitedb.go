package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the ingest catalog: which documents and chunks have been
// indexed, plus structured capture of spreadsheet content.
type DB struct {
	*sql.DB
	path string
}

type DocumentRow struct {
	DocID       string
	URL         string
	ContentHash string
	IngestedAt  time.Time
	ChunkCount  int
}

type ChunkRow struct {
	ChunkID    string
	DocID      string
	ChunkIndex int
	VectorID   string
}

// Sheet is one worksheet to capture row by row.
type Sheet struct {
	Name string
	Rows [][]string
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id TEXT PRIMARY KEY,
	url TEXT,
	content_hash TEXT,
	ingested_at TEXT,
	chunk_count INTEGER
);
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	doc_id TEXT,
	chunk_index INTEGER,
	vector_id TEXT,
	FOREIGN KEY (doc_id) REFERENCES documents(doc_id)
);
CREATE INDEX IF NOT EXISTS idx_documents_url ON documents(url);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
CREATE TABLE IF NOT EXISTS xlsx_sheets (
	doc_id TEXT,
	sheet_name TEXT,
	sheet_index INTEGER,
	source_url TEXT,
	ingested_at TEXT,
	PRIMARY KEY (doc_id, sheet_name)
);
CREATE TABLE IF NOT EXISTS xlsx_cells (
	doc_id TEXT,
	sheet_name TEXT,
	row INTEGER,
	column INTEGER,
	value TEXT
);
CREATE INDEX IF NOT EXISTS idx_xlsx_cells_doc ON xlsx_cells(doc_id);
`

// Open opens or creates the catalog at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA foreign_keys=ON;"} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

func (db *DB) Path() string {
	return db.path
}

// RecordDocument replaces a document row and all of its chunk rows in
// one transaction. This runs only after vectors are confirmed in the
// index, so a crash can leave the catalog behind the index but never
// ahead of it.
func (db *DB) RecordDocument(ctx context.Context, doc DocumentRow, chunks []ChunkRow) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", doc.DocID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (doc_id, url, content_hash, ingested_at, chunk_count)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.DocID, doc.URL, doc.ContentHash, doc.IngestedAt.UTC().Format(time.RFC3339), doc.ChunkCount)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	for _, chunk := range chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (chunk_id, doc_id, chunk_index, vector_id) VALUES (?, ?, ?, ?)`,
			chunk.ChunkID, chunk.DocID, chunk.ChunkIndex, chunk.VectorID)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ChunkID, err)
		}
	}
	return tx.Commit()
}

// GetDocument returns the catalog row for docID, or nil when unknown.
func (db *DB) GetDocument(ctx context.Context, docID string) (*DocumentRow, error) {
	row := db.QueryRowContext(ctx,
		"SELECT doc_id, url, content_hash, ingested_at, chunk_count FROM documents WHERE doc_id = ?", docID)
	var doc DocumentRow
	var ingestedAt string
	err := row.Scan(&doc.DocID, &doc.URL, &doc.ContentHash, &ingestedAt, &doc.ChunkCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", docID, err)
	}
	if t, err := time.Parse(time.RFC3339, ingestedAt); err == nil {
		doc.IngestedAt = t
	}
	return &doc, nil
}

// ListDocIDs returns every cataloged doc_id.
func (db *DB) ListDocIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT doc_id FROM documents")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan doc_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListChunks returns the chunk rows for docID in index order.
func (db *DB) ListChunks(ctx context.Context, docID string) ([]ChunkRow, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT chunk_id, doc_id, chunk_index, vector_id FROM chunks WHERE doc_id = ? ORDER BY chunk_index", docID)
	if err != nil {
		return nil, fmt.Errorf("list chunks %s: %w", docID, err)
	}
	defer rows.Close()
	var chunks []ChunkRow
	for rows.Next() {
		var chunk ChunkRow
		if err := rows.Scan(&chunk.ChunkID, &chunk.DocID, &chunk.ChunkIndex, &chunk.VectorID); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// DeleteDocument removes the document and its chunks.
func (db *DB) DeleteDocument(ctx context.Context, docID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = ?", docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM xlsx_cells WHERE doc_id = ?", docID); err != nil {
		return fmt.Errorf("delete cells: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM xlsx_sheets WHERE doc_id = ?", docID); err != nil {
		return fmt.Errorf("delete sheets: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE doc_id = ?", docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return tx.Commit()
}

// StoreWorkbook captures spreadsheet structure for SQL-style queries
// that the vector index cannot answer.
func (db *DB) StoreWorkbook(ctx context.Context, docID, sourceURL string, sheets []Sheet) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin workbook tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM xlsx_cells WHERE doc_id = ?", docID); err != nil {
		return fmt.Errorf("clear cells: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM xlsx_sheets WHERE doc_id = ?", docID); err != nil {
		return fmt.Errorf("clear sheets: %w", err)
	}

	ingestedAt := time.Now().UTC().Format(time.RFC3339)
	for index, sheet := range sheets {
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO xlsx_sheets (doc_id, sheet_name, sheet_index, source_url, ingested_at)
			 VALUES (?, ?, ?, ?, ?)`,
			docID, sheet.Name, index, sourceURL, ingestedAt)
		if err != nil {
			return fmt.Errorf("insert sheet %s: %w", sheet.Name, err)
		}
		for rowIndex, row := range sheet.Rows {
			for colIndex, value := range row {
				if value == "" {
					continue
				}
				_, err = tx.ExecContext(ctx,
					`INSERT INTO xlsx_cells (doc_id, sheet_name, row, column, value) VALUES (?, ?, ?, ?, ?)`,
					docID, sheet.Name, rowIndex+1, colIndex+1, value)
				if err != nil {
					return fmt.Errorf("insert cell: %w", err)
				}
			}
		}
	}
	return tx.Commit()
}

// SheetNames lists captured worksheets for docID in sheet order.
func (db *DB) SheetNames(ctx context.Context, docID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT sheet_name FROM xlsx_sheets WHERE doc_id = ? ORDER BY sheet_index", docID)
	if err != nil {
		return nil, fmt.Errorf("list sheets %s: %w", docID, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan sheet name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
