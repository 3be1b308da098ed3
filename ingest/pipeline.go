package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tessera/artifact"
	"tessera/crawler"
	"tessera/parser"
	"tessera/pkg/chunking"
	"tessera/pkg/sqlitedb"
)

// Pipeline turns fetched pages into artifacts on disk: parse, chunk,
// write. It implements the crawler's page processor, and the
// reconciler later picks artifacts up from the store.
type Pipeline struct {
	policy  *crawler.Policy
	chunker *chunking.Chunker
	store   *artifact.Store
	db      *sqlitedb.DB
	logger  *zap.Logger
}

func NewPipeline(policy *crawler.Policy, chunker *chunking.Chunker, store *artifact.Store, db *sqlitedb.DB, logger *zap.Logger) *Pipeline {
	return &Pipeline{policy: policy, chunker: chunker, store: store, db: db, logger: logger}
}

func (p *Pipeline) Process(ctx context.Context, page crawler.FetchedPage) (*crawler.ProcessedPage, error) {
	doc, parserName, err := parser.Parse(page.Body, page.ContentType, page.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", page.FinalURL, err)
	}

	// Document identity follows the canonical form of the URL the
	// content actually came from, so a page reachable through several
	// redirecting aliases is stored once.
	canonical, err := p.policy.Canonicalize(page.FinalURL)
	if err != nil {
		canonical = page.FinalURL
	}
	docID := artifact.DocID(canonical)

	chunkTexts := p.chunker.Chunk(doc.Text)
	chunks := make([]artifact.Chunk, len(chunkTexts))
	for i, text := range chunkTexts {
		chunks[i] = artifact.Chunk{
			ChunkID:    artifact.ChunkID(docID, i),
			DocID:      docID,
			ChunkIndex: i,
			Text:       text,
		}
	}

	err = p.store.Write(artifact.Artifact{
		Manifest: artifact.Manifest{
			DocID:        docID,
			URL:          canonical,
			CanonicalURL: canonical,
			FinalURL:     page.FinalURL,
			ContentType:  page.ContentType,
			Parser:       parserName,
			StatusCode:   200,
			Meta:         doc.Meta,
			ContentHash:  artifact.ContentHash(doc.Text),
			FetchedAt:    time.Now().UTC(),
			Title:        doc.Title,
			Text:         doc.Text,
		},
		Markdown: doc.Markdown,
		Chunks:   chunks,
	})
	if err != nil {
		return nil, fmt.Errorf("write artifact %s: %w", docID, err)
	}

	if len(doc.Sheets) > 0 && p.db != nil {
		sheets := make([]sqlitedb.Sheet, len(doc.Sheets))
		for i, sheet := range doc.Sheets {
			sheets[i] = sqlitedb.Sheet{Name: sheet.Name, Rows: sheet.Rows}
		}
		if err := p.db.StoreWorkbook(ctx, docID, page.FinalURL, sheets); err != nil {
			return nil, fmt.Errorf("capture workbook %s: %w", docID, err)
		}
	}

	p.logger.Debug("captured page",
		zap.String("doc_id", docID),
		zap.String("url", canonical),
		zap.String("parser", parserName),
		zap.Int("chunks", len(chunks)))

	// Only HTML pages contribute to discovery; links scraped out of
	// spreadsheets or recovered binaries are noise.
	var links []string
	if parserName == "html" {
		links = doc.Links
	}
	return &crawler.ProcessedPage{DocID: docID, Links: links}, nil
}
