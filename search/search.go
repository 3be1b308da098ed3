// Package search answers queries against the vector index: embed the
// query, pull the nearest chunks, and optionally roll them up per
// document.
package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tessera/pkg/embedding"
	"tessera/pkg/qdrantdb"
)

const snippetLength = 500

// VectorSearcher is the index read path. *qdrantdb.Client implements it.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit uint64) ([]qdrantdb.ScoredChunk, error)
}

// Hit is one chunk-level match.
type Hit struct {
	Score   float32 `json:"score"`
	DocID   string  `json:"doc_id"`
	ChunkID string  `json:"chunk_id"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Text    string  `json:"text"`
}

// DocumentHit is the per-document rollup of chunk matches.
type DocumentHit struct {
	DocID      string  `json:"doc_id"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	BestScore  float32 `json:"best_score"`
	TotalScore float32 `json:"total_score"`
	MatchCount int     `json:"match_count"`
	Snippet    string  `json:"snippet"`
}

// Searcher embeds queries and reads the index.
type Searcher struct {
	embed  embedding.Client
	index  VectorSearcher
	logger *zap.Logger
}

func NewSearcher(embed embedding.Client, index VectorSearcher, logger *zap.Logger) *Searcher {
	return &Searcher{embed: embed, index: index, logger: logger}
}

// Retrieve returns the top chunk matches for a query, best first.
func (s *Searcher) Retrieve(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if limit <= 0 {
		limit = 10
	}

	vectors, err := s.embed.GetEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors for one input", len(vectors))
	}

	chunks, err := s.index.Search(ctx, vectors[0], uint64(limit))
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(chunks))
	for _, c := range chunks {
		hits = append(hits, Hit{
			Score:   c.Score,
			DocID:   c.DocID,
			ChunkID: c.ChunkID,
			URL:     c.URL,
			Title:   c.Title,
			Text:    c.Text,
		})
	}
	s.logger.Debug("query answered",
		zap.String("query", query), zap.Int("hits", len(hits)))
	return hits, nil
}
