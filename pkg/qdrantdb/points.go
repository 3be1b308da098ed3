package qdrantdb

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

const defaultUpsertBatch = 100

// Point is one chunk vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredChunk is one search hit.
type ScoredChunk struct {
	Score   float32
	DocID   string
	ChunkID string
	URL     string
	Title   string
	Text    string
}

// EnsureCollection creates the collection when absent and verifies the
// vector size when present. A size mismatch means the embedding model
// changed and the index must be rebuilt, so it is a hard error.
func (c *Client) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	exists, err := c.Client.CollectionExists(ctx, c.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		info, err := c.Client.GetCollectionInfo(ctx, c.collection)
		if err != nil {
			return fmt.Errorf("inspect collection: %w", err)
		}
		existing := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if existing != 0 && existing != vectorSize {
			return fmt.Errorf("collection %q has vector size %d, expected %d: clear vectors or use a matching embedding model",
				c.collection, existing, vectorSize)
		}
		return nil
	}

	err = c.Client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	_, err = c.Client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: c.collection,
		FieldName:      "doc_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("create doc_id index: %w", err)
	}
	return nil
}

// Upsert writes points in batches to keep individual requests small.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	for start := 0; start < len(points); start += c.upsertBatch {
		end := start + c.upsertBatch
		if end > len(points) {
			end = len(points)
		}
		batch := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, &qdrant.PointStruct{
				Id:      qdrant.NewID(p.ID),
				Vectors: qdrant.NewVectorsDense(p.Vector),
				Payload: qdrant.NewValueMap(p.Payload),
			})
		}
		_, err := c.Client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.collection,
			Points:         batch,
		})
		if err != nil {
			return fmt.Errorf("upsert batch [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

func docIDFilter(docID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("doc_id", docID)},
	}
}

// DeleteByDocID removes every vector belonging to one document.
func (c *Client) DeleteByDocID(ctx context.Context, docID string) error {
	_, err := c.Client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collection,
		Points:         qdrant.NewPointsSelectorFilter(docIDFilter(docID)),
	})
	if err != nil {
		return fmt.Errorf("delete vectors for %s: %w", docID, err)
	}
	return nil
}

// CountByDoc returns the exact number of vectors stored for docID.
func (c *Client) CountByDoc(ctx context.Context, docID string) (uint64, error) {
	count, err := c.Client.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.collection,
		Filter:         docIDFilter(docID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count vectors for %s: %w", docID, err)
	}
	return count, nil
}

// Search runs a dense similarity query and returns the top hits.
func (c *Client) Search(ctx context.Context, vector []float32, limit uint64) ([]ScoredChunk, error) {
	results, err := c.Client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	hits := make([]ScoredChunk, 0, len(results))
	for _, point := range results {
		payload := point.GetPayload()
		hits = append(hits, ScoredChunk{
			Score:   point.GetScore(),
			DocID:   payload["doc_id"].GetStringValue(),
			ChunkID: payload["chunk_id"].GetStringValue(),
			URL:     payload["url"].GetStringValue(),
			Title:   payload["title"].GetStringValue(),
			Text:    payload["text"].GetStringValue(),
		})
	}
	return hits, nil
}
