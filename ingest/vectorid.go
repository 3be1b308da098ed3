package ingest

import "github.com/google/uuid"

// VectorID derives the vector point id for a chunk. Qdrant point ids
// must be UUIDs, so the chunk_id string is hashed into the URL
// namespace deterministically: the same chunk always maps to the same
// point, making upserts idempotent.
func VectorID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}
