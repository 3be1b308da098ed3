package ingest

import "strings"

// ChunkFilter drops chunks that would pollute the vector index:
// fragments too short to carry meaning, navigation boilerplate, and
// text recovered from raw PDF bytes.
type ChunkFilter struct {
	minLength int
	phrases   []string
}

func NewChunkFilter(minLength int, phrases []string) *ChunkFilter {
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}
	return &ChunkFilter{minLength: minLength, phrases: lowered}
}

// Keep reports whether a chunk is worth embedding, with the rejection
// reason when it is not.
func (f *ChunkFilter) Keep(text string) (bool, string) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < f.minLength {
		return false, "too_short"
	}
	lowered := strings.ToLower(trimmed)
	if strings.Contains(lowered, "%pdf-") {
		return false, "binary_garbage"
	}
	// A phrase inside a short chunk means the chunk IS the boilerplate;
	// inside a long chunk it is just a page that mentions it.
	if len(trimmed) < 200 {
		for _, phrase := range f.phrases {
			if strings.Contains(lowered, phrase) {
				return false, "boilerplate"
			}
		}
	}
	return true, ""
}
