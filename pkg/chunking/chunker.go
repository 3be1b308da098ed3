package chunking

import "fmt"

// Chunker splits text into fixed-size token windows with overlap.
// The same text, size, and overlap always produce the same chunks.
type Chunker struct {
	encoder Encoder
	size    int
	overlap int
}

// NewChunker builds a chunker. Overlap must be smaller than size or
// the window would never advance.
func NewChunker(encoder Encoder, size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d for size %d", overlap, size)
	}
	return &Chunker{encoder: encoder, size: size, overlap: overlap}, nil
}

// Chunk slides a token window across text. The final window is allowed
// to be short; each boundary steps back by the overlap so no token run
// is lost between adjacent chunks.
func (c *Chunker) Chunk(text string) []string {
	tokens := c.encoder.Encode(text)
	if len(tokens) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(tokens) {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, c.encoder.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
		start = end - c.overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}
