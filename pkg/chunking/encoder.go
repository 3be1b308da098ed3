package chunking

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// Encoder maps text to token ids and back. Chunk boundaries are
// computed in token space so chunk sizes match the embedding model's
// context accounting.
type Encoder interface {
	Encode(text string) []uint32
	Decode(ids []uint32) string
}

// HFEncoder wraps a HuggingFace tokenizer file.
type HFEncoder struct {
	tokenizer *tokenizers.Tokenizer
}

// NewHFEncoder loads a tokenizer.json from disk.
func NewHFEncoder(path string) (*HFEncoder, error) {
	tokenizer, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &HFEncoder{tokenizer: tokenizer}, nil
}

func (e *HFEncoder) Encode(text string) []uint32 {
	ids, _ := e.tokenizer.Encode(text, false)
	return ids
}

func (e *HFEncoder) Decode(ids []uint32) string {
	return e.tokenizer.Decode(ids, true)
}

func (e *HFEncoder) Close() error {
	return e.tokenizer.Close()
}
