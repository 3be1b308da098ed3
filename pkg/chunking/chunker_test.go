package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordEncoder treats every whitespace-separated word as one token.
type wordEncoder struct {
	words  []string
	lookup map[string]uint32
}

func newWordEncoder() *wordEncoder {
	return &wordEncoder{lookup: map[string]uint32{}}
}

func (e *wordEncoder) Encode(text string) []uint32 {
	var ids []uint32
	for _, word := range strings.Fields(text) {
		id, ok := e.lookup[word]
		if !ok {
			id = uint32(len(e.words))
			e.lookup[word] = id
			e.words = append(e.words, word)
		}
		ids = append(ids, id)
	}
	return ids
}

func (e *wordEncoder) Decode(ids []uint32) string {
	words := make([]string, len(ids))
	for i, id := range ids {
		words[i] = e.words[id]
	}
	return strings.Join(words, " ")
}

func corpus(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestChunkerWindowsAndOverlap(t *testing.T) {
	c, err := NewChunker(newWordEncoder(), 10, 3)
	require.NoError(t, err)

	chunks := c.Chunk(corpus(24))
	// windows: [0,10) [7,17) [14,24)
	require.Len(t, chunks, 3)
	assert.Equal(t, 10, len(strings.Fields(chunks[0])))
	assert.True(t, strings.HasPrefix(chunks[1], "w7 "), "second window steps back by the overlap")
	assert.True(t, strings.HasSuffix(chunks[2], " w23"))
}

func TestChunkerShortTextIsSingleChunk(t *testing.T) {
	c, err := NewChunker(newWordEncoder(), 512, 128)
	require.NoError(t, err)

	text := corpus(40)
	chunks := c.Chunk(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunkerCoversEveryToken(t *testing.T) {
	enc := newWordEncoder()
	c, err := NewChunker(enc, 512, 128)
	require.NoError(t, err)

	text := corpus(2000)
	chunks := c.Chunk(text)
	require.NotEmpty(t, chunks)

	// Dropping the 128 leading overlap tokens from every chunk after
	// the first must rebuild the original token sequence exactly: no
	// token lost, none duplicated, order preserved.
	var rebuilt []string
	for i, chunk := range chunks {
		words := strings.Fields(chunk)
		if i > 0 {
			require.Greater(t, len(words), 128, "chunk %d no longer than its overlap", i)
			words = words[128:]
		}
		rebuilt = append(rebuilt, words...)
	}
	assert.Equal(t, strings.Fields(text), rebuilt)

	again := c.Chunk(text)
	assert.Equal(t, chunks, again, "chunking is deterministic")
}

func TestChunkerEmptyText(t *testing.T) {
	c, err := NewChunker(newWordEncoder(), 10, 2)
	require.NoError(t, err)
	assert.Nil(t, c.Chunk(""))
}

func TestNewChunkerRejectsBadBounds(t *testing.T) {
	_, err := NewChunker(newWordEncoder(), 0, 0)
	assert.Error(t, err)
	_, err = NewChunker(newWordEncoder(), 10, 10)
	assert.Error(t, err)
	_, err = NewChunker(newWordEncoder(), 10, -1)
	assert.Error(t, err)
}
