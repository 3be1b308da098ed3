package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArtifact(url string) Artifact {
	docID := DocID(url)
	text := "installation steps for the cluster"
	return Artifact{
		Manifest: Manifest{
			DocID:        docID,
			URL:          url,
			CanonicalURL: url,
			FinalURL:     url,
			ContentType:  "text/html",
			Parser:       "html",
			StatusCode:   200,
			Meta:         map[string]any{"link_count": 2},
			ContentHash:  ContentHash(text),
			FetchedAt:    time.Now().UTC(),
			Title:        "Install",
			Text:         text,
		},
		Markdown: "# Install\n\nsteps",
		Chunks: []Chunk{
			{ChunkID: ChunkID(docID, 0), DocID: docID, ChunkIndex: 0, Text: "installation steps"},
			{ChunkID: ChunkID(docID, 1), DocID: docID, ChunkIndex: 1, Text: "for the cluster"},
		},
	}
}

func TestDocIDIsStable(t *testing.T) {
	a := DocID("https://docs.example.com/install")
	b := DocID("https://docs.example.com/install")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, DocID("https://docs.example.com/other"))
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	in := sampleArtifact("https://docs.example.com/install")
	require.NoError(t, store.Write(in))

	out, err := store.Load(in.Manifest.DocID)
	require.NoError(t, err)
	assert.Equal(t, in.Manifest.DocID, out.Manifest.DocID)
	assert.Equal(t, in.Manifest.ContentHash, out.Manifest.ContentHash)
	assert.Equal(t, "content.md", out.Manifest.MarkdownPath)
	assert.Equal(t, in.Markdown, out.Markdown)
	require.Len(t, out.Chunks, 2)
	assert.Equal(t, in.Manifest.DocID+"_1", out.Chunks[1].ChunkID)
}

func TestStoreRewriteReplacesChunks(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a := sampleArtifact("https://docs.example.com/install")
	require.NoError(t, store.Write(a))

	a.Chunks = a.Chunks[:1]
	a.Manifest.ContentHash = ContentHash("shorter")
	require.NoError(t, store.Write(a))

	chunks, err := store.LoadChunks(a.Manifest.DocID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1, "rewrite fully replaces the old chunk file")
}

func TestStoreScanSkipsIncomplete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a := sampleArtifact("https://docs.example.com/a")
	b := sampleArtifact("https://docs.example.com/b")
	require.NoError(t, store.Write(a))
	require.NoError(t, store.Write(b))

	ids, err := store.Scan()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.Manifest.DocID, b.Manifest.DocID}, ids)
}

func TestStoreDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a := sampleArtifact("https://docs.example.com/a")
	require.NoError(t, store.Write(a))
	require.True(t, store.Exists(a.Manifest.DocID))

	require.NoError(t, store.Delete(a.Manifest.DocID))
	assert.False(t, store.Exists(a.Manifest.DocID))
	_, err = store.Load(a.Manifest.DocID)
	assert.Error(t, err)
}
