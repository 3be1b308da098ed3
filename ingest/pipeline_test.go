package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"tessera/artifact"
	"tessera/crawler"
	"tessera/pkg/chunking"
	"tessera/pkg/sqlitedb"
)

type splitEncoder struct {
	words []string
	ids   map[string]uint32
}

func (e *splitEncoder) Encode(text string) []uint32 {
	var out []uint32
	for _, w := range strings.Fields(text) {
		id, ok := e.ids[w]
		if !ok {
			if e.ids == nil {
				e.ids = map[string]uint32{}
			}
			id = uint32(len(e.words))
			e.ids[w] = id
			e.words = append(e.words, w)
		}
		out = append(out, id)
	}
	return out
}

func (e *splitEncoder) Decode(ids []uint32) string {
	words := make([]string, len(ids))
	for i, id := range ids {
		words[i] = e.words[id]
	}
	return strings.Join(words, " ")
}

func newTestPipeline(t *testing.T) (*Pipeline, *artifact.Store, *sqlitedb.DB) {
	t.Helper()
	store, err := artifact.NewStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	chunker, err := chunking.NewChunker(&splitEncoder{}, 8, 2)
	require.NoError(t, err)
	policy := &crawler.Policy{AllowedDomains: []string{"docs.example.com"}}
	return NewPipeline(policy, chunker, store, db, zap.NewNop()), store, db
}

func TestPipelineCapturesHTMLPage(t *testing.T) {
	p, store, _ := newTestPipeline(t)

	body := []byte(`<html><head><title>Guide</title></head><body><main>
		<p>one two three four five six seven eight nine ten eleven twelve</p>
		<a href="/next">next</a>
	</main></body></html>`)

	out, err := p.Process(context.Background(), crawler.FetchedPage{
		RequestedURL: "https://docs.example.com/guide",
		FinalURL:     "https://docs.example.com/guide",
		Body:         body,
		ContentType:  "text/html",
	})
	require.NoError(t, err)
	assert.Contains(t, out.Links, "https://docs.example.com/next")

	stored, err := store.Load(out.DocID)
	require.NoError(t, err)
	assert.Equal(t, "Guide", stored.Manifest.Title)
	assert.Equal(t, "html", stored.Manifest.Parser)
	assert.Equal(t, artifact.ContentHash(stored.Manifest.Text), stored.Manifest.ContentHash)
	require.NotEmpty(t, stored.Chunks)
	assert.Equal(t, out.DocID+"_0", stored.Chunks[0].ChunkID)
}

func TestPipelineSameContentSameHash(t *testing.T) {
	p, store, _ := newTestPipeline(t)

	page := crawler.FetchedPage{
		RequestedURL: "https://docs.example.com/a",
		FinalURL:     "https://docs.example.com/a",
		Body:         []byte(`<html><body><p>stable body text for hashing</p></body></html>`),
		ContentType:  "text/html",
	}
	first, err := p.Process(context.Background(), page)
	require.NoError(t, err)
	m1, err := store.LoadManifest(first.DocID)
	require.NoError(t, err)

	// Same content delivered with different surrounding whitespace.
	page.Body = []byte("<html><body>\n\n  <p>stable   body text\tfor hashing</p>\n</body></html>")
	second, err := p.Process(context.Background(), page)
	require.NoError(t, err)
	m2, err := store.LoadManifest(second.DocID)
	require.NoError(t, err)

	assert.Equal(t, first.DocID, second.DocID)
	assert.Equal(t, m1.ContentHash, m2.ContentHash, "whitespace-only changes do not alter the hash")
}

func TestPipelineNonHTMLDropsLinks(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	out, err := p.Process(context.Background(), crawler.FetchedPage{
		RequestedURL: "https://docs.example.com/notes.txt",
		FinalURL:     "https://docs.example.com/notes.txt",
		Body:         []byte("plain notes with some https://docs.example.com/other text"),
		ContentType:  "text/plain",
	})
	require.NoError(t, err)
	assert.Empty(t, out.Links)
}

func buildTestWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Inventory"))
	require.NoError(t, f.SetCellValue("Inventory", "A1", "asset"))
	require.NoError(t, f.SetCellValue("Inventory", "A2", "switch-04"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestPipelineStoresWorkbookStructure(t *testing.T) {
	p, _, db := newTestPipeline(t)

	f := buildTestWorkbook(t)
	out, err := p.Process(context.Background(), crawler.FetchedPage{
		RequestedURL: "https://docs.example.com/infra.xlsx",
		FinalURL:     "https://docs.example.com/infra.xlsx",
		Body:         f,
		ContentType:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	})
	require.NoError(t, err)

	names, err := db.SheetNames(context.Background(), out.DocID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Inventory"}, names)
}
