package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaBatchEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req["model"])
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "all-minilm")
	vectors, err := c.GetEmbeddings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.3, 0.4}, vectors[1])
}

func TestOllamaFallsBackToLegacyEndpoint(t *testing.T) {
	var legacyHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			http.NotFound(w, r)
		case "/api/embeddings":
			legacyHits.Add(1)
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.IsType(t, "", req["prompt"], "legacy endpoint takes one prompt per call")
			json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.5}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "all-minilm")
	vectors, err := c.GetEmbeddings(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, int64(3), legacyHits.Load())

	// The working endpoint is remembered; the dead one is not re-probed.
	_, err = c.GetEmbeddings(context.Background(), []string{"d"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), legacyHits.Load())
	assert.Equal(t, "/api/embeddings", c.cached)
}

func TestOllamaNoEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewOllama(srv.URL, "all-minilm")
	_, err := c.GetEmbeddings(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding endpoint")
}

func TestOllamaEmptyInput(t *testing.T) {
	c := NewOllama("http://unused", "all-minilm")
	vectors, err := c.GetEmbeddings(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
