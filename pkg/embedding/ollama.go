package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Ollama's embedding API moved from /api/embeddings (single prompt) to
// /api/embed (batch input). Both are probed and the working one is
// remembered per client.
type endpoint struct {
	path       string
	payloadKey string
}

var ollamaEndpoints = []endpoint{
	{path: "/api/embed", payloadKey: "input"},
	{path: "/api/embeddings", payloadKey: "prompt"},
}

// Ollama embeds text through an Ollama server.
type Ollama struct {
	host       string
	model      string
	httpClient *http.Client

	mu     sync.Mutex
	cached string
}

func NewOllama(host, model string) *Ollama {
	return &Ollama{
		host:  strings.TrimRight(host, "/"),
		model: model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Ollama) endpoints() []endpoint {
	c.mu.Lock()
	cached := c.cached
	c.mu.Unlock()
	if cached == "" {
		return ollamaEndpoints
	}
	ordered := make([]endpoint, 0, len(ollamaEndpoints))
	for _, ep := range ollamaEndpoints {
		if ep.path == cached {
			ordered = append([]endpoint{ep}, ordered...)
		} else {
			ordered = append(ordered, ep)
		}
	}
	return ordered
}

func (c *Ollama) remember(path string) {
	c.mu.Lock()
	c.cached = path
	c.mu.Unlock()
}

func (c *Ollama) forget(path string) {
	c.mu.Lock()
	if c.cached == path {
		c.cached = ""
	}
	c.mu.Unlock()
}

// GetEmbeddings embeds texts, preserving input order.
func (c *Ollama) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, ep := range c.endpoints() {
		vectors, retry, err := c.embedVia(ctx, ep, texts)
		if err != nil {
			return nil, err
		}
		if retry {
			continue
		}
		c.remember(ep.path)
		return vectors, nil
	}
	return nil, fmt.Errorf("no embedding endpoint found at %s, tried /api/embed and /api/embeddings", c.host)
}

// embedVia tries one endpoint. retry=true means the endpoint does not
// exist on this server and the next one should be probed.
func (c *Ollama) embedVia(ctx context.Context, ep endpoint, texts []string) (vectors [][]float32, retry bool, err error) {
	// The legacy endpoint only accepts one prompt per call.
	if ep.path == "/api/embeddings" && len(texts) > 1 {
		vectors = make([][]float32, 0, len(texts))
		for _, text := range texts {
			vector, notFound, err := c.post(ctx, ep, text)
			if err != nil {
				return nil, false, err
			}
			if notFound {
				c.forget(ep.path)
				return nil, true, nil
			}
			vectors = append(vectors, vector...)
		}
		return vectors, false, nil
	}

	var payload any = texts
	if len(texts) == 1 {
		payload = texts[0]
	}
	vectors, notFound, err := c.post(ctx, ep, payload)
	if err != nil {
		return nil, false, err
	}
	if notFound {
		c.forget(ep.path)
		return nil, true, nil
	}
	return vectors, false, nil
}

func (c *Ollama) post(ctx context.Context, ep endpoint, payload any) (vectors [][]float32, notFound bool, err error) {
	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		ep.payloadKey: payload,
	})
	if err != nil {
		return nil, false, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+ep.path, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("embed endpoint %s returned %d: %s", ep.path, resp.StatusCode, string(raw))
	}

	var parsed struct {
		Embedding  []float32   `json:"embedding"`
		Embeddings [][]float32 `json:"embeddings"`
		Data       []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("decode embed response: %w", err)
	}

	switch {
	case len(parsed.Embeddings) > 0:
		return parsed.Embeddings, false, nil
	case len(parsed.Data) > 0:
		vectors = make([][]float32, 0, len(parsed.Data))
		for _, item := range parsed.Data {
			vectors = append(vectors, item.Embedding)
		}
		return vectors, false, nil
	case len(parsed.Embedding) > 0:
		return [][]float32{parsed.Embedding}, false, nil
	}
	return nil, false, fmt.Errorf("missing embedding in response from %s", ep.path)
}
