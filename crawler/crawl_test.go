package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProcessor struct {
	processed []FetchedPage
	links     map[string][]string
}

func (p *fakeProcessor) Process(_ context.Context, page FetchedPage) (*ProcessedPage, error) {
	p.processed = append(p.processed, page)
	return &ProcessedPage{DocID: "doc", Links: p.links[page.RequestedURL]}, nil
}

func localPolicy(t *testing.T, serverURL string) *Policy {
	t.Helper()
	return &Policy{
		AllowedDomains: []string{hostOf(t, serverURL)},
		AllowRules: []AllowRule{
			{Pattern: serverURL, Match: MatchPrefix, AllowHTTP: true},
		},
		Auth: DefaultAuthSignatures(),
	}
}

func TestCrawlRunDrainsFrontierAndFollowsLinks(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	for _, path := range []string{"/a", "/b", "/c"} {
		p := path
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html><body>" + p + "</body></html>"))
		})
	}

	policy := localPolicy(t, srv.URL)
	frontier, err := OpenFrontier(filepath.Join(t.TempDir(), "frontier.db"), policy, 3)
	require.NoError(t, err)
	defer frontier.Close()

	processor := &fakeProcessor{links: map[string][]string{
		srv.URL + "/a": {srv.URL + "/b", srv.URL + "/c"},
	}}
	c := NewCrawler(frontier, newTestFetcher(t, policy), nil, policy, nil, processor,
		CrawlerOptions{BatchSize: 10}, zap.NewNop())

	summary, err := c.Run(context.Background(), []string{srv.URL + "/a"})
	require.NoError(t, err)

	require.Equal(t, 3, summary.Fetched)
	require.Equal(t, 3, summary.Discovered, "seed plus two followed links")
	require.Len(t, processor.processed, 3)
	require.Equal(t, 1, processor.processed[1].Depth, "discovered links carry depth+1")
}

func TestCrawlRunCountsNotFoundAndErrors(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	policy := localPolicy(t, srv.URL)
	frontier, err := OpenFrontier(filepath.Join(t.TempDir(), "frontier.db"), policy, 3)
	require.NoError(t, err)
	defer frontier.Close()

	processor := &fakeProcessor{}
	c := NewCrawler(frontier, newTestFetcher(t, policy), nil, policy, nil, processor,
		CrawlerOptions{}, zap.NewNop())

	summary, err := c.Run(context.Background(), []string{srv.URL + "/missing", srv.URL + "/broken"})
	require.NoError(t, err)

	require.Equal(t, 0, summary.Fetched)
	require.Equal(t, 1, summary.NotFound)
	require.Equal(t, 1, summary.Errors)
	require.Empty(t, processor.processed)
}

func TestCrawlRecordsAuthBounces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://cas.example.com/cas/login?service=x")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	policy := localPolicy(t, srv.URL)
	frontier, err := OpenFrontier(filepath.Join(t.TempDir(), "frontier.db"), policy, 3)
	require.NoError(t, err)
	defer frontier.Close()

	hints, err := OpenHintLog(filepath.Join(t.TempDir(), "hints.db"), 10)
	require.NoError(t, err)
	defer hints.Close()

	c := NewCrawler(frontier, newTestFetcher(t, policy), nil, policy, hints, &fakeProcessor{},
		CrawlerOptions{}, zap.NewNop())

	summary, err := c.Run(context.Background(), []string{srv.URL + "/protected"})
	require.NoError(t, err)
	require.Equal(t, 1, summary.AuthRequired)

	byDomain, err := hints.ByDomain()
	require.NoError(t, err)
	require.Contains(t, byDomain, "127.0.0.1")
}
