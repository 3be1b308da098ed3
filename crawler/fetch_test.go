package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFetcher(t *testing.T, policy *Policy) *Fetcher {
	t.Helper()
	return NewFetcher(policy, "tessera-test/1.0", 5*time.Second, 10, zap.NewNop())
}

func hostOf(t *testing.T, serverURL string) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	return u.Host
}

func TestFetchFollowsRedirectChain(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/hop1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hop2", http.StatusFound)
	})
	mux.HandleFunc("/hop2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>destination</body></html>"))
	})

	policy := &Policy{AllowedDomains: []string{hostOf(t, srv.URL)}, Auth: DefaultAuthSignatures()}
	f := newTestFetcher(t, policy)

	res := f.Fetch(context.Background(), srv.URL+"/hop1")
	require.True(t, res.OK)
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, srv.URL+"/hop2", res.FinalURL)
	require.Equal(t, "text/html", res.ContentType)
	require.Len(t, res.RedirectChain, 1)
	require.Contains(t, string(res.Body), "destination")
}

func TestFetchBlockedRedirectNeverReachesTarget(t *testing.T) {
	var blockedHits atomic.Int64
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blockedHits.Add(1)
	}))
	defer blocked.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, blocked.URL+"/payload", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	policy := &Policy{
		AllowedDomains: []string{hostOf(t, srv.URL)},
		BlockedDomains: []string{hostOf(t, blocked.URL)},
		Auth:           DefaultAuthSignatures(),
	}
	f := newTestFetcher(t, policy)

	res := f.Fetch(context.Background(), srv.URL+"/start")
	require.False(t, res.OK)
	require.Equal(t, StatusBlocked, res.Status)
	require.Equal(t, blocked.URL+"/payload", res.BlockedTarget)
	require.Empty(t, res.Body)
	require.Equal(t, int64(0), blockedHits.Load(), "no request may be issued to the blocked target")
}

func TestFetchAuthRedirectShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://cas.university.edu/cas/login?service=https%3A%2F%2Fexample.com")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	policy := &Policy{AllowedDomains: []string{hostOf(t, srv.URL)}, Auth: DefaultAuthSignatures()}
	f := newTestFetcher(t, policy)

	res := f.Fetch(context.Background(), srv.URL+"/doc")
	require.Equal(t, StatusAuthRequired, res.Status)
	require.NotNil(t, res.Auth)
	require.Equal(t, srv.URL+"/doc", res.Auth.OriginalURL)
	require.Equal(t, "cas.university.edu", res.Auth.RedirectHost)
	require.NotEmpty(t, res.Auth.MatchedPattern)
}

func TestFetchNotFoundIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	policy := &Policy{AllowedDomains: []string{hostOf(t, srv.URL)}, Auth: DefaultAuthSignatures()}
	f := newTestFetcher(t, policy)

	res := f.Fetch(context.Background(), srv.URL+"/gone")
	require.Equal(t, StatusNotFound, res.Status)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestFetchRedirectWithoutLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	policy := &Policy{AllowedDomains: []string{hostOf(t, srv.URL)}, Auth: DefaultAuthSignatures()}
	f := newTestFetcher(t, policy)

	res := f.Fetch(context.Background(), srv.URL+"/odd")
	require.Equal(t, StatusHTTPError, res.Status)
}

func TestFetchHopLimit(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})

	policy := &Policy{AllowedDomains: []string{hostOf(t, srv.URL)}, Auth: DefaultAuthSignatures()}
	f := NewFetcher(policy, "tessera-test/1.0", 5*time.Second, 3, zap.NewNop())

	res := f.Fetch(context.Background(), srv.URL+"/loop")
	require.Equal(t, StatusHTTPError, res.Status)
	require.Len(t, res.RedirectChain, 3)
}

func TestFetchTruncatesOversizedBody(t *testing.T) {
	big := make([]byte, 64)
	for i := range big {
		big[i] = 'a'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write(big)
	}))
	defer srv.Close()

	policy := &Policy{AllowedDomains: []string{hostOf(t, srv.URL)}, Auth: DefaultAuthSignatures()}
	f := newTestFetcher(t, policy)
	f.maxBody = 16

	res := f.Fetch(context.Background(), srv.URL+"/big")
	require.True(t, res.OK)
	require.True(t, res.Truncated)
	require.Len(t, res.Body, 16)
}

func TestFetchBodyAtCapIsNotTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789abcdef"))
	}))
	defer srv.Close()

	policy := &Policy{AllowedDomains: []string{hostOf(t, srv.URL)}, Auth: DefaultAuthSignatures()}
	f := newTestFetcher(t, policy)
	f.maxBody = 16

	res := f.Fetch(context.Background(), srv.URL+"/exact")
	require.True(t, res.OK)
	require.False(t, res.Truncated)
	require.Len(t, res.Body, 16)
}
