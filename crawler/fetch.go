package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FetchStatus is the terminal classification of one logical fetch.
type FetchStatus string

// maxBodyBytes caps how much of a response body is read. A page past
// this size is kept truncated rather than buffered whole.
const maxBodyBytes = 20 << 20 // 20 MiB

const (
	StatusOK           FetchStatus = "ok"
	StatusAuthRequired FetchStatus = "auth_required"
	StatusBlocked      FetchStatus = "blocked_redirect"
	StatusNotFound     FetchStatus = "not_found"
	StatusHTTPError    FetchStatus = "http_error"
)

// RedirectHop records one followed redirect.
type RedirectHop struct {
	From       string `json:"from"`
	To         string `json:"to"`
	StatusCode int    `json:"status_code"`
}

// FetchResult is the outcome of a redirect-safe fetch.
type FetchResult struct {
	OK            bool
	Status        FetchStatus
	StatusCode    int
	FinalURL      string
	Body          []byte
	ContentType   string
	RedirectChain []RedirectHop
	BlockedTarget string
	Auth          *AuthBounce
	// Truncated marks a body cut off at maxBodyBytes.
	Truncated bool
}

// Fetcher performs one logical fetch per URL, walking each redirect hop
// manually. Before following a hop it classifies the target against the
// identity-provider signatures (returning AuthRequired without issuing
// the next request) and re-applies the policy filter (returning Blocked
// on a disallowed target). It never silently follows a redirect into
// authentication or disallowed territory.
type Fetcher struct {
	client    *http.Client
	policy    *Policy
	userAgent string
	maxHops   int
	maxBody   int64
	logger    *zap.Logger
}

// NewFetcher builds a fetcher whose HTTP client has redirect following
// disabled; hops are handled explicitly in Fetch.
func NewFetcher(policy *Policy, userAgent string, timeout time.Duration, maxHops int, logger *zap.Logger) *Fetcher {
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Fetcher{
		client:    client,
		policy:    policy,
		userAgent: userAgent,
		maxHops:   maxHops,
		maxBody:   maxBodyBytes,
		logger:    logger,
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func normalizeContentType(value string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(value, ";")[0]))
}

// Fetch retrieves rawURL, following up to maxHops redirects.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) FetchResult {
	var chain []RedirectHop
	current := rawURL
	lastStatus := 0

	for hop := 0; hop < f.maxHops; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return FetchResult{Status: StatusHTTPError, FinalURL: current, RedirectChain: chain}
		}
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.Warn("fetch failed", zap.String("url", current), zap.Error(err))
			return FetchResult{Status: StatusHTTPError, FinalURL: current, RedirectChain: chain}
		}
		lastStatus = resp.StatusCode

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			resp.Body.Close()
			if location == "" {
				return FetchResult{
					Status:        StatusHTTPError,
					StatusCode:    resp.StatusCode,
					FinalURL:      current,
					RedirectChain: chain,
				}
			}
			target := resolveLocation(current, location)
			chain = append(chain, RedirectHop{From: current, To: target, StatusCode: resp.StatusCode})

			if pattern := f.policy.Auth.MatchRedirect(target); pattern != "" {
				parsed, _ := url.Parse(target)
				host := ""
				if parsed != nil {
					host = parsed.Hostname()
				}
				return FetchResult{
					Status:        StatusAuthRequired,
					StatusCode:    resp.StatusCode,
					FinalURL:      current,
					RedirectChain: chain,
					Auth: &AuthBounce{
						OriginalURL:    rawURL,
						RedirectTarget: target,
						RedirectHost:   host,
						MatchedPattern: pattern,
					},
				}
			}
			if !f.policy.IsAllowed(target) {
				return FetchResult{
					Status:        StatusBlocked,
					StatusCode:    resp.StatusCode,
					FinalURL:      current,
					RedirectChain: chain,
					BlockedTarget: target,
				}
			}
			current = target
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			// Read one byte past the cap to tell "exactly at the cap"
			// apart from "cut off".
			body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
			resp.Body.Close()
			if err != nil {
				return FetchResult{
					Status:        StatusHTTPError,
					StatusCode:    resp.StatusCode,
					FinalURL:      current,
					RedirectChain: chain,
				}
			}
			truncated := false
			if int64(len(body)) > f.maxBody {
				body = body[:f.maxBody]
				truncated = true
				f.logger.Warn("response body truncated",
					zap.String("url", current), zap.Int64("limit", f.maxBody))
			}
			contentType := resp.Header.Get("Content-Type")
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			return FetchResult{
				OK:            true,
				Status:        StatusOK,
				StatusCode:    resp.StatusCode,
				FinalURL:      current,
				Body:          body,
				ContentType:   normalizeContentType(contentType),
				RedirectChain: chain,
				Truncated:     truncated,
			}
		}

		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return FetchResult{
				Status:        StatusNotFound,
				StatusCode:    resp.StatusCode,
				FinalURL:      current,
				RedirectChain: chain,
			}
		}
		return FetchResult{
			Status:        StatusHTTPError,
			StatusCode:    resp.StatusCode,
			FinalURL:      current,
			RedirectChain: chain,
		}
	}

	// Ran out of redirect hops.
	return FetchResult{
		Status:        StatusHTTPError,
		StatusCode:    lastStatus,
		FinalURL:      current,
		RedirectChain: chain,
	}
}

func resolveLocation(base, location string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return baseURL.ResolveReference(ref).String()
}
