package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FetchedPage is a successfully fetched document handed to the
// downstream pipeline.
type FetchedPage struct {
	RequestedURL string
	FinalURL     string
	Body         []byte
	ContentType  string
	Depth        int
}

// ProcessedPage is what the pipeline reports back after persisting a
// page. Links feed the next frontier generation.
type ProcessedPage struct {
	DocID string
	Links []string
}

// PageProcessor turns a fetched page into a stored artifact. The
// crawler does not know about parsing or storage.
type PageProcessor interface {
	Process(ctx context.Context, page FetchedPage) (*ProcessedPage, error)
}

// RunSummary is the end-of-run accounting for one crawl.
type RunSummary struct {
	Fetched      int            `json:"fetched"`
	AuthRequired int            `json:"auth_required"`
	Blocked      int            `json:"blocked"`
	NotFound     int            `json:"not_found"`
	Errors       int            `json:"errors"`
	Discovered   int            `json:"discovered"`
	ByStatus     map[string]int `json:"by_status"`
	Elapsed      time.Duration  `json:"elapsed"`
}

// Crawler drains the frontier, fetches each candidate with the right
// mode, and feeds successes to the page processor.
type Crawler struct {
	frontier  *Frontier
	fetcher   *Fetcher
	browser   *Browser
	policy    *Policy
	hints     *HintLog
	processor PageProcessor
	logger    *zap.Logger

	delay          time.Duration
	batchSize      int
	browserDomains []string
	profiles       map[string]AuthProfile
}

// CrawlerOptions bundles the knobs for a crawl run.
type CrawlerOptions struct {
	Delay          time.Duration
	BatchSize      int
	BrowserDomains []string
	Profiles       map[string]AuthProfile
}

func NewCrawler(
	frontier *Frontier,
	fetcher *Fetcher,
	browser *Browser,
	policy *Policy,
	hints *HintLog,
	processor PageProcessor,
	opts CrawlerOptions,
	logger *zap.Logger,
) *Crawler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Crawler{
		frontier:       frontier,
		fetcher:        fetcher,
		browser:        browser,
		policy:         policy,
		hints:          hints,
		processor:      processor,
		logger:         logger,
		delay:          opts.Delay,
		batchSize:      opts.BatchSize,
		browserDomains: opts.BrowserDomains,
		profiles:       opts.Profiles,
	}
}

// Run crawls from the given seeds until the frontier is drained or the
// context is cancelled.
func (c *Crawler) Run(ctx context.Context, seeds []string) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{ByStatus: map[string]int{}}

	added, err := c.frontier.Append(seeds, "seed", 0)
	if err != nil {
		return summary, fmt.Errorf("seed frontier: %w", err)
	}
	summary.Discovered += added
	observeDiscovered(added)

	for {
		batch, err := c.frontier.NextBatch(c.batchSize)
		if err != nil {
			return summary, fmt.Errorf("next frontier batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, candidate := range batch {
			if err := c.pause(ctx); err != nil {
				summary.Elapsed = time.Since(start)
				return summary, err
			}
			c.visit(ctx, candidate, &summary)
		}
	}

	summary.Elapsed = time.Since(start)
	c.logger.Info("crawl run finished",
		zap.Int("fetched", summary.Fetched),
		zap.Int("auth_required", summary.AuthRequired),
		zap.Int("blocked", summary.Blocked),
		zap.Int("not_found", summary.NotFound),
		zap.Int("errors", summary.Errors),
		zap.Int("discovered", summary.Discovered),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

func (c *Crawler) pause(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.delay):
		return nil
	}
}

func (c *Crawler) visit(ctx context.Context, candidate Candidate, summary *RunSummary) {
	host := hostname(candidate.URL)
	mode := "http"
	profile, useBrowser := c.fetchMode(candidate.URL, host)
	if useBrowser {
		mode = "browser"
	}

	fetchStart := time.Now()
	var result FetchResult
	if useBrowser && c.browser != nil {
		result = c.browser.Fetch(ctx, profile, candidate.URL)
	} else {
		result = c.fetcher.Fetch(ctx, candidate.URL)
	}
	observeFetchDuration(mode, time.Since(fetchStart).Seconds())
	observeFetch(host, result.Status, len(result.Body))
	summary.ByStatus[string(result.Status)]++

	switch result.Status {
	case StatusOK:
		summary.Fetched++
		c.process(ctx, candidate, result, summary)
	case StatusAuthRequired:
		summary.AuthRequired++
		if result.Auth != nil {
			observeAuthBounce(result.Auth.RedirectHost)
			if c.hints != nil {
				if err := c.hints.Record(*result.Auth); err != nil {
					c.logger.Warn("record auth hint", zap.Error(err))
				}
			}
			c.logger.Info("auth required",
				zap.String("url", candidate.URL),
				zap.String("redirect_host", result.Auth.RedirectHost),
				zap.String("pattern", result.Auth.MatchedPattern))
		}
	case StatusBlocked:
		summary.Blocked++
		c.logger.Debug("redirect target blocked by policy",
			zap.String("url", candidate.URL),
			zap.String("target", result.BlockedTarget))
	case StatusNotFound:
		summary.NotFound++
	default:
		summary.Errors++
		c.logger.Warn("fetch failed",
			zap.String("url", candidate.URL),
			zap.Int("status_code", result.StatusCode))
	}
}

func (c *Crawler) process(ctx context.Context, candidate Candidate, result FetchResult, summary *RunSummary) {
	page := FetchedPage{
		RequestedURL: candidate.URL,
		FinalURL:     result.FinalURL,
		Body:         result.Body,
		ContentType:  result.ContentType,
		Depth:        candidate.Depth,
	}
	processed, err := c.processor.Process(ctx, page)
	if err != nil {
		summary.Errors++
		c.logger.Error("process page", zap.String("url", candidate.URL), zap.Error(err))
		return
	}
	if len(processed.Links) == 0 {
		return
	}
	added, err := c.frontier.Append(processed.Links, candidate.URL, candidate.Depth+1)
	if err != nil {
		c.logger.Warn("append discovered links", zap.Error(err))
		return
	}
	summary.Discovered += added
	observeDiscovered(added)
}

// fetchMode decides whether a URL goes through the browser session and
// with which profile. A rule-bound auth profile wins over the per-host
// browser list.
func (c *Crawler) fetchMode(rawURL, host string) (AuthProfile, bool) {
	if name := c.policy.AuthProfileFor(rawURL); name != "" {
		if profile, ok := c.profiles[name]; ok {
			return profile, true
		}
		c.logger.Warn("auth profile not configured", zap.String("profile", name), zap.String("url", rawURL))
	}
	for _, domain := range c.browserDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return AuthProfile{}, true
		}
	}
	return AuthProfile{}, false
}
