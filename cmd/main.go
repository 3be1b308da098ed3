package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tessera/api"
	"tessera/artifact"
	"tessera/config"
	"tessera/crawler"
	"tessera/ingest"
	"tessera/pkg/chunking"
	"tessera/pkg/embedding"
	"tessera/pkg/qdrantdb"
	"tessera/pkg/sqlitedb"
	"tessera/queue"
	"tessera/search"
)

func main() {
	mode := flag.String("mode", "serve", "serve | worker | crawl | reconcile | check-auth")
	cfgPath := flag.String("config", "", "path to config file (optional, env vars apply)")
	seeds := flag.String("seeds", "", "comma-separated seed URLs for crawl mode")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	crawler.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "worker":
		err = runWorker(ctx, cfg, logger)
	case "crawl":
		err = runCrawl(ctx, cfg, logger, splitSeeds(*seeds))
	case "reconcile":
		err = runReconcile(ctx, cfg, logger)
	case "check-auth":
		err = runCheckAuth(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Fatal("run failed", zap.String("mode", *mode), zap.Error(err))
	}
}

func splitSeeds(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func authProfiles(cfg config.Config) map[string]crawler.AuthProfile {
	profiles := make(map[string]crawler.AuthProfile, len(cfg.Browser.AuthProfiles))
	for name, p := range cfg.Browser.AuthProfiles {
		profiles[name] = crawler.AuthProfile{
			Name:             name,
			StorageStatePath: p.StorageStatePath,
			TestURL:          p.TestURL,
		}
	}
	return profiles
}

func newBrowser(cfg config.Config, policy *crawler.Policy, logger *zap.Logger) *crawler.Browser {
	return crawler.NewBrowser(
		cfg.Browser.Headless,
		cfg.Browser.NavigationTimeout,
		cfg.Crawler.UserAgent,
		policy.Auth,
		logger,
	)
}

// runServe starts the HTTP API.
func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	policy, err := crawler.LoadPolicy(cfg.Crawler.PolicyPath)
	if err != nil {
		return err
	}

	q, err := queue.New(cfg.Redis.Addr, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	hints, err := crawler.OpenHintLog(cfg.Crawler.HintsDBPath, 50)
	if err != nil {
		return err
	}
	defer hints.Close()

	qdb, err := qdrantdb.NewClient(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection)
	if err != nil {
		return err
	}
	defer qdb.Close()

	embedder := embedding.NewOllama(cfg.Embedding.Host, cfg.Embedding.Model)
	searcher := search.NewSearcher(embedder, qdb, logger)
	browser := newBrowser(cfg, policy, logger)

	// The worker cannot reap its own job if it dies mid-run.
	go func() {
		ticker := time.NewTicker(cfg.Ingest.StaleJobThreshold)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := q.ReapStale(ctx, cfg.Ingest.StaleJobThreshold); err != nil {
					logger.Warn("stale job reap failed", zap.Error(err))
				}
			}
		}
	}()

	server := api.NewServer(q, searcher, browser, hints, api.ServerOptions{
		Profiles:   authProfiles(cfg),
		StaleAfter: cfg.Ingest.StaleJobThreshold,
	}, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("api listening", zap.Int("port", cfg.Server.Port))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runWorker starts the queue worker with ingest and crawl handlers.
func runWorker(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := cfg.RequireIngestBackends(); err != nil {
		return err
	}

	policy, err := crawler.LoadPolicy(cfg.Crawler.PolicyPath)
	if err != nil {
		return err
	}

	q, err := queue.New(cfg.Redis.Addr, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	store, err := artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return err
	}
	db, err := sqlitedb.Open(cfg.Sqlite.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	qdb, err := qdrantdb.NewClient(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection)
	if err != nil {
		return err
	}
	defer qdb.Close()
	qdb.SetUpsertBatchSize(cfg.Ingest.UpsertBatchSize)

	embedder := embedding.NewOllama(cfg.Embedding.Host, cfg.Embedding.Model)
	filter := ingest.NewChunkFilter(cfg.Ingest.MinChunkLength, cfg.Ingest.BoilerplateFilters)

	worker := queue.NewWorker(q, queue.WorkerOptions{
		HeartbeatInterval: cfg.Ingest.HeartbeatInterval,
	}, logger)

	worker.Handle("ingest", func(jobCtx context.Context, job *queue.Job, rep *queue.Reporter) error {
		rec := ingest.NewReconciler(store, db, qdb, embedder, filter, ingest.ReconcilerOptions{
			EmbedBatchSize:   cfg.Ingest.EmbedBatchSize,
			EmbedConcurrency: cfg.Ingest.EmbedConcurrency,
			Paths:            job.Submission.ArtifactPaths,
			Report:           func(line string) { rep.Log(jobCtx, line) },
			Begin:            func(total int) { rep.Start(jobCtx, total) },
			Stop:             rep.Stopping,
		}, logger)
		summary, err := rec.Run(jobCtx)
		if err != nil {
			return err
		}
		rep.Progress(jobCtx, summary.Scanned, summary.Scanned)
		return nil
	})

	worker.Handle("crawl", func(jobCtx context.Context, _ *queue.Job, rep *queue.Reporter) error {
		summary, err := crawlOnce(jobCtx, cfg, policy, logger, cfg.Crawler.Seeds)
		if err != nil {
			return err
		}
		raw, _ := json.Marshal(summary)
		rep.Log(jobCtx, string(raw))
		rep.Progress(jobCtx, summary.Fetched, summary.Fetched+summary.Errors)
		return nil
	})

	logger.Info("worker started", zap.String("redis", cfg.Redis.Addr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// runCrawl does a one-shot crawl and persists the run summary next to
// the artifacts.
func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger, seeds []string) error {
	policy, err := crawler.LoadPolicy(cfg.Crawler.PolicyPath)
	if err != nil {
		return err
	}
	summary, err := crawlOnce(ctx, cfg, policy, logger, seeds)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.Artifacts.Dir, "crawl_summary.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write crawl summary: %w", err)
	}
	logger.Info("crawl summary written", zap.String("path", path))
	return nil
}

func crawlOnce(ctx context.Context, cfg config.Config, policy *crawler.Policy, logger *zap.Logger, seeds []string) (crawler.RunSummary, error) {
	var summary crawler.RunSummary

	if len(seeds) == 0 {
		seeds = cfg.Crawler.Seeds
	}
	if len(seeds) == 0 {
		seeds = policy.SeedURLs
	}
	if len(seeds) == 0 {
		return summary, fmt.Errorf("no seeds: pass -seeds, set crawler.seeds, or add seed_urls to the policy")
	}

	frontier, err := crawler.OpenFrontier(cfg.Frontier.DBPath, policy, cfg.Crawler.MaxDepth)
	if err != nil {
		return summary, err
	}
	defer frontier.Close()

	hints, err := crawler.OpenHintLog(cfg.Crawler.HintsDBPath, 50)
	if err != nil {
		return summary, err
	}
	defer hints.Close()

	store, err := artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return summary, err
	}
	db, err := sqlitedb.Open(cfg.Sqlite.Path)
	if err != nil {
		return summary, err
	}
	defer db.Close()

	encoder, err := chunking.NewHFEncoder(cfg.Chunking.TokenizerPath)
	if err != nil {
		return summary, err
	}
	defer encoder.Close()
	chunker, err := chunking.NewChunker(encoder, cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return summary, err
	}

	fetcher := crawler.NewFetcher(policy, cfg.Crawler.UserAgent, cfg.Crawler.RequestTimeout, cfg.Crawler.MaxRedirectHops, logger)
	browser := newBrowser(cfg, policy, logger)
	pipeline := ingest.NewPipeline(policy, chunker, store, db, logger)

	c := crawler.NewCrawler(frontier, fetcher, browser, policy, hints, pipeline, crawler.CrawlerOptions{
		Delay:          cfg.Crawler.RequestDelay,
		BrowserDomains: cfg.Browser.UseForDomains,
		Profiles:       authProfiles(cfg),
	}, logger)

	return c.Run(ctx, seeds)
}

// runReconcile does a one-shot reconcile and prints the summary.
func runReconcile(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := cfg.RequireIngestBackends(); err != nil {
		return err
	}

	store, err := artifact.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		return err
	}
	db, err := sqlitedb.Open(cfg.Sqlite.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	qdb, err := qdrantdb.NewClient(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection)
	if err != nil {
		return err
	}
	defer qdb.Close()
	qdb.SetUpsertBatchSize(cfg.Ingest.UpsertBatchSize)

	embedder := embedding.NewOllama(cfg.Embedding.Host, cfg.Embedding.Model)
	filter := ingest.NewChunkFilter(cfg.Ingest.MinChunkLength, cfg.Ingest.BoilerplateFilters)

	rec := ingest.NewReconciler(store, db, qdb, embedder, filter, ingest.ReconcilerOptions{
		EmbedBatchSize:   cfg.Ingest.EmbedBatchSize,
		EmbedConcurrency: cfg.Ingest.EmbedConcurrency,
	}, logger)

	summary, err := rec.Run(ctx)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

// runCheckAuth validates every configured auth profile and prints the
// results.
func runCheckAuth(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	policy, err := crawler.LoadPolicy(cfg.Crawler.PolicyPath)
	if err != nil {
		return err
	}
	browser := newBrowser(cfg, policy, logger)

	profiles := authProfiles(cfg)
	if len(profiles) == 0 {
		return fmt.Errorf("no auth profiles configured")
	}

	results := make([]crawler.AuthCheckResult, 0, len(profiles))
	for _, profile := range profiles {
		results = append(results, browser.ValidateProfile(ctx, profile))
	}
	raw, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
