// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration loaded from file/environment.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Sqlite    SqliteConfig    `mapstructure:"sqlite"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Browser   BrowserConfig   `mapstructure:"browser"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the fetch loop.
type CrawlerConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	RequestDelay    time.Duration `mapstructure:"request_delay"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxRedirectHops int           `mapstructure:"max_redirect_hops"`
	MaxDepth        int           `mapstructure:"max_depth"`
	PolicyPath      string        `mapstructure:"policy_path"`
	HintsDBPath     string        `mapstructure:"hints_db_path"`
	Seeds           []string      `mapstructure:"seeds"`
}

// ChunkingConfig controls the token-window chunker.
type ChunkingConfig struct {
	Size          int    `mapstructure:"size"`
	Overlap       int    `mapstructure:"overlap"`
	TokenizerPath string `mapstructure:"tokenizer_path"`
}

// ArtifactsConfig sets the on-disk artifact root.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// FrontierConfig sets the bbolt frontier database path.
type FrontierConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// SqliteConfig controls the relational metadata store.
type SqliteConfig struct {
	Path string `mapstructure:"path"`
}

// QdrantConfig points at the vector index.
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

// RedisConfig points at the queue service.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// EmbeddingConfig points at the embedding backend.
type EmbeddingConfig struct {
	Host  string `mapstructure:"host"`
	Model string `mapstructure:"model"`
}

// IngestConfig bounds reconciler batching and fan-out.
type IngestConfig struct {
	EmbedBatchSize     int           `mapstructure:"embed_batch_size"`
	EmbedConcurrency   int           `mapstructure:"embed_concurrency"`
	UpsertBatchSize    int           `mapstructure:"upsert_batch_size"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	StaleJobThreshold  time.Duration `mapstructure:"stale_job_threshold"`
	MinChunkLength     int           `mapstructure:"min_chunk_length"`
	BoilerplateFilters []string      `mapstructure:"boilerplate_filters"`
}

// BrowserConfig configures browser-session fetching and auth profiles.
type BrowserConfig struct {
	Headless          bool                   `mapstructure:"headless"`
	NavigationTimeout time.Duration          `mapstructure:"navigation_timeout"`
	UseForDomains     []string               `mapstructure:"use_for_domains"`
	AuthProfiles      map[string]AuthProfile `mapstructure:"auth_profiles"`
}

// AuthProfile is a named, file-backed authenticated browser session.
type AuthProfile struct {
	StorageStatePath string `mapstructure:"storage_state_path"`
	TestURL          string `mapstructure:"test_url"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TESSERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", "tessera-crawler/1.0")
	v.SetDefault("crawler.request_delay", "1s")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.max_redirect_hops", 10)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.policy_path", "config/policy.yml")
	v.SetDefault("crawler.hints_db_path", "data/frontier/authhints.db")
	v.SetDefault("chunking.size", 512)
	v.SetDefault("chunking.overlap", 128)
	v.SetDefault("artifacts.dir", "data/artifacts")
	v.SetDefault("frontier.db_path", "data/frontier/frontier.db")
	v.SetDefault("sqlite.path", "data/ingest/metadata.db")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "documents")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("ingest.embed_batch_size", 16)
	v.SetDefault("ingest.embed_concurrency", 4)
	v.SetDefault("ingest.upsert_batch_size", 100)
	v.SetDefault("ingest.heartbeat_interval", "10s")
	v.SetDefault("ingest.stale_job_threshold", "5m")
	v.SetDefault("ingest.min_chunk_length", 40)
	v.SetDefault("ingest.boilerplate_filters", []string{
		"skip to main content",
		"burger menu",
		"close menu",
		"sign in to view",
		"sign in",
		"log in",
		"loading",
	})
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "60s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxRedirectHops <= 0 {
		return fmt.Errorf("crawler.max_redirect_hops must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be > 0")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size)")
	}
	if c.Ingest.EmbedBatchSize <= 0 {
		return fmt.Errorf("ingest.embed_batch_size must be > 0")
	}
	if c.Ingest.EmbedConcurrency <= 0 {
		return fmt.Errorf("ingest.embed_concurrency must be > 0")
	}
	if c.Ingest.UpsertBatchSize <= 0 {
		return fmt.Errorf("ingest.upsert_batch_size must be > 0")
	}
	return nil
}

// RequireIngestBackends reports the configuration errors that must abort
// an ingest job at start rather than partway through.
func (c Config) RequireIngestBackends() error {
	if c.Embedding.Host == "" {
		return fmt.Errorf("embedding.host is required for ingest")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required for ingest")
	}
	if c.Qdrant.Host == "" {
		return fmt.Errorf("qdrant.host is required for ingest")
	}
	return nil
}
