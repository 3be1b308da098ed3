package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 512, cfg.Chunking.Size)
	require.Equal(t, 128, cfg.Chunking.Overlap)
	require.Equal(t, 10, cfg.Crawler.MaxRedirectHops)
	require.NotEmpty(t, cfg.Ingest.BoilerplateFilters)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	doc := `
server:
  port: 9191
crawler:
  max_depth: 4
  request_delay: 250ms
embedding:
  host: http://localhost:11434
  model: mxbai-embed-large
qdrant:
  host: localhost
browser:
  auth_profiles:
    intranet:
      storage_state_path: /tmp/state.json
      test_url: https://intranet.example.com/home
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, 4, cfg.Crawler.MaxDepth)
	require.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
	require.Contains(t, cfg.Browser.AuthProfiles, "intranet")
	require.Equal(t, "https://intranet.example.com/home", cfg.Browser.AuthProfiles["intranet"].TestURL)
	require.NoError(t, cfg.RequireIngestBackends())
}

func TestValidateRejectsBadChunking(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Chunking.Overlap = cfg.Chunking.Size
	require.Error(t, cfg.Validate())
}

func TestRequireIngestBackends(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Error(t, cfg.RequireIngestBackends(), "embedding host/model unset by default")
}
