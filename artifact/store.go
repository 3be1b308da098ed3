package artifact

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	manifestFile = "artifact.json"
	markdownFile = "content.md"
	chunksFile   = "chunks.jsonl"
)

// DocID derives the stable document identity from a canonical URL.
func DocID(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

// ContentHash fingerprints the chunkable text. Re-ingest is skipped
// when the hash is unchanged.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Manifest is the per-document metadata record.
type Manifest struct {
	DocID        string         `json:"doc_id"`
	URL          string         `json:"url"`
	CanonicalURL string         `json:"canonical_url"`
	FinalURL     string         `json:"final_url"`
	ContentType  string         `json:"content_type"`
	Parser       string         `json:"parser"`
	StatusCode   int            `json:"status_code"`
	MarkdownPath string         `json:"markdown_path"`
	Meta         map[string]any `json:"meta"`
	ContentHash  string         `json:"content_hash"`
	FetchedAt    time.Time      `json:"fetched_at"`
	Title        string         `json:"title"`
	Text         string         `json:"text"`
}

// Chunk is one line of chunks.jsonl.
type Chunk struct {
	ChunkID    string `json:"chunk_id"`
	DocID      string `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// Artifact bundles a manifest with its chunks.
type Artifact struct {
	Manifest Manifest
	Markdown string
	Chunks   []Chunk
}

// ChunkID names chunk index within doc.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_%d", docID, index)
}

// Store keeps one directory per document under a root directory.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) docDir(docID string) string {
	return filepath.Join(s.root, docID)
}

// Write persists an artifact. The document directory is staged under a
// temporary name and renamed into place, so readers never observe a
// half-written artifact.
func (s *Store) Write(a Artifact) error {
	if a.Manifest.DocID == "" {
		return fmt.Errorf("artifact has no doc_id")
	}
	a.Manifest.MarkdownPath = markdownFile

	staging, err := os.MkdirTemp(s.root, ".staging-"+a.Manifest.DocID+"-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := os.WriteFile(filepath.Join(staging, markdownFile), []byte(a.Markdown), 0o644); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}

	manifest, err := json.MarshalIndent(a.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, manifestFile), manifest, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	chunksPath := filepath.Join(staging, chunksFile)
	f, err := os.Create(chunksPath)
	if err != nil {
		return fmt.Errorf("create chunks file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, chunk := range a.Chunks {
		if err := enc.Encode(chunk); err != nil {
			f.Close()
			return fmt.Errorf("write chunk %s: %w", chunk.ChunkID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush chunks: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chunks: %w", err)
	}

	final := s.docDir(a.Manifest.DocID)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("clear previous artifact: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// LoadManifest reads just the manifest for docID.
func (s *Store) LoadManifest(docID string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(s.docDir(docID), manifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", docID, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", docID, err)
	}
	return &m, nil
}

// LoadChunks reads the chunk lines for docID in file order.
func (s *Store) LoadChunks(docID string) ([]Chunk, error) {
	f, err := os.Open(filepath.Join(s.docDir(docID), chunksFile))
	if err != nil {
		return nil, fmt.Errorf("open chunks %s: %w", docID, err)
	}
	defer f.Close()

	var chunks []Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk Chunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("parse chunk line in %s: %w", docID, err)
		}
		chunks = append(chunks, chunk)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan chunks %s: %w", docID, err)
	}
	return chunks, nil
}

// Load reads the whole artifact for docID.
func (s *Store) Load(docID string) (*Artifact, error) {
	manifest, err := s.LoadManifest(docID)
	if err != nil {
		return nil, err
	}
	markdown, err := os.ReadFile(filepath.Join(s.docDir(docID), markdownFile))
	if err != nil {
		return nil, fmt.Errorf("read markdown %s: %w", docID, err)
	}
	chunks, err := s.LoadChunks(docID)
	if err != nil {
		return nil, err
	}
	return &Artifact{Manifest: *manifest, Markdown: string(markdown), Chunks: chunks}, nil
}

// Scan lists every stored doc_id. Incomplete staging directories are
// skipped.
func (s *Store) Scan() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("scan artifact root: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), manifestFile)); err != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	return ids, nil
}

// Exists reports whether a complete artifact exists for docID.
func (s *Store) Exists(docID string) bool {
	_, err := os.Stat(filepath.Join(s.docDir(docID), manifestFile))
	return err == nil
}

// Delete removes the artifact directory for docID.
func (s *Store) Delete(docID string) error {
	if err := os.RemoveAll(s.docDir(docID)); err != nil {
		return fmt.Errorf("delete artifact %s: %w", docID, err)
	}
	return nil
}
