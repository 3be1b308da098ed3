package crawler

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCandidates = []byte("candidates")
	bucketSeen       = []byte("candidate_urls")
	bucketProcessed  = []byte("processed")
)

// Candidate is one discovered URL waiting to be processed.
type Candidate struct {
	URL          string    `json:"url"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Source       string    `json:"source"`
	Depth        int       `json:"depth"`
}

// Frontier is the durable discovered-URL log plus the processed set,
// backed by bbolt so both survive process restarts. Candidates are
// append-only and deduplicated by canonical URL; the configured depth
// bound is enforced on append.
type Frontier struct {
	db       *bolt.DB
	policy   *Policy
	maxDepth int
}

// OpenFrontier opens (creating if needed) the frontier database.
func OpenFrontier(path string, policy *Policy, maxDepth int) (*Frontier, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create frontier dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open frontier db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCandidates, bucketSeen, bucketProcessed} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create frontier buckets: %w", err)
	}
	return &Frontier{db: db, policy: policy, maxDepth: maxDepth}, nil
}

// Close closes the underlying database.
func (f *Frontier) Close() error {
	return f.db.Close()
}

// Append canonicalizes and records new candidates, returning how many
// were actually added. URLs already recorded (in any state) are skipped;
// the whole call is a no-op when depth exceeds the configured maximum.
func (f *Frontier) Append(urls []string, source string, depth int) (int, error) {
	if depth > f.maxDepth {
		return 0, nil
	}
	added := 0
	now := time.Now().UTC()
	err := f.db.Update(func(tx *bolt.Tx) error {
		candidates := tx.Bucket(bucketCandidates)
		seen := tx.Bucket(bucketSeen)
		for _, raw := range urls {
			canonical, err := f.policy.Canonicalize(raw)
			if err != nil {
				continue
			}
			if seen.Get([]byte(canonical)) != nil {
				continue
			}
			seq, err := candidates.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			entry, err := json.Marshal(Candidate{
				URL:          canonical,
				DiscoveredAt: now,
				Source:       source,
				Depth:        depth,
			})
			if err != nil {
				return fmt.Errorf("marshal candidate: %w", err)
			}
			if err := candidates.Put(key, entry); err != nil {
				return fmt.Errorf("append candidate: %w", err)
			}
			if err := seen.Put([]byte(canonical), key); err != nil {
				return fmt.Errorf("index candidate: %w", err)
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// NextBatch returns up to limit unprocessed, depth-valid, policy-allowed
// candidates in discovery order. Every returned candidate is marked
// processed before this call returns, so a failed fetch is not retried
// within the same crawl run.
func (f *Frontier) NextBatch(limit int) ([]Candidate, error) {
	var batch []Candidate
	err := f.db.Update(func(tx *bolt.Tx) error {
		candidates := tx.Bucket(bucketCandidates)
		processed := tx.Bucket(bucketProcessed)
		cursor := candidates.Cursor()
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			if limit > 0 && len(batch) >= limit {
				break
			}
			var candidate Candidate
			if err := json.Unmarshal(value, &candidate); err != nil {
				continue
			}
			if processed.Get([]byte(candidate.URL)) != nil {
				continue
			}
			if candidate.Depth > f.maxDepth {
				continue
			}
			if !f.policy.IsAllowed(candidate.URL) {
				continue
			}
			stamp, err := time.Now().UTC().MarshalText()
			if err != nil {
				return err
			}
			if err := processed.Put([]byte(candidate.URL), stamp); err != nil {
				return fmt.Errorf("mark processed: %w", err)
			}
			batch = append(batch, candidate)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// IsProcessed reports whether a canonical URL was already handled.
func (f *Frontier) IsProcessed(canonicalURL string) (bool, error) {
	var found bool
	err := f.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketProcessed).Get([]byte(canonicalURL)) != nil
		return nil
	})
	return found, err
}
