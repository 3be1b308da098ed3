package crawler

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketHintDomains = []byte("hint_domains")
	bucketHintRecent  = []byte("hint_recent")
)

// DomainHint aggregates auth bounces seen for one domain. Domains with
// entries here likely need an authenticated profile configured.
type DomainHint struct {
	Count              int       `json:"count"`
	LastSeen           time.Time `json:"last_seen"`
	RedirectHost       string    `json:"redirect_host"`
	MatchedAuthPattern string    `json:"matched_auth_pattern"`
}

// HintEntry is one recorded auth bounce.
type HintEntry struct {
	AuthBounce
	LastSeen time.Time `json:"last_seen"`
}

// HintLog is the persisted auth hint log: per-domain counters plus an
// append-only, capped-length list of recent bounces.
type HintLog struct {
	db  *bolt.DB
	max int
}

// OpenHintLog opens (creating if needed) the hint database. maxRecent
// caps the length of the recent list; older entries are dropped.
func OpenHintLog(path string, maxRecent int) (*HintLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create hint dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open hint db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketHintDomains, bucketHintRecent} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create hint buckets: %w", err)
	}
	if maxRecent <= 0 {
		maxRecent = 50
	}
	return &HintLog{db: db, max: maxRecent}, nil
}

// Close closes the underlying database.
func (h *HintLog) Close() error {
	return h.db.Close()
}

// Record registers one auth bounce against its originating domain.
func (h *HintLog) Record(bounce AuthBounce) error {
	parsed, err := url.Parse(bounce.OriginalURL)
	if err != nil {
		return fmt.Errorf("parse bounce url: %w", err)
	}
	domain := parsed.Hostname()
	if domain == "" {
		return fmt.Errorf("bounce url has no host: %s", bounce.OriginalURL)
	}
	now := time.Now().UTC()

	return h.db.Update(func(tx *bolt.Tx) error {
		domains := tx.Bucket(bucketHintDomains)
		var hint DomainHint
		if raw := domains.Get([]byte(domain)); raw != nil {
			if err := json.Unmarshal(raw, &hint); err != nil {
				hint = DomainHint{}
			}
		}
		hint.Count++
		hint.LastSeen = now
		hint.RedirectHost = bounce.RedirectHost
		hint.MatchedAuthPattern = bounce.MatchedPattern
		raw, err := json.Marshal(hint)
		if err != nil {
			return err
		}
		if err := domains.Put([]byte(domain), raw); err != nil {
			return err
		}

		recent := tx.Bucket(bucketHintRecent)
		seq, err := recent.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		entry, err := json.Marshal(HintEntry{AuthBounce: bounce, LastSeen: now})
		if err != nil {
			return err
		}
		if err := recent.Put(key, entry); err != nil {
			return err
		}

		// Trim the recent list back to the cap.
		count := 0
		cursor := recent.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			count++
		}
		for k, _ := cursor.First(); k != nil && count > h.max; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

// Recent returns the recent bounces, newest first.
func (h *HintLog) Recent() ([]HintEntry, error) {
	var entries []HintEntry
	err := h.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketHintRecent).Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var entry HintEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// ByDomain returns the per-domain aggregation.
func (h *HintLog) ByDomain() (map[string]DomainHint, error) {
	hints := make(map[string]DomainHint)
	err := h.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHintDomains).ForEach(func(k, v []byte) error {
			var hint DomainHint
			if err := json.Unmarshal(v, &hint); err != nil {
				return nil
			}
			hints[string(k)] = hint
			return nil
		})
	})
	return hints, err
}
