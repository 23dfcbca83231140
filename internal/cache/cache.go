// Package cache implements the response cache (spec C3): an on-disk
// body-per-key cache with TTL expiry and an in-memory ETag sidecar map,
// plus single-flight de-duplication of concurrent fetches for the same
// key.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached response body with its storage metadata.
type Entry struct {
	Body     []byte    `json:"-"`
	StoredAt time.Time `json:"stored_at"`
	TTL      time.Duration
	ETag     string `json:"etag,omitempty"`
}

// Fresh reports whether the entry is still valid at `now`.
func (e Entry) Fresh(now time.Time) bool {
	return !e.StoredAt.IsZero() && now.Sub(e.StoredAt) <= e.TTL
}

// Cache is a directory-backed body cache keyed by (method, path, query).
// Each key's body lives in its own file; ETags live together in one
// sidecar file flushed after every Put so a crash loses at most the most
// recent write.
type Cache struct {
	logger *slog.Logger
	dir    string
	ttl    time.Duration

	mu       sync.Mutex
	etags    map[string]string
	storedAt map[string]time.Time

	group singleflight.Group
}

// New opens (creating if necessary) a cache rooted at dir. ttl is the
// freshness window Get applies to every entry; entries carry no TTL of
// their own.
func New(logger *slog.Logger, dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	c := &Cache{
		logger:   logger.With("component", "response_cache"),
		dir:      dir,
		ttl:      ttl,
		etags:    make(map[string]string),
		storedAt: make(map[string]time.Time),
	}
	if err := c.loadSidecar(); err != nil {
		return nil, err
	}
	return c, nil
}

// Key computes the stable cache key for (method, path, sorted query).
func Key(method, path string, query url.Values) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(strings.Join(vals, ",")))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) bodyPath(key string) string {
	return filepath.Join(c.dir, key+".body")
}

func (c *Cache) sidecarPath() string {
	return filepath.Join(c.dir, "etags.json")
}

type sidecarEntry struct {
	ETag     string    `json:"etag"`
	StoredAt time.Time `json:"stored_at"`
}

func (c *Cache) loadSidecar() error {
	f, err := os.Open(c.sidecarPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: open sidecar: %w", err)
	}
	defer f.Close()

	var raw map[string]sidecarEntry
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		// A corrupt sidecar behaves as an empty cache rather than a fatal
		// error: every entry degrades to a miss.
		c.logger.Warn("corrupt cache sidecar, starting empty", "error", err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range raw {
		c.etags[k] = v.ETag
		c.storedAt[k] = v.StoredAt
	}
	return nil
}

func (c *Cache) flushSidecarLocked() error {
	raw := make(map[string]sidecarEntry, len(c.etags))
	for k, etag := range c.etags {
		raw[k] = sidecarEntry{ETag: etag, StoredAt: c.storedAt[k]}
	}

	tmp := c.sidecarPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cache: create sidecar tmp: %w", err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(raw); err != nil {
		f.Close()
		return fmt.Errorf("cache: encode sidecar: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("cache: close sidecar tmp: %w", err)
	}
	return os.Rename(tmp, c.sidecarPath())
}

// Get returns the cached body for key if present and fresh. A missing,
// expired, or unreadable (corrupt) entry is reported as a plain miss —
// never an error.
func (c *Cache) Get(key string) (body []byte, etag string, ok bool) {
	c.mu.Lock()
	storedAt, haveMeta := c.storedAt[key]
	etag = c.etags[key]
	c.mu.Unlock()

	if !haveMeta {
		return nil, "", false
	}
	if time.Since(storedAt) > c.ttl {
		return nil, etag, false
	}

	data, err := os.ReadFile(c.bodyPath(key))
	if err != nil {
		return nil, etag, false
	}
	return data, etag, true
}

// ETag returns the last known ETag for key, if any, regardless of
// freshness — used to populate If-None-Match on a revalidating request.
func (c *Cache) ETag(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	etag, ok := c.etags[key]
	return etag, ok && etag != ""
}

// Put atomically writes body to key's body file and updates the ETag
// sidecar.
func (c *Cache) Put(key string, body []byte, etag string) error {
	tmp := c.bodyPath(key) + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("cache: write body tmp: %w", err)
	}
	if err := os.Rename(tmp, c.bodyPath(key)); err != nil {
		return fmt.Errorf("cache: rename body: %w", err)
	}

	c.mu.Lock()
	c.etags[key] = etag
	c.storedAt[key] = time.Now()
	err := c.flushSidecarLocked()
	c.mu.Unlock()
	return err
}

// Fetch de-duplicates concurrent calls for the same key: only one fn runs
// at a time per key, and all concurrent callers observe its result.
func (c *Cache) Fetch(key string, fn func() ([]byte, error)) ([]byte, error, bool) {
	v, err, shared := c.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err, shared
	}
	return v.([]byte), nil, shared
}
