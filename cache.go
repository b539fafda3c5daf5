// Flat-file response cache: one body blob plus one JSON metadata record
// per request fingerprint. Purely an optimization; the directory is safe
// to delete between runs.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type responseCache struct {
	dir string
}

// cacheMeta is the JSON sidecar stored next to each cached body.
type cacheMeta struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	FetchedAt   time.Time `json:"fetched_at"`
}

func newResponseCache(dir string, clear bool) (*responseCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache enabled but no cache directory configured")
	}
	if clear {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("clearing cache directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &responseCache{dir: dir}, nil
}

// fingerprint derives the cache key for a request. Only GETs are cached,
// so method and URL fully identify a request.
func (c *responseCache) fingerprint(rawURL string) string {
	sum := sha256.Sum256([]byte("GET " + rawURL))
	return hex.EncodeToString(sum[:])
}

func (c *responseCache) bodyPath(key string) string {
	return filepath.Join(c.dir, "cache_"+key)
}

func (c *responseCache) metaPath(key string) string {
	return filepath.Join(c.dir, "cache_"+key+".json")
}

// get returns the cached body and content type for a URL, if present.
// A body without a readable sidecar still counts as a hit; the content
// type is just unknown.
func (c *responseCache) get(rawURL string) ([]byte, string, bool) {
	key := c.fingerprint(rawURL)
	body, err := os.ReadFile(c.bodyPath(key))
	if err != nil {
		return nil, "", false
	}
	var meta cacheMeta
	if data, err := os.ReadFile(c.metaPath(key)); err == nil {
		json.Unmarshal(data, &meta)
	}
	return body, meta.ContentType, true
}

// put stores a response body and its metadata. Write failures are logged
// and otherwise ignored: the cache is an optimization, not a requirement.
func (c *responseCache) put(rawURL string, body []byte, contentType string) {
	key := c.fingerprint(rawURL)
	if err := os.WriteFile(c.bodyPath(key), body, 0644); err != nil {
		logf("Warning: cache write failed for %s: %v\n", rawURL, err)
		return
	}
	meta := cacheMeta{URL: rawURL, ContentType: contentType, FetchedAt: time.Now().UTC()}
	data, err := json.Marshal(meta)
	if err == nil {
		err = os.WriteFile(c.metaPath(key), data, 0644)
	}
	if err != nil {
		logf("Warning: cache metadata write failed for %s: %v\n", rawURL, err)
	}
}
