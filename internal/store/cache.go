package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// CacheEntry describes one cached artifact.
type CacheEntry struct {
	QueryHash     string
	Query         string
	SourceURL     string
	FilePath      string
	ContentDigest string
	Width         int
	Height        int
	FileSize      int64
	Provider      string
	HitCount      int
}

// CacheStats summarizes the cache for reports.
type CacheStats struct {
	Entries    int
	TotalHits  int
	TotalBytes int64
}

// Cache maps normalized queries to previously accepted image files so
// repeated queries across runs skip search and verification entirely.
type Cache struct {
	mu sync.Mutex
	db *sql.DB
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS images (
	query_hash TEXT PRIMARY KEY,
	query TEXT,
	source_url TEXT,
	file_path TEXT NOT NULL,
	content_digest TEXT,
	width INTEGER DEFAULT 0,
	height INTEGER DEFAULT 0,
	file_size INTEGER DEFAULT 0,
	provider TEXT,
	created_at REAL,
	hit_count INTEGER DEFAULT 0
);
`

func OpenCache(path string) (*Cache, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

// Fingerprint is the cache key: first 16 hex characters of the sha256 of
// the lowercased, whitespace-collapsed query.
func Fingerprint(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(query))), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached artifact for query. A hit increments hit_count; an
// entry whose file no longer exists on disk is evicted and reported as a
// miss.
func (c *Cache) Get(query string) (CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := Fingerprint(query)
	row := c.db.QueryRow(`
		SELECT query_hash, COALESCE(query,''), COALESCE(source_url,''), file_path,
		       COALESCE(content_digest,''), COALESCE(width,0), COALESCE(height,0),
		       COALESCE(file_size,0), COALESCE(provider,''), COALESCE(hit_count,0)
		FROM images WHERE query_hash = ?`, hash)
	var e CacheEntry
	err := row.Scan(&e.QueryHash, &e.Query, &e.SourceURL, &e.FilePath, &e.ContentDigest,
		&e.Width, &e.Height, &e.FileSize, &e.Provider, &e.HitCount)
	if err == sql.ErrNoRows {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("cache get: %w", err)
	}

	if _, statErr := os.Stat(e.FilePath); statErr != nil {
		if _, err := c.db.Exec(`DELETE FROM images WHERE query_hash = ?`, hash); err != nil {
			return CacheEntry{}, false, fmt.Errorf("evicting stale entry: %w", err)
		}
		return CacheEntry{}, false, nil
	}

	if _, err := c.db.Exec(`UPDATE images SET hit_count = hit_count + 1 WHERE query_hash = ?`, hash); err != nil {
		return CacheEntry{}, false, fmt.Errorf("recording hit: %w", err)
	}
	e.HitCount++
	return e, true, nil
}

// Put records an accepted artifact for query, replacing any previous entry
// and resetting its hit count.
func (c *Cache) Put(query string, e CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO images
			(query_hash, query, source_url, file_path, content_digest,
			 width, height, file_size, provider, created_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		Fingerprint(query), query, e.SourceURL, e.FilePath, e.ContentDigest,
		e.Width, e.Height, e.FileSize, e.Provider,
		float64(time.Now().UnixNano())/float64(time.Second))
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (c *Cache) Stats() (CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(hit_count),0), COALESCE(SUM(file_size),0) FROM images`)
	var s CacheStats
	if err := row.Scan(&s.Entries, &s.TotalHits, &s.TotalBytes); err != nil {
		return CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return s, nil
}

// Clear removes every entry. Files on disk are untouched.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec(`DELETE FROM images`); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}
