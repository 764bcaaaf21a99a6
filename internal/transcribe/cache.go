package transcribe

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/alnah/mediaforge/internal/audio"
	"github.com/alnah/mediaforge/internal/metrics"
)

// cacheDurationTolerance is the allowed relative difference between a cached
// payload's reported duration and the chunk's accelerated duration. Beyond
// it the entry is considered stale (a re-planned chunk reusing an index).
const cacheDurationTolerance = 0.05

// Cache stores raw service responses per chunk index under the job
// directory, so a retried job reuses prior successes. One Cache value
// belongs to one job; writes are serialized per chunk by the client's
// attempt sequence.
type Cache struct {
	dir string
}

// NewCache returns a cache rooted at the job's transcripts directory.
func NewCache(jobDir string) *Cache {
	return &Cache{dir: filepath.Join(jobDir, "transcripts")}
}

// path returns the cache file for a chunk index, zero-padded for stable
// directory listings.
func (c *Cache) path(index int) string {
	return filepath.Join(c.dir, fmt.Sprintf("chunk_%03d.json", index))
}

// Load returns the cached response for a chunk, validating the payload
// against the chunk's accelerated duration. Stale or unreadable entries are
// deleted and reported as a miss.
func (c *Cache) Load(chunk audio.Chunk) (*ServiceResponse, bool) {
	data, err := os.ReadFile(c.path(chunk.Index)) // #nosec G304 -- path is derived from the job dir
	if err != nil {
		return nil, false
	}

	var resp ServiceResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		_ = os.Remove(c.path(chunk.Index))
		return nil, false
	}

	accelSeconds := chunk.AccelDuration.Seconds()
	if accelSeconds > 0 && resp.Duration > 0 {
		if math.Abs(resp.Duration-accelSeconds)/accelSeconds > cacheDurationTolerance {
			_ = os.Remove(c.path(chunk.Index))
			return nil, false
		}
	}

	metrics.CacheHits.Inc()
	return &resp, true
}

// Store atomically writes a response: to a temp file first, then rename, so
// a canceled job never leaves a torn cache entry behind.
func (c *Cache) Store(index int, resp *ServiceResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "chunk_*.tmp")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache temp file: %w", err)
	}

	if err := os.Rename(tmpName, c.path(index)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}
