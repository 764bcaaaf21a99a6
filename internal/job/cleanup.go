package job

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alnah/mediaforge/internal/logging"
)

// defaultSweepInterval spaces out sweeper passes. Entries live for hours,
// so hourly passes are plenty.
const defaultSweepInterval = time.Hour

// Sweeper periodically removes aged entries from the temp and output roots.
// In-flight jobs finish well inside the age threshold, so anything old
// enough to match is an orphan from a crashed or abandoned run.
type Sweeper struct {
	roots    []string
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval overrides the pass interval.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a sweeper over the given root directories.
func NewSweeper(maxAge time.Duration, roots []string, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		roots:    roots,
		maxAge:   maxAge,
		interval: defaultSweepInterval,
		now:      time.Now,
		log:      logging.ForService("cleanup"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately and then on every interval tick until the context
// ends. It is meant to run in its own goroutine for the server's lifetime.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes every top-level entry older than the age threshold from
// each root. Missing roots are skipped silently; they appear once the first
// job runs.
func (s *Sweeper) Sweep() int {
	cutoff := s.now().Add(-s.maxAge)
	removed := 0

	for _, root := range s.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(root, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				s.log.Warn("sweep failed", "path", path, "error", err)
				continue
			}
			removed++
			s.log.Info("swept aged entry", "path", path, "age", s.now().Sub(info.ModTime()).Round(time.Minute))
		}
	}
	return removed
}
