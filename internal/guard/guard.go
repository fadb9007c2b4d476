// Package guard implements the Path & Resource Guard: path-traversal
// validation for every deletion the pipeline performs, and the hourly
// sweeper that reclaims abandoned scratch files.
package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/adittyamondal/vcompress/internal/logger"
)

// Guard validates that paths the pipeline touches resolve under the
// process's working root, and sweeps stale scratch files on a schedule.
type Guard struct {
	root string
	cron *cron.Cron
}

// New creates a Guard rooted at root (the process's working directory).
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve guard root: %w", err)
	}
	return &Guard{root: abs}, nil
}

// ValidatePath reports whether p's resolved absolute path lies under the
// guard's root. Every file deletion the pipeline performs must pass this
// first.
func (g *Guard) ValidatePath(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(g.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SanitizeFilename keeps only alphanumerics, dot, underscore, dash, and
// space, per the Pipeline Controller's Prepare stage.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-' || r == ' ':
			b.WriteRune(r)
		}
	}
	sanitized := strings.TrimSpace(b.String())
	if sanitized == "" {
		return "file"
	}
	return sanitized
}

// FileSizeMiB returns a file's size in mebibytes, for comparison against
// max_file_size.
func FileSizeMiB(p string) (float64, error) {
	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return float64(info.Size()) / (1024 * 1024), nil
}

// Remove deletes p if and only if it validates under the guard's root.
func (g *Guard) Remove(p string) error {
	if !g.ValidatePath(p) {
		return fmt.Errorf("refusing to remove path outside guard root: %s", p)
	}
	return os.Remove(p)
}

// StartSweeper schedules the hourly scratch-file sweep over the given
// working directories. Missing directories are ignored. Returns a stop
// function.
func (g *Guard) StartSweeper(dirs []string, maxAge time.Duration) (stop func(), err error) {
	c := cron.New()
	_, err = c.AddFunc("@hourly", func() {
		g.sweep(dirs, maxAge)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweeper: %w", err)
	}
	c.Start()
	g.cron = c
	return func() { c.Stop() }, nil
}

func (g *Guard) sweep(dirs []string, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("sweeper could not read directory", "dir", dir, "error", err)
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := g.Remove(path); err != nil {
				logger.Warn("sweeper failed to remove stale file", "path", path, "error", err)
				continue
			}
			logger.Debug("sweeper removed stale file", "path", path, "age", time.Since(info.ModTime()))
		}
	}
}
