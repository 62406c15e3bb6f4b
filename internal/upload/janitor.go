package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultJanitorInterval = 10 * time.Minute
	DefaultStaleAfter      = time.Hour
)

// StartJanitor removes upload directories a crashed request left behind.
// Normal requests clean up after themselves; this only bounds leaks.
func (r *Relay) StartJanitor(ctx context.Context, interval, staleAfter time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	go r.janitorLoop(ctx, interval, staleAfter)
}

func (r *Relay) janitorLoop(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(staleAfter); err != nil {
				r.logger.Warn("sweep upload dir failed", "err", err)
			} else if n > 0 {
				r.logger.Info("swept stale uploads", "count", n)
			}
		}
	}
}

// Sweep deletes upload directories older than staleAfter and reports how many went.
func (r *Relay) Sweep(staleAfter time.Duration) (int, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-staleAfter)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), strings.TrimSuffix(dirPattern, "*")) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(r.baseDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn("remove stale upload failed", "dir", path, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
