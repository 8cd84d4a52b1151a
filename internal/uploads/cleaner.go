package uploads

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"tutorly/internal/logging"
)

const (
	DefaultTempFileTTL             = 24 * time.Hour
	DefaultTempFileCleanupInterval = time.Hour
)

// StartCleaner periodically removes job upload directories under root that
// are older than ttl. Finished jobs remove their own directory; this catches
// what a crash or restart left behind.
func StartCleaner(ctx context.Context, root string, ttl, interval time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTempFileTTL
	}
	if interval <= 0 {
		interval = DefaultTempFileCleanupInterval
	}
	go cleanupLoop(ctx, root, ttl, interval)
}

func cleanupLoop(ctx context.Context, root string, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := CleanupExpired(root, ttl, time.Now()); err != nil {
				logging.L().WithError(err).Warn("cleanup upload dirs")
			} else if n > 0 {
				logging.L().Infof("removed %d stale upload dirs", n)
			}
		}
	}
}

// CleanupExpired removes <root>/<user>/<job> directories last modified before
// now-ttl and prunes empty user directories. It returns how many job
// directories were removed.
func CleanupExpired(root string, ttl time.Duration, now time.Time) (int, error) {
	users, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := now.Add(-ttl)
	removed := 0
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		userDir := filepath.Join(root, u.Name())
		jobs, err := os.ReadDir(userDir)
		if err != nil {
			logging.L().WithError(err).Warnf("read upload dir %s", userDir)
			continue
		}
		for _, j := range jobs {
			info, err := j.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(userDir, j.Name())
			if err := os.RemoveAll(path); err != nil {
				logging.L().WithError(err).Warnf("remove upload dir %s", path)
				continue
			}
			removed++
		}
		// prune empty user directories
		_ = os.Remove(userDir)
	}
	return removed, nil
}
