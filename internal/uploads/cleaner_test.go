package uploads

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanupExpiredRemovesOnlyStaleJobs(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "user-1", "job-old")
	fresh := filepath.Join(root, "user-1", "job-new")
	lonely := filepath.Join(root, "user-2", "job-old")
	for _, dir := range []string{stale, fresh, lonely} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "clase.mp3"), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	old := time.Now().Add(-48 * time.Hour)
	for _, dir := range []string{stale, lonely} {
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	n, err := CleanupExpired(root, 24*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh job removed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale job kept")
	}
	if _, err := os.Stat(filepath.Join(root, "user-2")); !os.IsNotExist(err) {
		t.Fatalf("empty user dir not pruned")
	}
}

func TestCleanupExpiredMissingRoot(t *testing.T) {
	n, err := CleanupExpired(filepath.Join(t.TempDir(), "missing"), time.Hour, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("expected no-op, got %d %v", n, err)
	}
}
