package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalDiskTempCleaner_RemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "stale.tmp")
	fresh := filepath.Join(dir, "fresh.tmp")
	if err := os.WriteFile(stale, []byte("x"), 0o600); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	if err := os.WriteFile(fresh, []byte("x"), 0o600); err != nil {
		t.Fatalf("write fresh: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	c := NewLocalDiskTempCleaner(dir)
	removed, err := c.PruneOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale file to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh file to survive, got %v", err)
	}
}

func TestLocalDiskTempCleaner_MissingDirIsNotAnError(t *testing.T) {
	c := NewLocalDiskTempCleaner(filepath.Join(t.TempDir(), "does-not-exist"))
	removed, err := c.PruneOlderThan(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("expected no error for missing dir, got %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 removed, got %d", removed)
	}
}
