package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// LocalDiskTempCleaner implements TempFileCleaner against a directory on
// local disk, the deployment shape for a single-process install; an
// object-storage backed deployment would implement the same interface
// against its own listing/delete API instead.
type LocalDiskTempCleaner struct {
	dir string
}

func NewLocalDiskTempCleaner(dir string) *LocalDiskTempCleaner {
	return &LocalDiskTempCleaner{dir: dir}
}

// PruneOlderThan deletes every regular file directly under dir whose
// modification time is before cutoff. It does not recurse into
// subdirectories; temp files are written flat.
func (c *LocalDiskTempCleaner) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
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
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
