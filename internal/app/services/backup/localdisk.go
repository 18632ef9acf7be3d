package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
)

// LocalDiskSink implements FileSink against a directory on local disk,
// the single-process deployment shape; an object-storage backed install
// would implement the same interface against a bucket API instead.
type LocalDiskSink struct {
	baseDir string
}

func NewLocalDiskSink(baseDir string) *LocalDiskSink {
	return &LocalDiskSink{baseDir: baseDir}
}

func (s *LocalDiskSink) resolve(path string) string {
	return filepath.Join(s.baseDir, filepath.Clean("/"+path))
}

func (s *LocalDiskSink) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, errors.Internal("create backup directory", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, errors.Internal("create backup file", err)
	}
	return f, nil
}

func (s *LocalDiskSink) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.resolve(path))
	if os.IsNotExist(err) {
		return nil, errors.NotFound("backup file", path)
	}
	if err != nil {
		return nil, errors.Internal("open backup file", err)
	}
	return f, nil
}

func (s *LocalDiskSink) Delete(ctx context.Context, path string) error {
	err := os.Remove(s.resolve(path))
	if err != nil && !os.IsNotExist(err) {
		return errors.Internal("delete backup file", err)
	}
	return nil
}
