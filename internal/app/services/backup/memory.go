package backup

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
)

// MemoryMetadataStore is an in-process MetadataStore, standing in for the
// "backup_metadata" collection in unit tests.
type MemoryMetadataStore struct {
	mu   sync.Mutex
	byID map[string]*domain.BackupMetadata
}

func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{byID: make(map[string]*domain.BackupMetadata)}
}

func (s *MemoryMetadataStore) Create(ctx context.Context, m *domain.BackupMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.byID[m.ID] = &cp
	return nil
}

func (s *MemoryMetadataStore) Update(ctx context.Context, m *domain.BackupMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; !ok {
		return errors.NotFound("backup", m.ID)
	}
	cp := *m
	s.byID[m.ID] = &cp
	return nil
}

func (s *MemoryMetadataStore) GetByID(ctx context.Context, id string) (*domain.BackupMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("backup", id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryMetadataStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return errors.NotFound("backup", id)
	}
	delete(s.byID, id)
	return nil
}

// memoryBuffer adapts a bytes.Buffer to io.WriteCloser/io.ReadCloser
// for tests that don't need real disk or object-storage I/O.
type memoryBuffer struct {
	*bytes.Buffer
}

func (memoryBuffer) Close() error { return nil }

// MemorySink stores every archive it creates in memory, keyed by path.
type MemorySink struct {
	mu    sync.Mutex
	files map[string]*bytes.Buffer
}

func NewMemorySink() *MemorySink {
	return &MemorySink{files: make(map[string]*bytes.Buffer)}
}

func (s *MemorySink) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := &bytes.Buffer{}
	s.files[path] = buf
	return memoryBuffer{buf}, nil
}

func (s *MemorySink) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.files[path]
	if !ok {
		return nil, errors.NotFound("archive file", path)
	}
	return memoryBuffer{bytes.NewBuffer(buf.Bytes())}, nil
}

func (s *MemorySink) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[path]; !ok {
		return errors.NotFound("archive file", path)
	}
	delete(s.files, path)
	return nil
}
