package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
)

// MemoryRecordStore is an in-process RecordStore, standing in for the
// per-axis "<axis>_rate_tracking" MongoDB collections in unit tests.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records []domain.RateLimitRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

func (s *MemoryRecordStore) CountSince(ctx context.Context, userID string, axis domain.RateLimitAxis, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, r := range s.records {
		if r.UserID == userID && r.Axis == axis && !r.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryRecordStore) OldestSince(ctx context.Context, userID string, axis domain.RateLimitAxis, since time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest time.Time
	found := false
	for _, r := range s.records {
		if r.UserID != userID || r.Axis != axis || r.Timestamp.Before(since) {
			continue
		}
		if !found || r.Timestamp.Before(oldest) {
			oldest = r.Timestamp
			found = true
		}
	}
	return oldest, found, nil
}

func (s *MemoryRecordStore) Append(ctx context.Context, rec domain.RateLimitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryRecordStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var pruned int64
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return pruned, nil
}

// StaticSettingsStore serves a fixed settings snapshot, useful for tests
// and for deployments that configure limits at process start.
type StaticSettingsStore struct {
	Settings domain.RateLimitSettings
}

func (s StaticSettingsStore) Get(ctx context.Context) (domain.RateLimitSettings, error) {
	return s.Settings, nil
}

// MemoryRollupStore accumulates flushed rollups for inspection in tests.
type MemoryRollupStore struct {
	mu      sync.Mutex
	Flushed []domain.UsageRollup
}

func NewMemoryRollupStore() *MemoryRollupStore {
	return &MemoryRollupStore{}
}

func (s *MemoryRollupStore) Flush(ctx context.Context, rollups []domain.UsageRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Flushed = append(s.Flushed, rollups...)
	return nil
}
