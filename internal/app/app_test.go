package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/internal/app/services/backup"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ratelimit"
	"github.com/sjafferali/claudelens-archive/internal/app/storage/memory"
	"github.com/sjafferali/claudelens-archive/internal/config"
)

// memoryJobStore is a minimal in-process restore.JobStore double, mirroring
// the one restore's own test suite uses.
type memoryJobStore struct {
	mu   sync.Mutex
	byID map[string]*domain.RestoreJob
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{byID: make(map[string]*domain.RestoreJob)}
}

func (s *memoryJobStore) Create(ctx context.Context, j *domain.RestoreJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.byID[j.ID] = &cp
	return nil
}

func (s *memoryJobStore) Update(ctx context.Context, j *domain.RestoreJob) error {
	return s.Create(ctx, j)
}

func (s *memoryJobStore) GetByID(ctx context.Context, id string) (*domain.RestoreJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func testDependencies() Dependencies {
	sink := backup.NewMemorySink()
	return Dependencies{
		Stores:            memory.NewStores(),
		RateLimitRecords:  ratelimit.NewMemoryRecordStore(),
		RateLimitSettings: ratelimit.StaticSettingsStore{Settings: domain.RateLimitSettings{GloballyEnabled: true}},
		RateLimitRollups:  ratelimit.NewMemoryRollupStore(),
		BackupMetadata:    backup.NewMemoryMetadataStore(),
		BackupSink:        sink,
		RestoreJobs:       newMemoryJobStore(),
		RestoreSource:     sink,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		TokenSigningSecret:     "test-secret",
		RateLimitRetentionDays: 90,
		SchedulerEnabled:       true,
	}
}

func TestWire_ProducesFullyAssembledApplication(t *testing.T) {
	application := Wire(testConfig(), testDependencies(), logging.New("test", "error", "json"), nil)

	if application.Tenant == nil || application.Ownership == nil || application.Cost == nil {
		t.Fatal("expected identity and ownership services to be wired")
	}
	if application.Ingest == nil || application.RateLimit == nil {
		t.Fatal("expected ingest and rate limit services to be wired")
	}
	if application.Backup == nil || application.Restore == nil {
		t.Fatal("expected backup and restore engines to be wired")
	}
	if application.Progress == nil || application.Search == nil || application.Scheduler == nil {
		t.Fatal("expected progress, search, and scheduler to be wired")
	}
}

func TestStartStop_RunsSchedulerWithoutError(t *testing.T) {
	application := Wire(testConfig(), testDependencies(), logging.New("test", "error", "json"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := application.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartStop_SchedulerDisabledIsANoOp(t *testing.T) {
	cfg := testConfig()
	cfg.SchedulerEnabled = false
	application := Wire(cfg, testDependencies(), logging.New("test", "error", "json"), nil)

	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := application.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
