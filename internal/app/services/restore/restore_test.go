package restore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/internal/app/archive"
	"github.com/sjafferali/claudelens-archive/internal/app/services/backup"
	"github.com/sjafferali/claudelens-archive/internal/app/services/cost"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ingest"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ownership"
	"github.com/sjafferali/claudelens-archive/internal/app/services/progress"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
	"github.com/sjafferali/claudelens-archive/internal/app/storage/memory"
)

// jobStore is a minimal in-process JobStore for tests.
type jobStore struct {
	byID map[string]*domain.RestoreJob
}

func newJobStore() *jobStore { return &jobStore{byID: make(map[string]*domain.RestoreJob)} }

func (s *jobStore) Create(ctx context.Context, j *domain.RestoreJob) error {
	cp := *j
	s.byID[j.ID] = &cp
	return nil
}

func (s *jobStore) Update(ctx context.Context, j *domain.RestoreJob) error {
	cp := *j
	s.byID[j.ID] = &cp
	return nil
}

func (s *jobStore) GetByID(ctx context.Context, id string) (*domain.RestoreJob, error) {
	j, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *j
	return &cp, nil
}

// failingMessageStore wraps a memory.MessageStore and fails the Nth Upsert
// call, used to exercise boundary scenario 6 (rollback on a mid-apply
// failure).
type failingMessageStore struct {
	*memory.MessageStore
	failOn int
	calls  int
}

func (f *failingMessageStore) Upsert(ctx context.Context, m *domain.Message, overwrite bool) (bool, error) {
	f.calls++
	if f.calls == f.failOn {
		return false, fmt.Errorf("injected failure on call %d", f.calls)
	}
	return f.MessageStore.Upsert(ctx, m, overwrite)
}

func seedStores(t *testing.T, n int) *storage.Stores {
	t.Helper()
	stores := memory.NewStores()
	calc := cost.New(nil, time.Minute)
	log := logging.New("test", "error", "text")
	pipeline := ingest.New(stores, calc, log, nil, "test")

	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	records := make([]ingest.Record, 0, n)
	for i := 0; i < n; i++ {
		typ := domain.MessageUser
		if i%2 == 1 {
			typ = domain.MessageAssistant
		}
		records = append(records, ingest.Record{
			UUID:       fmt.Sprintf("%08d-0000-0000-0000-000000000000", i),
			SessionID:  "sess-1",
			Type:       typ,
			Timestamp:  ts.Add(time.Duration(i) * time.Minute),
			Content:    domain.Payload{Raw: []byte(fmt.Sprintf("message %d", i))},
			WorkingDir: "/repo",
		})
	}
	if _, err := pipeline.Ingest(context.Background(), "owner-1", records, false); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}
	return stores
}

// buildBackup runs a real backup of stores into a MemorySink and returns
// the resulting metadata plus the sink to restore from.
func buildBackup(t *testing.T, stores *storage.Stores) (*domain.BackupMetadata, *backup.MemorySink, *backup.MemoryMetadataStore) {
	t.Helper()
	owners := ownership.New(stores.Projects, stores.Sessions)
	metaStore := backup.NewMemoryMetadataStore()
	sink := backup.NewMemorySink()
	bus := progress.New()
	log := logging.New("test", "error", "text")
	eng := backup.New(stores, owners, metaStore, sink, bus, log, nil, "test")

	principal := domain.Principal{UserID: "owner-1"}
	meta, err := eng.Create(context.Background(), principal, "nightly", domain.BackupFull, domain.BackupFilter{}, archive.CompressionDefault)
	if err != nil {
		t.Fatalf("backup create: %v", err)
	}
	eng.Run(context.Background(), principal, meta, archive.CompressionDefault)

	got, err := metaStore.GetByID(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("backup metadata: %v", err)
	}
	if got.Status != domain.BackupCompleted {
		t.Fatalf("expected backup to complete, got %s (%s)", got.Status, got.Error)
	}
	return got, sink, metaStore
}

func TestRun_FullRestoreIntoEmptyStoreRecoversAllMessages(t *testing.T) {
	source := seedStores(t, 10)
	meta, sink, metaStore := buildBackup(t, source)

	dest := memory.NewStores()
	bus := progress.New()
	log := logging.New("test", "error", "text")
	eng := New(dest, metaStore, newJobStore(), sink, bus, log, nil, "test")

	job, err := eng.Create(context.Background(), "owner-1", meta.ID, domain.RestoreFull, domain.ConflictSkip)
	if err != nil {
		t.Fatalf("create restore job: %v", err)
	}
	eng.Run(context.Background(), job, Selectors{})

	if job.Status != domain.RestoreCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", job.Status, job.Errors)
	}
	if job.Stats.Inserted != 12 { // 1 project + 1 session + 10 messages
		t.Fatalf("expected 12 inserted documents, got %d", job.Stats.Inserted)
	}

	n, err := dest.Messages.Count(context.Background(), storage.MessageFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 messages restored, got %d", n)
	}
}

func TestRun_InjectedFailureOnSeventhDocumentRollsBackEverything(t *testing.T) {
	// 1 project + 1 session + 8 messages = 10 documents; the project and
	// session are documents 1 and 2, so the 5th message upsert is the 7th.
	source := seedStores(t, 8)
	meta, sink, metaStore := buildBackup(t, source)

	dest := memory.NewStores()
	failing := &failingMessageStore{MessageStore: dest.Messages.(*memory.MessageStore), failOn: 5}
	dest.Messages = failing

	bus := progress.New()
	log := logging.New("test", "error", "text")
	eng := New(dest, metaStore, newJobStore(), sink, bus, log, nil, "test")

	job, err := eng.Create(context.Background(), "owner-1", meta.ID, domain.RestoreFull, domain.ConflictSkip)
	if err != nil {
		t.Fatalf("create restore job: %v", err)
	}
	eng.Run(context.Background(), job, Selectors{})

	if job.Status != domain.RestoreFailed {
		t.Fatalf("expected failed status, got %s", job.Status)
	}
	if len(job.Errors) == 0 {
		t.Fatal("expected a recorded error")
	}

	projects, err := dest.Projects.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("expected project insert to be rolled back, found %d", len(projects))
	}
	n, err := failing.MessageStore.Count(context.Background(), storage.MessageFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero messages after rollback, got %d", n)
	}
}

func TestPreview_ReturnsBoundedPrefixWithoutMutating(t *testing.T) {
	source := seedStores(t, 30)
	meta, sink, metaStore := buildBackup(t, source)

	dest := memory.NewStores()
	bus := progress.New()
	log := logging.New("test", "error", "text")
	eng := New(dest, metaStore, newJobStore(), sink, bus, log, nil, "test")

	result, err := eng.Preview(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(result.Sections["messages"]) != previewLimit {
		t.Fatalf("expected preview to cap at %d messages, got %d", previewLimit, len(result.Sections["messages"]))
	}

	n, err := dest.Messages.Count(context.Background(), storage.MessageFilter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected preview to mutate nothing, found %d messages", n)
	}
}

func TestRun_RenamePolicyRewritesSessionProjectIDToRenamedProject(t *testing.T) {
	source := seedStores(t, 2)
	meta, sink, metaStore := buildBackup(t, source)

	srcProjects, err := source.Projects.ListAll(context.Background())
	if err != nil || len(srcProjects) != 1 {
		t.Fatalf("expected exactly one source project, err=%v projects=%v", err, srcProjects)
	}
	originalProjectID := srcProjects[0].ID

	dest := memory.NewStores()

	// Pre-populate dest with an unrelated project and session that happen
	// to collide on the backed-up ids, forcing the restored project and
	// session down the rename conflict path.
	now := time.Now().UTC()
	collidingProject := &domain.Project{ID: originalProjectID, OwnerID: "someone-else", Path: "/unrelated", CreatedAt: now, UpdatedAt: now}
	if err := dest.Projects.Create(context.Background(), collidingProject); err != nil {
		t.Fatalf("seed colliding project: %v", err)
	}
	collidingSession := &domain.Session{ID: "sess-1", ProjectID: collidingProject.ID, StartedAt: now, LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	if err := dest.Sessions.Create(context.Background(), collidingSession); err != nil {
		t.Fatalf("seed colliding session: %v", err)
	}

	bus := progress.New()
	log := logging.New("test", "error", "text")
	eng := New(dest, metaStore, newJobStore(), sink, bus, log, nil, "test")

	job, err := eng.Create(context.Background(), "owner-1", meta.ID, domain.RestoreFull, domain.ConflictRename)
	if err != nil {
		t.Fatalf("create restore job: %v", err)
	}
	eng.Run(context.Background(), job, Selectors{})

	if job.Status != domain.RestoreCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", job.Status, job.Errors)
	}

	projects, err := dest.Projects.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected the pre-existing project plus a renamed restored project, got %d", len(projects))
	}
	var restoredProject *domain.Project
	for _, p := range projects {
		if p.ID != originalProjectID {
			restoredProject = p
		}
	}
	if restoredProject == nil {
		t.Fatal("expected the restored project to have been assigned a fresh id")
	}

	sessions, err := dest.Sessions.ListByProject(context.Background(), restoredProject.ID)
	if err != nil {
		t.Fatalf("list sessions by restored project: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected the restored session to follow its renamed project, got %d sessions under %s", len(sessions), restoredProject.ID)
	}
	if sessions[0].ProjectID != restoredProject.ID {
		t.Fatalf("expected restored session's project_id %s to match renamed project %s", sessions[0].ProjectID, restoredProject.ID)
	}

	untouched, err := dest.Sessions.GetByID(context.Background(), collidingSession.ID)
	if err != nil {
		t.Fatalf("get colliding session: %v", err)
	}
	if untouched.ProjectID != collidingProject.ID {
		t.Fatal("expected the pre-existing colliding session to be left pointing at its own project")
	}
}

func TestValidate_DetectsChecksumMismatch(t *testing.T) {
	source := seedStores(t, 3)
	meta, sink, metaStore := buildBackup(t, source)

	meta.Checksum = "deadbeef"
	if err := metaStore.Update(context.Background(), meta); err != nil {
		t.Fatalf("corrupt metadata: %v", err)
	}

	dest := memory.NewStores()
	bus := progress.New()
	log := logging.New("test", "error", "text")
	eng := New(dest, metaStore, newJobStore(), sink, bus, log, nil, "test")

	result, err := eng.Validate(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatal("expected checksum mismatch to invalidate the archive")
	}
}

func TestRun_OverwritePolicyReplacesConflictingSessionOnSecondRestore(t *testing.T) {
	source := seedStores(t, 4)
	meta, sink, metaStore := buildBackup(t, source)

	dest := memory.NewStores()
	bus := progress.New()
	log := logging.New("test", "error", "text")
	eng := New(dest, metaStore, newJobStore(), sink, bus, log, nil, "test")

	first, err := eng.Create(context.Background(), "owner-1", meta.ID, domain.RestoreFull, domain.ConflictSkip)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	eng.Run(context.Background(), first, Selectors{})
	if first.Status != domain.RestoreCompleted {
		t.Fatalf("first restore: expected completed, got %s (%v)", first.Status, first.Errors)
	}

	// Mutate the destination session so the second restore, run with
	// conflict=overwrite, has something to visibly clobber.
	projects, err := dest.Projects.ListAll(context.Background())
	if err != nil || len(projects) == 0 {
		t.Fatalf("expected at least one restored project, err=%v", err)
	}
	sessions, err := dest.Sessions.ListByProject(context.Background(), projects[0].ID)
	if err != nil || len(sessions) == 0 {
		t.Fatalf("expected session under restored project, err=%v", err)
	}
	mutated := *sessions[0]
	mutated.TotalCost = 999999
	if err := dest.Sessions.Update(context.Background(), &mutated); err != nil {
		t.Fatalf("mutate session: %v", err)
	}

	second, err := eng.Create(context.Background(), "owner-1", meta.ID, domain.RestoreFull, domain.ConflictOverwrite)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	eng.Run(context.Background(), second, Selectors{})

	if second.Status != domain.RestoreCompleted {
		t.Fatalf("second restore: expected completed, got %s (%v)", second.Status, second.Errors)
	}
	if second.Stats.Replaced == 0 {
		t.Fatalf("expected at least one replaced document, got stats %+v", second.Stats)
	}

	restored, err := dest.Sessions.GetByID(context.Background(), mutated.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if restored.TotalCost == 999999 {
		t.Fatal("expected overwrite to clobber the mutated session")
	}
}
