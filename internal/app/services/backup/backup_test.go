package backup

import (
	"context"
	"testing"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/internal/app/archive"
	"github.com/sjafferali/claudelens-archive/internal/app/services/cost"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ingest"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ownership"
	"github.com/sjafferali/claudelens-archive/internal/app/services/progress"
	"github.com/sjafferali/claudelens-archive/internal/app/storage/memory"
)

func newEngine(t *testing.T) (*Engine, *memory.ProjectStore, *memory.SessionStore) {
	t.Helper()
	stores := memory.NewStores()
	calc := cost.New(nil, time.Minute)
	log := logging.New("test", "error", "text")
	pipeline := ingest.New(stores, calc, log, nil, "test")
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	records := []ingest.Record{
		{UUID: "11111111-1111-1111-1111-111111111111", SessionID: "sess-1", Type: domain.MessageUser, Timestamp: ts, Content: domain.Payload{Raw: []byte("hi")}, WorkingDir: "/repo"},
		{UUID: "22222222-2222-2222-2222-222222222222", SessionID: "sess-1", Type: domain.MessageAssistant, Timestamp: ts.Add(time.Minute), Content: domain.Payload{Raw: []byte("hello")}, WorkingDir: "/repo"},
	}
	if _, err := pipeline.Ingest(context.Background(), "owner-1", records, false); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	owners := ownership.New(stores.Projects, stores.Sessions)
	meta := NewMemoryMetadataStore()
	sink := NewMemorySink()
	bus := progress.New()
	e := New(stores, owners, meta, sink, bus, log, nil, "test")
	return e, stores.Projects.(*memory.ProjectStore), stores.Sessions.(*memory.SessionStore)
}

func TestCreateAndRun_ProducesCompletedArchiveWithMatchingCounts(t *testing.T) {
	e, _, _ := newEngine(t)
	principal := domain.Principal{UserID: "owner-1"}

	meta, err := e.Create(context.Background(), principal, "nightly", domain.BackupFull, domain.BackupFilter{}, archive.CompressionDefault)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	e.Run(context.Background(), principal, meta, archive.CompressionDefault)

	got, err := e.metadata.GetByID(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if got.Status != domain.BackupCompleted {
		t.Fatalf("expected completed status, got %s (error: %s)", got.Status, got.Error)
	}
	if got.ContentCounts.Messages != 2 {
		t.Fatalf("expected 2 messages in archive, got %d", got.ContentCounts.Messages)
	}
	if got.Checksum == "" {
		t.Fatal("expected a non-empty checksum")
	}
}

func TestRun_UnrelatedPrincipalProducesEmptyValidArchive(t *testing.T) {
	e, _, _ := newEngine(t)
	meta, err := e.Create(context.Background(), domain.Principal{UserID: "nobody"}, "empty", domain.BackupFull, domain.BackupFilter{}, archive.CompressionDefault)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e.Run(context.Background(), domain.Principal{UserID: "nobody"}, meta, archive.CompressionDefault)

	got, err := e.metadata.GetByID(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if got.Status != domain.BackupCompleted {
		t.Fatalf("expected an empty-but-valid backup to still complete, got %s", got.Status)
	}
	if got.ContentCounts.Messages != 0 {
		t.Fatalf("expected zero messages for an unrelated principal, got %d", got.ContentCounts.Messages)
	}
}

func TestDelete_RemovesMetadataAndArchiveFile(t *testing.T) {
	e, _, _ := newEngine(t)
	principal := domain.Principal{UserID: "owner-1"}
	meta, err := e.Create(context.Background(), principal, "nightly", domain.BackupFull, domain.BackupFilter{}, archive.CompressionDefault)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e.Run(context.Background(), principal, meta, archive.CompressionDefault)

	if err := e.Delete(context.Background(), meta.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.metadata.GetByID(context.Background(), meta.ID); err == nil {
		t.Fatal("expected metadata to be gone after delete")
	}
}
