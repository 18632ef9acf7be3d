package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/internal/app/services/cost"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ingest"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ownership"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
	"github.com/sjafferali/claudelens-archive/internal/app/storage/memory"
)

func seed(t *testing.T, owner string, bodies []string) *storage.Stores {
	t.Helper()
	stores := memory.NewStores()
	calc := cost.New(nil, time.Minute)
	log := logging.New("test", "error", "text")
	pipeline := ingest.New(stores, calc, log, nil, "test")

	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	records := make([]ingest.Record, 0, len(bodies))
	for i, body := range bodies {
		records = append(records, ingest.Record{
			UUID:       fmt.Sprintf("%08d-0000-0000-0000-000000000000", i),
			SessionID:  "sess-1",
			Type:       domain.MessageUser,
			Timestamp:  ts.Add(time.Duration(i) * time.Minute),
			Content:    domain.Payload{Raw: []byte(body)},
			WorkingDir: "/repo-" + owner,
		})
	}
	if _, err := pipeline.Ingest(context.Background(), owner, records, false); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}
	return stores
}

func TestSearch_FindsMatchingMessagesWithinOwnerScope(t *testing.T) {
	stores := seed(t, "owner-1", []string{
		"fix the flaky retry loop",
		"add unit tests for the parser",
		"retry with exponential backoff",
	})
	owners := ownership.New(stores.Projects, stores.Sessions)
	log := logging.New("test", "error", "text")
	adapter := New(owners, stores.Messages, log)

	results, err := adapter.Search(context.Background(), domain.Principal{UserID: "owner-1"}, Query{Term: "retry"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
}

func TestSearch_EmptyTermIsRejected(t *testing.T) {
	stores := seed(t, "owner-1", []string{"anything"})
	owners := ownership.New(stores.Projects, stores.Sessions)
	log := logging.New("test", "error", "text")
	adapter := New(owners, stores.Messages, log)

	if _, err := adapter.Search(context.Background(), domain.Principal{UserID: "owner-1"}, Query{Term: ""}); err == nil {
		t.Fatal("expected an error for an empty term")
	}
}

func TestSearch_DoesNotLeakAcrossTenants(t *testing.T) {
	stores := seed(t, "owner-1", []string{"shared keyword in owner-1's message"})

	calc := cost.New(nil, time.Minute)
	log := logging.New("test", "error", "text")
	pipeline := ingest.New(stores, calc, log, nil, "test")
	_, err := pipeline.Ingest(context.Background(), "owner-2", []ingest.Record{{
		UUID:       "aaaaaaaa-0000-0000-0000-000000000000",
		SessionID:  "sess-2",
		Type:       domain.MessageUser,
		Timestamp:  time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC),
		Content:    domain.Payload{Raw: []byte("shared keyword in owner-2's message")},
		WorkingDir: "/repo-owner-2",
	}}, false)
	if err != nil {
		t.Fatalf("seed owner-2: %v", err)
	}

	owners := ownership.New(stores.Projects, stores.Sessions)
	adapter := New(owners, stores.Messages, log)

	results, err := adapter.Search(context.Background(), domain.Principal{UserID: "owner-1"}, Query{Term: "shared"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 match scoped to owner-1, got %d", len(results))
	}
}
