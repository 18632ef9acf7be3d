package memory

import (
	"context"
	"testing"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
)

func TestMessageStore_CrossMonthPartitioning(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore()

	jan := &domain.Message{UUID: "jan-1", SessionID: "s1", Timestamp: time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)}
	feb := &domain.Message{UUID: "feb-1", SessionID: "s1", Timestamp: time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC)}

	if _, err := store.Upsert(ctx, jan, false); err != nil {
		t.Fatalf("upsert jan: %v", err)
	}
	if _, err := store.Upsert(ctx, feb, false); err != nil {
		t.Fatalf("upsert feb: %v", err)
	}

	names, err := store.PartitionNames(ctx, jan.Timestamp, feb.Timestamp)
	if err != nil {
		t.Fatalf("partition names: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 partitions, got %v", names)
	}

	found, err := store.Find(ctx, storage.MessageFilter{Start: jan.Timestamp, End: feb.Timestamp})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 messages in window, got %d", len(found))
	}
}

func TestMessageStore_AppendModeSkipsDuplicateUUID(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore()

	m := &domain.Message{UUID: "dup", SessionID: "s1", Timestamp: time.Now().UTC(), ContentHash: "h1"}
	existed, err := store.Upsert(ctx, m, false)
	if err != nil || existed {
		t.Fatalf("first insert: existed=%v err=%v", existed, err)
	}

	m2 := &domain.Message{UUID: "dup", SessionID: "s1", Timestamp: m.Timestamp, ContentHash: "h2"}
	existed, err = store.Upsert(ctx, m2, false)
	if err != nil || !existed {
		t.Fatalf("second insert should report existed: existed=%v err=%v", existed, err)
	}

	got, err := store.FindByUUID(ctx, "dup", time.Time{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ContentHash != "h1" {
		t.Fatalf("append mode should not overwrite, got content hash %s", got.ContentHash)
	}
}

func TestMessageStore_OverwriteModeReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore()

	ts := time.Now().UTC()
	m := &domain.Message{UUID: "dup", SessionID: "s1", Timestamp: ts, ContentHash: "h1"}
	if _, err := store.Upsert(ctx, m, false); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	m2 := &domain.Message{UUID: "dup", SessionID: "s1", Timestamp: ts, ContentHash: "h2"}
	existed, err := store.Upsert(ctx, m2, true)
	if err != nil || !existed {
		t.Fatalf("overwrite insert: existed=%v err=%v", existed, err)
	}

	got, err := store.FindByUUID(ctx, "dup", time.Time{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ContentHash != "h2" {
		t.Fatalf("overwrite mode should replace content, got %s", got.ContentHash)
	}
}

func TestMessageStore_DropEmptyPartitions(t *testing.T) {
	ctx := context.Background()
	store := NewMessageStore()

	m := &domain.Message{UUID: "x", SessionID: "s1", Timestamp: time.Now().UTC()}
	if _, err := store.Upsert(ctx, m, false); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.DeleteBySession(ctx, "s1"); err != nil {
		t.Fatalf("delete by session: %v", err)
	}

	dropped, err := store.DropEmptyPartitions(ctx)
	if err != nil {
		t.Fatalf("drop empty partitions: %v", err)
	}
	if len(dropped) != 1 {
		t.Fatalf("expected 1 dropped partition, got %v", dropped)
	}
}

func TestProjectStore_GetByPathIsPerOwner(t *testing.T) {
	ctx := context.Background()
	store := NewProjectStore()

	a := &domain.Project{ID: "p-a", OwnerID: "owner-a", Path: "/proj/x"}
	b := &domain.Project{ID: "p-b", OwnerID: "owner-b", Path: "/proj/x"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("create b: %v", err)
	}

	got, err := store.GetByPath(ctx, "owner-a", "/proj/x")
	if err != nil {
		t.Fatalf("get by path: %v", err)
	}
	if got.ID != "p-a" {
		t.Fatalf("expected owner-a's project, got %s", got.ID)
	}
}

func TestUserStore_FindActiveByHashHonorsExpiryAndActiveFlag(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore()

	now := time.Now().UTC()
	u := &domain.User{
		ID:   "user-1",
		Role: domain.RoleUser,
		APIKeys: []domain.APIKey{
			{Name: "primary", KeyHash: "hash-active", Active: true, CreatedAt: now},
			{Name: "expired", KeyHash: "hash-expired", Active: true, ExpiresAt: now.Add(-time.Hour), CreatedAt: now},
			{Name: "revoked", KeyHash: "hash-revoked", Active: false, CreatedAt: now},
		},
	}
	if err := store.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	id, name, found, err := store.FindActiveByHash(ctx, "hash-active")
	if err != nil || !found || id != "user-1" || name != "primary" {
		t.Fatalf("expected active key to resolve, got id=%s name=%s found=%v err=%v", id, name, found, err)
	}

	if _, _, found, _ := store.FindActiveByHash(ctx, "hash-expired"); found {
		t.Fatal("expected expired key to not resolve")
	}
	if _, _, found, _ := store.FindActiveByHash(ctx, "hash-revoked"); found {
		t.Fatal("expected revoked key to not resolve, since Create only indexes active keys")
	}

	role, _, err := store.RoleOf(ctx, "user-1")
	if err != nil || role != domain.RoleUser {
		t.Fatalf("expected RoleUser, got %s err=%v", role, err)
	}
}
