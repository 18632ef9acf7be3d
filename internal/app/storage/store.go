// Package storage defines the storage-layer contracts implemented by the
// in-memory and MongoDB-backed Rolling Partition Store backends.
package storage

import (
	"context"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
)

// MessageFilter narrows a fan-out read to a time window and, optionally, a
// set of session ids (already resolved by the Ownership Resolver).
type MessageFilter struct {
	Start      time.Time
	End        time.Time
	SessionIDs []string
	// Text, when non-empty, narrows results to messages whose content
	// matches a full-text search term (the Search Adapter's one query
	// shape, spec.md §2 "Search Adapter").
	Text   string
	Limit  int
	Offset int
}

// ProjectStore persists Project documents.
type ProjectStore interface {
	GetByPath(ctx context.Context, ownerID, path string) (*domain.Project, error)
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	Create(ctx context.Context, p *domain.Project) error
	Update(ctx context.Context, p *domain.Project) error
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Project, error)
	ListAll(ctx context.Context) ([]*domain.Project, error)
	Delete(ctx context.Context, id string) error
}

// SessionStore persists Session documents.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Update(ctx context.Context, s *domain.Session) error
	ListByProject(ctx context.Context, projectID string) ([]*domain.Session, error)
	ListByProjects(ctx context.Context, projectIDs []string) ([]*domain.Session, error)
	Delete(ctx context.Context, id string) error
}

// MessageStore is the Rolling Partition Store's message-facing surface.
// Implementations own partition naming, lazy index creation, and fan-out.
type MessageStore interface {
	// Upsert inserts or replaces a message, routing it to the partition
	// computed from its timestamp. It reports whether an existing
	// document with the same UUID was found.
	Upsert(ctx context.Context, m *domain.Message, overwrite bool) (existed bool, err error)
	// FindByUUID scans partitions (newest-first, bounded by a default
	// lookback window) for a single message, unless hintTime is non-zero
	// in which case only that message's partition is consulted.
	FindByUUID(ctx context.Context, uuid string, hintTime time.Time) (*domain.Message, error)
	// Find fans out across every partition intersecting the filter's
	// window and returns the merged, timestamp-sorted result.
	Find(ctx context.Context, filter MessageFilter) ([]*domain.Message, error)
	// Count fans out and sums per-partition counts.
	Count(ctx context.Context, filter MessageFilter) (int64, error)
	// DeleteBySession removes every message belonging to a session,
	// across whichever partitions they live in.
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
	// DeleteByUUID removes a single message by its global identifier,
	// consulting hintTime's partition directly when non-zero. Used by
	// the Restore Engine's rollback journal to undo a fresh insert.
	DeleteByUUID(ctx context.Context, uuid string, hintTime time.Time) error
	// PartitionNames returns the physical partition names known to
	// exist, intersecting [start, end].
	PartitionNames(ctx context.Context, start, end time.Time) ([]string, error)
	// DropEmptyPartitions removes any partition with zero documents,
	// returning the names dropped.
	DropEmptyPartitions(ctx context.Context) ([]string, error)
}

// UserStore persists User documents and resolves the two lookups the
// Identifier & Tenant Context needs (spec.md §4.1): matching a hashed
// API key to its owner, and a user id to its role. Method signatures
// match tenant.APIKeyLookup/tenant.UserRoleLookup exactly so the same
// concrete store satisfies both without an adapter type.
type UserStore interface {
	FindActiveByHash(ctx context.Context, keyHash string) (userID string, keyName string, found bool, err error)
	TouchLastUsed(ctx context.Context, userID, keyName string, at time.Time)
	RoleOf(ctx context.Context, userID string) (domain.Role, []string, error)
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// PromptStore persists saved Prompt templates.
type PromptStore interface {
	GetByID(ctx context.Context, id string) (*domain.Prompt, error)
	Create(ctx context.Context, p *domain.Prompt) error
	Update(ctx context.Context, p *domain.Prompt) error
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Prompt, error)
	Delete(ctx context.Context, id string) error
}

// Stores bundles every storage-layer dependency the application wires
// together, mirroring the teacher's app.Stores aggregate.
type Stores struct {
	Projects ProjectStore
	Sessions SessionStore
	Messages MessageStore
	Prompts  PromptStore
	Users    UserStore
}
