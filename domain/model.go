// Package domain holds the plain data-model types shared by every layer of
// the archive service. Types here carry no persistence tags and no
// behavior; storage packages own the wire mapping.
package domain

import "time"

// Role distinguishes an administrative principal from a regular one.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is the authenticated actor for a request.
type Principal struct {
	UserID      string
	Role        Role
	Permissions []string
	APIKeyName  string
	Anonymous   bool
}

// IsAdmin reports whether the principal bypasses ownership filters.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// AnonymousPrincipal is returned when no authentication method succeeds.
var AnonymousPrincipal = Principal{Anonymous: true}

// APIKey is a hashed, user-owned credential.
type APIKey struct {
	Name      string
	KeyHash   string
	Active    bool
	ExpiresAt time.Time
	LastUsed  time.Time
	CreatedAt time.Time
}

// User is the Identifier & Tenant Context's principal record: a role,
// permission set, and the API keys that resolve to it (spec.md §6's
// persisted "users" collection).
type User struct {
	ID          string
	Role        Role
	Permissions []string
	APIKeys     []APIKey
	CreatedAt   time.Time
}

// Project is the top-level tenant-owned container for sessions.
type Project struct {
	ID            string
	OwnerID       string
	Path          string
	SessionCount  int64
	MessageCount  int64
	TotalBytes    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session belongs to exactly one Project; ownership is resolved
// transitively through it rather than stored directly (see
// Ownership Resolver / domain.md I1).
type Session struct {
	ID           string
	ProjectID    string
	StartedAt    time.Time
	LastSeenAt   time.Time
	MessageCount int64
	TotalCost    float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MessageType enumerates the kinds a Message may carry.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
	MessageTool      MessageType = "tool"
	MessageSummary   MessageType = "summary"
)

// ValidMessageTypes is the closed set of acceptable MessageType values.
var ValidMessageTypes = map[MessageType]bool{
	MessageUser:      true,
	MessageAssistant: true,
	MessageSystem:    true,
	MessageTool:      true,
	MessageSummary:   true,
}

// TokenUsage carries the four pricing axes from spec.md §4.5.
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// Payload is an opaque, schemaless nested structure. It is modeled as a
// tagged-variant: Kind identifies how to interpret Raw, which is decoded
// lazily by callers that understand Kind.
type Payload struct {
	Kind string
	Raw  []byte
}

// Message is the atomic archived unit. UUID is globally unique (I2/I3).
type Message struct {
	UUID         string
	SessionID    string
	ParentUUID   string
	Type         MessageType
	Content      Payload
	ContentHash  string
	Timestamp    time.Time
	Model        string
	Usage        TokenUsage
	Cost         float64
	LatencyMS    int64
	GitBranch    string
	WorkingDir   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Partition computes the (year, month) physical shard key for t, per
// spec.md §4.3 I4. The reference calendar is UTC.
func Partition(t time.Time) (year int, month int) {
	u := t.UTC()
	return u.Year(), int(u.Month())
}

// Prompt is a saved prompt template, owned per-principal (SPEC_FULL §5,
// recovered from original_source's prompt.py; distinct from a Message).
type Prompt struct {
	ID        string
	OwnerID   string
	Name      string
	Content   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}
