// Package external names the collaborators spec.md §1 treats as
// out-of-scope: things the archive service would call across a process
// boundary in a full deployment, but that this repository only declares
// an interface for (SPEC_FULL §7). No component constructs a concrete
// implementation of these beyond PricingProvider (internal/app/services/cost),
// which needs one to function; the rest exist so the interfaces compile
// and a caller could be written against them.
package external

import (
	"context"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
)

// TokenIssuer issues and validates the bearer tokens the Identifier &
// Tenant Context accepts. This repository signs its own (tenant.Resolver,
// golang-jwt/jwt); an install backed by an external identity provider
// would satisfy this instead.
type TokenIssuer interface {
	IssueToken(ctx context.Context, userID string, role domain.Role, ttl time.Duration) (string, error)
	ValidateToken(ctx context.Context, token string) (domain.Principal, error)
}

// OIDCClient performs the OIDC authorization-code dance an install might
// front the Identifier & Tenant Context with, outside this repository.
type OIDCClient interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (idToken string, err error)
}

// AnalyticsSink forwards usage and cost events to an external aggregation
// pipeline, separate from the in-repo Rate-Limit Engine's own rollups.
type AnalyticsSink interface {
	RecordEvent(ctx context.Context, name string, attrs map[string]interface{}) error
}

// SyncAgent is the workstation-side tailer that reads local transcript
// files and calls the Ingest Pipeline; it runs outside this service.
type SyncAgent interface {
	Tail(ctx context.Context, path string) (<-chan []byte, error)
}

// CredentialCipher encrypts provider credentials (API keys, OAuth
// secrets) at rest, outside the scope of this service's own storage.
type CredentialCipher interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// DashboardNotifier pushes a live update to the admin dashboard UI,
// outside this service (spec.md §1).
type DashboardNotifier interface {
	Notify(ctx context.Context, event string, payload map[string]interface{}) error
}
