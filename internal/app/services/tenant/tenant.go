// Package tenant derives the acting Principal for an inbound request and
// is the single entry point the rest of the archive service trusts for
// "who is this" (spec.md §4.1).
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
)

// APIKeyLookup resolves a hashed API key to its owning user id, the key's
// name (for audit logging), and its active/expiry state. Implementations
// live in the storage layer; this package only consumes the contract.
type APIKeyLookup interface {
	FindActiveByHash(ctx context.Context, keyHash string) (userID string, keyName string, found bool, err error)
	TouchLastUsed(ctx context.Context, userID, keyName string, at time.Time)
}

// UserRoleLookup resolves a resolved user id to its role and permission set.
type UserRoleLookup interface {
	RoleOf(ctx context.Context, userID string) (domain.Role, []string, error)
}

// Claims is the bearer-token payload this service issues and verifies.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver derives a Principal from an inbound request's credentials,
// trying API key, then bearer token, then an optional loopback fallback,
// in that order (spec.md §4.1).
type Resolver struct {
	keys   APIKeyLookup
	roles  UserRoleLookup
	secret []byte

	// TrustLoopback enables the development-convenience fallback that
	// maps unauthenticated loopback-origin requests to DefaultAdminID.
	// Left as a config flag per SPEC_FULL §10's open question.
	TrustLoopback  bool
	DefaultAdminID string
}

func New(keys APIKeyLookup, roles UserRoleLookup, signingSecret string) *Resolver {
	return &Resolver{keys: keys, roles: roles, secret: []byte(signingSecret)}
}

// HashAPIKey computes the sha-256 hash an API key is matched against.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IssueToken signs a bearer token for userID/role, valid for ttl.
func (r *Resolver) IssueToken(userID string, role domain.Role, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "claudelens-archive",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}

func (r *Resolver) parseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Credentials carries whatever authentication material accompanied a
// request; callers populate only the fields they have.
type Credentials struct {
	APIKey        string
	BearerToken   string
	FromLoopback  bool
}

// Resolve derives a Principal from the supplied credentials. It never
// returns an error for "no credential matched" — the caller gets
// domain.AnonymousPrincipal and decides whether to serve or reject, per
// spec.md §4.1.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (domain.Principal, error) {
	if creds.APIKey != "" {
		p, ok, err := r.resolveAPIKey(ctx, creds.APIKey)
		if err != nil {
			return domain.AnonymousPrincipal, err
		}
		if ok {
			return p, nil
		}
	}

	if creds.BearerToken != "" {
		p, ok, err := r.resolveBearerToken(ctx, creds.BearerToken)
		if err != nil {
			return domain.AnonymousPrincipal, err
		}
		if ok {
			return p, nil
		}
	}

	if r.TrustLoopback && creds.FromLoopback && r.DefaultAdminID != "" {
		return domain.Principal{UserID: r.DefaultAdminID, Role: domain.RoleAdmin}, nil
	}

	return domain.AnonymousPrincipal, nil
}

func (r *Resolver) resolveAPIKey(ctx context.Context, rawKey string) (domain.Principal, bool, error) {
	if r.keys == nil {
		return domain.Principal{}, false, nil
	}
	hash := HashAPIKey(rawKey)
	userID, keyName, found, err := r.keys.FindActiveByHash(ctx, hash)
	if err != nil {
		return domain.Principal{}, false, errors.UpstreamFailure("api-key-store", err)
	}
	if !found {
		return domain.Principal{}, false, nil
	}

	role, perms, err := r.roleOf(ctx, userID)
	if err != nil {
		return domain.Principal{}, false, err
	}

	// Best-effort: a failed last_used touch never fails the request.
	r.keys.TouchLastUsed(ctx, userID, keyName, time.Now().UTC())

	return domain.Principal{UserID: userID, Role: role, Permissions: perms, APIKeyName: keyName}, true, nil
}

func (r *Resolver) resolveBearerToken(ctx context.Context, token string) (domain.Principal, bool, error) {
	claims, err := r.parseToken(token)
	if err != nil {
		return domain.Principal{}, false, nil
	}
	role, perms, err := r.roleOf(ctx, claims.UserID)
	if err != nil {
		return domain.Principal{}, false, err
	}
	if claims.Role != "" {
		role = domain.Role(claims.Role)
	}
	return domain.Principal{UserID: claims.UserID, Role: role, Permissions: perms}, true, nil
}

func (r *Resolver) roleOf(ctx context.Context, userID string) (domain.Role, []string, error) {
	if r.roles == nil {
		return domain.RoleUser, nil, nil
	}
	role, perms, err := r.roles.RoleOf(ctx, userID)
	if err != nil {
		return "", nil, errors.UpstreamFailure("user-role-store", err)
	}
	return role, perms, nil
}
