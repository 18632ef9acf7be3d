// Package ownership translates an authenticated principal into the set of
// entities it may read or write, and is the single gate every data
// operation in the archive service flows through.
package ownership

import (
	"context"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
)

// Query is a project/session predicate template, populated by Filter and
// consumed by the Rolling Partition Store and the storage project/session
// backends. A nil SessionIDs/ProjectIDs means "no restriction" and is only
// ever produced for an admin principal.
type Query struct {
	ProjectIDs []string
	SessionIDs []string
	Unrestricted bool
}

// Resolver is the Ownership Resolver (spec.md §4.2).
type Resolver struct {
	projects storage.ProjectStore
	sessions storage.SessionStore
}

func New(projects storage.ProjectStore, sessions storage.SessionStore) *Resolver {
	return &Resolver{projects: projects, sessions: sessions}
}

// ProjectsOf returns the set of project ids the principal owns. Admins see
// every project in the store.
func (r *Resolver) ProjectsOf(ctx context.Context, p domain.Principal) ([]string, error) {
	if p.IsAdmin() {
		all, err := r.projects.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		return projectIDs(all), nil
	}
	owned, err := r.projects.ListByOwner(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return projectIDs(owned), nil
}

// SessionsOf returns the session ids whose project is owned by the
// principal (transitively; sessions carry no direct owner_id per I1).
func (r *Resolver) SessionsOf(ctx context.Context, p domain.Principal) ([]string, error) {
	projectIDs, err := r.ProjectsOf(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(projectIDs) == 0 {
		return nil, nil
	}
	sessions, err := r.sessions.ListByProjects(ctx, projectIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

// Owns reports whether the principal owns the given project or session
// entity. Admins own everything. The lookup cost is bounded by the
// storage layer's indexed GetByID/GetByPath, satisfying the O(1)-after-
// lookup contract in spec.md §4.2.
func (r *Resolver) Owns(ctx context.Context, p domain.Principal, entityKind string, entityID string) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}

	switch entityKind {
	case "project":
		proj, err := r.projects.GetByID(ctx, entityID)
		if err != nil {
			return false, nil //nolint:nilerr // not-found is "doesn't own", not a propagating error
		}
		return proj.OwnerID == p.UserID, nil
	case "session":
		sess, err := r.sessions.GetByID(ctx, entityID)
		if err != nil {
			return false, nil //nolint:nilerr
		}
		proj, err := r.projects.GetByID(ctx, sess.ProjectID)
		if err != nil {
			return false, nil //nolint:nilerr
		}
		return proj.OwnerID == p.UserID, nil
	default:
		return false, nil
	}
}

// Filter builds the project/session predicate a caller must apply to any
// read or write. Admin principals receive an unrestricted query (I6 is
// satisfied trivially since an admin's reachable set is everything).
func (r *Resolver) Filter(ctx context.Context, p domain.Principal) (Query, error) {
	if p.IsAdmin() {
		return Query{Unrestricted: true}, nil
	}

	projectIDs, err := r.ProjectsOf(ctx, p)
	if err != nil {
		return Query{}, err
	}
	var sessionIDs []string
	if len(projectIDs) > 0 {
		sessions, err := r.sessions.ListByProjects(ctx, projectIDs)
		if err != nil {
			return Query{}, err
		}
		sessionIDs = make([]string, 0, len(sessions))
		for _, s := range sessions {
			sessionIDs = append(sessionIDs, s.ID)
		}
	}
	return Query{ProjectIDs: projectIDs, SessionIDs: sessionIDs}, nil
}

func projectIDs(projects []*domain.Project) []string {
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	return ids
}
