package ownership

import (
	"context"
	"testing"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/internal/app/storage/memory"
)

func setup(t *testing.T) (*Resolver, *memory.ProjectStore, *memory.SessionStore) {
	t.Helper()
	projects := memory.NewProjectStore()
	sessions := memory.NewSessionStore()
	return New(projects, sessions), projects, sessions
}

func TestTenantIsolation_EachPrincipalOwnsOwnProject(t *testing.T) {
	ctx := context.Background()
	resolver, projects, _ := setup(t)

	a := domain.Principal{UserID: "user-a", Role: domain.RoleUser}
	b := domain.Principal{UserID: "user-b", Role: domain.RoleUser}

	if err := projects.Create(ctx, &domain.Project{ID: "proj-a", OwnerID: "user-a", Path: "/proj/x"}); err != nil {
		t.Fatalf("create project a: %v", err)
	}
	if err := projects.Create(ctx, &domain.Project{ID: "proj-b", OwnerID: "user-b", Path: "/proj/x"}); err != nil {
		t.Fatalf("create project b: %v", err)
	}

	aProjects, err := resolver.ProjectsOf(ctx, a)
	if err != nil {
		t.Fatalf("projects of a: %v", err)
	}
	if len(aProjects) != 1 || aProjects[0] != "proj-a" {
		t.Fatalf("expected a to own only proj-a, got %v", aProjects)
	}

	bProjects, err := resolver.ProjectsOf(ctx, b)
	if err != nil {
		t.Fatalf("projects of b: %v", err)
	}
	if len(bProjects) != 1 || bProjects[0] != "proj-b" {
		t.Fatalf("expected b to own only proj-b, got %v", bProjects)
	}
}

func TestOwns_AdminBypassesFilters(t *testing.T) {
	ctx := context.Background()
	resolver, projects, _ := setup(t)

	if err := projects.Create(ctx, &domain.Project{ID: "proj-a", OwnerID: "user-a", Path: "/proj/x"}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	admin := domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}
	owns, err := resolver.Owns(ctx, admin, "project", "proj-a")
	if err != nil {
		t.Fatalf("owns: %v", err)
	}
	if !owns {
		t.Fatal("expected admin to own every project")
	}
}

func TestOwns_RejectsNonOwner(t *testing.T) {
	ctx := context.Background()
	resolver, projects, _ := setup(t)

	if err := projects.Create(ctx, &domain.Project{ID: "proj-a", OwnerID: "user-a", Path: "/proj/x"}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	other := domain.Principal{UserID: "user-b", Role: domain.RoleUser}
	owns, err := resolver.Owns(ctx, other, "project", "proj-a")
	if err != nil {
		t.Fatalf("owns: %v", err)
	}
	if owns {
		t.Fatal("expected non-owner to not own the project")
	}
}

func TestFilter_UnrestrictedForAdmin(t *testing.T) {
	ctx := context.Background()
	resolver, _, _ := setup(t)

	admin := domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}
	q, err := resolver.Filter(ctx, admin)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if !q.Unrestricted {
		t.Fatal("expected admin filter to be unrestricted")
	}
}

func TestFilter_ScopesToOwnedSessions(t *testing.T) {
	ctx := context.Background()
	resolver, projects, sessions := setup(t)

	if err := projects.Create(ctx, &domain.Project{ID: "proj-a", OwnerID: "user-a", Path: "/proj/x"}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := sessions.Create(ctx, &domain.Session{ID: "sess-1", ProjectID: "proj-a"}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	user := domain.Principal{UserID: "user-a", Role: domain.RoleUser}
	q, err := resolver.Filter(ctx, user)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if q.Unrestricted {
		t.Fatal("expected non-admin filter to be restricted")
	}
	if len(q.SessionIDs) != 1 || q.SessionIDs[0] != "sess-1" {
		t.Fatalf("expected filter to include sess-1, got %v", q.SessionIDs)
	}
}
