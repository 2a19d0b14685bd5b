package engine_test

import (
	"errors"
	"testing"

	"opsline/internal/domain"
	"opsline/internal/repo"
)

func TestCreateOrgUnit(t *testing.T) {
	env := newTestEnv(t)
	parent, err := env.Engine.CreateOrgUnit(env.Ctx, "Programs", "", "lead-1", "tester")
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := env.Engine.CreateOrgUnit(env.Ctx, "Field Ops", parent.ID, "", "tester")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("expected parent link, got %+v", child)
	}
	if _, err := env.Engine.CreateOrgUnit(env.Ctx, "Orphan", "missing", "", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown parent rejected, got %v", err)
	}
	if _, err := env.Engine.CreateOrgUnit(env.Ctx, "", "", "", "tester"); err == nil {
		t.Fatalf("expected empty name rejected")
	}
}

func TestNGOStatusTracking(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.RegisterNGO(env.Ctx, domain.NGO{Name: "Water Aid East", Country: "Chad"}, "tester")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if n.Status != domain.NGOActive {
		t.Fatalf("expected default active status, got %s", n.Status)
	}
	n, err = env.Engine.SetNGOStatus(env.Ctx, n.ID, domain.NGOSuspended, "tester")
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if n.Status != domain.NGOSuspended {
		t.Fatalf("expected suspended, got %s", n.Status)
	}
	if _, err := env.Engine.SetNGOStatus(env.Ctx, n.ID, "flagged", "tester"); err == nil {
		t.Fatalf("expected unknown status rejected")
	}
	if _, err := env.Engine.RegisterNGO(env.Ctx, domain.NGO{Name: "Bad Status", Status: "flagged"}, "tester"); err == nil {
		t.Fatalf("expected invalid status at registration rejected")
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "ngo.status", "", n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one status event, got %d", len(events))
	}
}
