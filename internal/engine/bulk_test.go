package engine_test

import (
	"testing"

	"opsline/internal/engine"
)

func TestBulkSetStatusPartialSuccess(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "a", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "b", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	// b is already past not_started, so set_status will fail for it alone
	env.mustTransition(t, b.ID, "not_started", "in_progress")

	results, err := env.Engine.ApplyBulk(env.Ctx, []string{a.ID, b.ID, "missing"}, engine.BulkOperation{
		Kind: engine.BulkSetStatus, Status: "not_started",
	}, "tester")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected one result per id, got %d", len(results))
	}
	if !results[0].OK {
		t.Fatalf("expected %s to succeed: %s", a.ID, results[0].Error)
	}
	if results[1].OK || results[1].Error == "" {
		t.Fatalf("expected %s to fail with detail", b.ID)
	}
	if results[2].OK {
		t.Fatalf("expected missing id to fail")
	}
	// the failure did not roll back the success
	got, _ := env.Engine.Repo.GetWorkItem(env.Ctx, a.ID)
	if got.Status != "not_started" {
		t.Fatalf("expected a moved to not_started, got %s", got.Status)
	}
	if failed := engine.FailedResults(results); len(failed) != 2 {
		t.Fatalf("expected two failures, got %d", len(failed))
	}
}

func TestBulkBumpDueDates(t *testing.T) {
	env := newTestEnv(t)
	withDue, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "grants", Title: "dated", DueDate: "2026-01-10T00:00:00Z", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	noDue, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "grants", Title: "undated", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	results, err := env.Engine.ApplyBulk(env.Ctx, []string{withDue.ID, noDue.ID}, engine.BulkOperation{
		Kind: engine.BulkBumpDueDates, DeltaDays: 7,
	}, "tester")
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if !results[0].OK || results[0].Skipped {
		t.Fatalf("expected dated item shifted: %+v", results[0])
	}
	if !results[1].OK || !results[1].Skipped {
		t.Fatalf("expected undated item skipped without error: %+v", results[1])
	}
	got, _ := env.Engine.Repo.GetWorkItem(env.Ctx, withDue.ID)
	if got.DueDate == nil || *got.DueDate != "2026-01-17T00:00:00Z" {
		t.Fatalf("expected due date shifted by 7 days, got %v", got.DueDate)
	}
	// negative deltas pull the date in
	if _, err := env.Engine.ApplyBulk(env.Ctx, []string{withDue.ID}, engine.BulkOperation{
		Kind: engine.BulkBumpDueDates, DeltaDays: -3,
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.Repo.GetWorkItem(env.Ctx, withDue.ID)
	if got.DueDate == nil || *got.DueDate != "2026-01-14T00:00:00Z" {
		t.Fatalf("expected due date pulled back 3 days, got %v", got.DueDate)
	}
}

func TestBulkReassignOwner(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "operations", Title: "owned", OwnerUserID: "old-owner", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	results, err := env.Engine.ApplyBulk(env.Ctx, []string{w.ID}, engine.BulkOperation{
		Kind: engine.BulkReassignOwner, OwnerUserID: "new-owner",
	}, "tester")
	if err != nil || !results[0].OK {
		t.Fatalf("reassign: %v %+v", err, results)
	}
	got, _ := env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if got.OwnerUserID == nil || *got.OwnerUserID != "new-owner" {
		t.Fatalf("expected new owner, got %v", got.OwnerUserID)
	}
	// empty owner unassigns
	if _, err := env.Engine.ApplyBulk(env.Ctx, []string{w.ID}, engine.BulkOperation{
		Kind: engine.BulkReassignOwner,
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if got.OwnerUserID != nil {
		t.Fatalf("expected owner cleared, got %v", got.OwnerUserID)
	}
}

func TestBulkValidatesOperation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ApplyBulk(env.Ctx, []string{"x"}, engine.BulkOperation{Kind: "sort"}, "tester"); err == nil {
		t.Fatalf("expected unknown op rejected")
	}
	if _, err := env.Engine.ApplyBulk(env.Ctx, []string{"x"}, engine.BulkOperation{Kind: engine.BulkSetStatus, Status: "nope"}, "tester"); err == nil {
		t.Fatalf("expected unknown status rejected")
	}
	if _, err := env.Engine.ApplyBulk(env.Ctx, []string{"x"}, engine.BulkOperation{Kind: engine.BulkBumpDueDates}, "tester"); err == nil {
		t.Fatalf("expected zero delta rejected")
	}
}
