package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"opsline/internal/config"
	"opsline/internal/db"
	"opsline/internal/engine"
	"opsline/internal/migrate"
	"opsline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.UpsertWorkspaceConfig(ctx, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx}
}

func (env *testEnv) mustTransition(t *testing.T, id string, statuses ...string) {
	t.Helper()
	for _, s := range statuses {
		if _, err := env.Engine.Transition(env.Ctx, id, s, "tester"); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
}

func TestWorkItemLifecycle(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module:  "programs",
		Type:    "task",
		Title:   "Draft partner MOU",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Status != "draft" {
		t.Fatalf("expected draft, got %s", w.Status)
	}
	env.mustTransition(t, w.ID, "not_started", "in_progress", "submitted", "under_review", "approved", "complete")
	got, err := env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected completed_at stamp")
	}
	// terminal status rejects further movement
	_, err = env.Engine.Transition(env.Ctx, w.ID, "in_progress", "tester")
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != "complete" || ite.To != "in_progress" {
		t.Fatalf("unexpected error detail: %+v", ite)
	}
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	env := newTestEnv(t)
	// same module and title under the frozen clock must still get distinct ids
	a, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "same", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	b, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "same", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %s twice", a.ID)
	}
	// caller-supplied ids are kept verbatim
	c, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		ID: "wi-explicit", Module: "programs", Title: "pinned", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "wi-explicit" {
		t.Fatalf("expected supplied id kept, got %s", c.ID)
	}
}

func TestSkippingStagesRejected(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "grants", Title: "Quarterly audit", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Transition(env.Ctx, w.ID, "complete", "tester")
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	// unknown status is a validation error, not a transition error
	_, err = env.Engine.Transition(env.Ctx, w.ID, "paused", "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCancelFromAnyNonTerminal(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range [][]string{
		{},
		{"not_started"},
		{"not_started", "in_progress", "waiting_on_ngo"},
		{"not_started", "in_progress", "submitted", "under_review"},
	} {
		w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
			Module: "operations", Title: "cancelable", ActorID: "tester",
		})
		if err != nil {
			t.Fatal(err)
		}
		env.mustTransition(t, w.ID, path...)
		if _, err := env.Engine.Transition(env.Ctx, w.ID, "canceled", "tester"); err != nil {
			t.Fatalf("cancel after %v: %v", path, err)
		}
	}
	// terminal items stay put
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "operations", Title: "finished", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, w.ID, "not_started", "in_progress", "submitted", "under_review", "approved", "complete")
	if _, err := env.Engine.Transition(env.Ctx, w.ID, "canceled", "tester"); err == nil {
		t.Fatalf("expected cancel of complete item to fail")
	}
}

func TestApprovalGate(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "grants", Type: "deliverable", Title: "Final report", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !w.ApprovalRequired || !w.EvidenceRequired {
		t.Fatalf("expected deliverable defaults to require gates")
	}
	env.mustTransition(t, w.ID, "not_started", "in_progress", "submitted", "under_review")
	_, err = env.Engine.Transition(env.Ctx, w.ID, "approved", "tester")
	var pfe engine.PreconditionFailedError
	if !errors.As(err, &pfe) || pfe.Gate != "approval" {
		t.Fatalf("expected approval precondition failure, got %v", err)
	}
	if _, err := env.Engine.RecordApprovalDecision(env.Ctx, w.ID, "approved", "lead-1"); err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, w.ID, "approved", "tester"); err != nil {
		t.Fatalf("expected approved after decision: %v", err)
	}
}

func TestEvidenceGateBlocksCompletion(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "compliance", Type: "report", Title: "Field visit report", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, w.ID, "not_started", "in_progress", "submitted", "under_review", "approved")

	_, err = env.Engine.Transition(env.Ctx, w.ID, "complete", "tester")
	var pfe engine.PreconditionFailedError
	if !errors.As(err, &pfe) || pfe.Gate != "evidence" {
		t.Fatalf("expected evidence precondition failure, got %v", err)
	}

	doc, err := env.Engine.AttachDocument(env.Ctx, engine.DocumentAttachOptions{
		WorkItemID: w.ID, FileName: "visit.pdf", FilePath: "docs/visit.pdf", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	// unreviewed evidence still blocks
	if _, err := env.Engine.Transition(env.Ctx, w.ID, "complete", "tester"); err == nil {
		t.Fatalf("expected pending evidence to block completion")
	}
	if _, err := env.Engine.RecordReview(env.Ctx, doc.ID, "approved", "reviewer-1", "looks right"); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, w.ID, "complete", "tester"); err != nil {
		t.Fatalf("expected completion after approved evidence: %v", err)
	}
}

func TestEvidenceStatusDerivation(t *testing.T) {
	env := newTestEnv(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return clock }

	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "compliance", Type: "report", Title: "Evidence trail", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.EvidenceStatus != "missing" {
		t.Fatalf("expected missing, got %s", w.EvidenceStatus)
	}
	d1, err := env.Engine.AttachDocument(env.Ctx, engine.DocumentAttachOptions{
		WorkItemID: w.ID, FileName: "a.pdf", FilePath: "docs/a.pdf", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := env.Engine.AttachDocument(env.Ctx, engine.DocumentAttachOptions{
		WorkItemID: w.ID, FileName: "b.pdf", FilePath: "docs/b.pdf", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if got.EvidenceStatus != "uploaded" {
		t.Fatalf("expected uploaded, got %s", got.EvidenceStatus)
	}

	if _, err := env.Engine.RecordReview(env.Ctx, d1.ID, "approved", "reviewer-1", ""); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if got.EvidenceStatus != "under_review" {
		t.Fatalf("expected under_review while a document is pending, got %s", got.EvidenceStatus)
	}

	// later rejection outweighs the earlier approval
	clock = clock.Add(time.Hour)
	if _, err := env.Engine.RecordReview(env.Ctx, d2.ID, "rejected", "reviewer-1", "wrong file"); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if got.EvidenceStatus != "rejected" {
		t.Fatalf("expected rejected, got %s", got.EvidenceStatus)
	}
}

func TestEvidenceStatusFrozenAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "compliance", Type: "report", Title: "closed out", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, w.ID, "not_started", "in_progress", "submitted", "under_review", "approved")
	doc, err := env.Engine.AttachDocument(env.Ctx, engine.DocumentAttachOptions{
		WorkItemID: w.ID, FileName: "final.pdf", FilePath: "docs/final.pdf", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordReview(env.Ctx, doc.ID, "approved", "reviewer-1", ""); err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, w.ID, "complete")

	// a late upload is archival; the closed item's evidence status holds
	late, err := env.Engine.AttachDocument(env.Ctx, engine.DocumentAttachOptions{
		WorkItemID: w.ID, FileName: "late.pdf", FilePath: "docs/late.pdf", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("late attach: %v", err)
	}
	got, _ := env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if got.EvidenceStatus != "approved" {
		t.Fatalf("expected evidence status to stay approved, got %s", got.EvidenceStatus)
	}
	if _, err := env.Engine.RecordReview(env.Ctx, late.ID, "rejected", "reviewer-1", "late"); err != nil {
		t.Fatalf("late review: %v", err)
	}
	got, _ = env.Engine.Repo.GetWorkItem(env.Ctx, w.ID)
	if got.Status != "complete" || got.EvidenceStatus != "approved" {
		t.Fatalf("expected complete item unchanged, got %+v", got)
	}
}

func TestUpdateWorkItemPatchSemantics(t *testing.T) {
	env := newTestEnv(t)
	due := "2026-02-01T00:00:00Z"
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "patched", DueDate: due, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	title := "renamed"
	empty := ""
	w, err = env.Engine.UpdateWorkItem(env.Ctx, engine.WorkItemUpdateOptions{
		ID: w.ID, Title: &title, DueDate: &empty, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if w.Title != "renamed" || w.DueDate != nil {
		t.Fatalf("expected rename and cleared due date, got %+v", w)
	}
	bad := "not-a-date"
	if _, err := env.Engine.UpdateWorkItem(env.Ctx, engine.WorkItemUpdateOptions{ID: w.ID, DueDate: &bad, ActorID: "tester"}); err == nil {
		t.Fatalf("expected invalid date to be rejected")
	}
}

func TestDeleteWorkItemCascades(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "operations", Title: "doomed", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AttachDocument(env.Ctx, engine.DocumentAttachOptions{
		WorkItemID: w.ID, FileName: "x.pdf", FilePath: "docs/x.pdf", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteWorkItem(env.Ctx, w.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetWorkItem(env.Ctx, w.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	docs, err := env.Engine.Repo.ListWorkItemDocuments(env.Ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected documents removed with the item")
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "evented", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, w.ID, "not_started", "in_progress")
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "", "work_item", w.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) < 3 {
		t.Fatalf("expected create plus two status events, got %d", len(events))
	}
}
