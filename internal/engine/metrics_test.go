package engine_test

import (
	"testing"
	"time"

	"opsline/internal/domain"
	"opsline/internal/engine"
)

func newDatedItem(t *testing.T, env *testEnv, title, due string) string {
	t.Helper()
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: title, DueDate: due, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, w.ID, "not_started")
	return w.ID
}

func TestSnapshotDueWindows(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return now }

	newDatedItem(t, env, "overdue", "2025-12-30T00:00:00Z")
	newDatedItem(t, env, "soon", now.AddDate(0, 0, 3).Format(time.RFC3339))
	newDatedItem(t, env, "this month", now.AddDate(0, 0, 20).Format(time.RFC3339))
	newDatedItem(t, env, "this quarter", now.AddDate(0, 0, 60).Format(time.RFC3339))
	// drafts never count toward the outlook
	if _, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "still drafting", DueDate: now.AddDate(0, 0, 1).Format(time.RFC3339), ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}

	snap, err := env.Engine.Snapshot(env.Ctx, engine.MetricsScope{})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Overdue != 1 {
		t.Fatalf("expected 1 overdue, got %d", snap.Overdue)
	}
	want := map[int]int{7: 1, 30: 2, 90: 3}
	for _, w := range snap.DueWindows {
		if w.Count != want[w.Days] {
			t.Fatalf("window %dd: expected %d, got %d", w.Days, want[w.Days], w.Count)
		}
	}
	// windows are cumulative, never shrinking
	for i := 1; i < len(snap.DueWindows); i++ {
		if snap.DueWindows[i].Count < snap.DueWindows[i-1].Count {
			t.Fatalf("window %dd smaller than %dd", snap.DueWindows[i].Days, snap.DueWindows[i-1].Days)
		}
	}
	if snap.ByStatus["not_started"] != 4 || snap.ByStatus["draft"] != 1 {
		t.Fatalf("unexpected status breakdown: %v", snap.ByStatus)
	}
}

func TestSnapshotEvidenceBacklog(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "compliance", Type: "report", Title: "gated", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, w.ID, "not_started")

	snap, err := env.Engine.Snapshot(env.Ctx, engine.MetricsScope{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.EvidencePending != 1 {
		t.Fatalf("expected 1 evidence-pending, got %d", snap.EvidencePending)
	}
	items, err := env.Engine.EvidencePending(env.Ctx, engine.MetricsScope{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != w.ID {
		t.Fatalf("expected the gated item listed, got %v", items)
	}

	doc, err := env.Engine.AttachDocument(env.Ctx, engine.DocumentAttachOptions{
		WorkItemID: w.ID, FileName: "r.pdf", FilePath: "docs/r.pdf", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordReview(env.Ctx, doc.ID, "approved", "reviewer-1", ""); err != nil {
		t.Fatal(err)
	}
	snap, err = env.Engine.Snapshot(env.Ctx, engine.MetricsScope{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.EvidencePending != 0 {
		t.Fatalf("expected backlog cleared, got %d", snap.EvidencePending)
	}
}

func TestScopeByPartnerGeography(t *testing.T) {
	env := newTestEnv(t)
	ngo, err := env.Engine.RegisterNGO(env.Ctx, domain.NGO{
		Name: "Relief West", Bundle: "west", Country: "Chad", Region: "Sila",
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	inScope, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "scoped", NGOID: ngo.ID, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, inScope.ID, "not_started")
	outOfScope, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "unscoped", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, outOfScope.ID, "not_started")

	snap, err := env.Engine.Snapshot(env.Ctx, engine.MetricsScope{Bundle: "west"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.ByStatus["not_started"] != 1 {
		t.Fatalf("expected only the partner-linked item in scope, got %v", snap.ByStatus)
	}

	// a geography matching no partner yields an empty report, not an unscoped one
	snap, err = env.Engine.Snapshot(env.Ctx, engine.MetricsScope{Bundle: "nowhere"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.ByStatus) != 0 || snap.Overdue != 0 {
		t.Fatalf("expected empty snapshot for unmatched scope, got %+v", snap)
	}
}

func TestAtRiskPartners(t *testing.T) {
	env := newTestEnv(t)
	ngo, err := env.Engine.RegisterNGO(env.Ctx, domain.NGO{Name: "Shaky Org", Bundle: "east"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RegisterNGO(env.Ctx, domain.NGO{Name: "Solid Org", Bundle: "east"}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetNGOStatus(env.Ctx, ngo.ID, domain.NGOAtRisk, "tester"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.AtRiskNGOs(env.Ctx, engine.MetricsScope{Bundle: "east"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != ngo.ID {
		t.Fatalf("expected only the at-risk partner, got %v", got)
	}
	snap, err := env.Engine.Snapshot(env.Ctx, engine.MetricsScope{Bundle: "east"})
	if err != nil {
		t.Fatal(err)
	}
	if snap.AtRiskNGOs != 1 {
		t.Fatalf("expected at-risk count 1, got %d", snap.AtRiskNGOs)
	}
}

func TestWorkloadByDepartment(t *testing.T) {
	env := newTestEnv(t)
	dept, err := env.Engine.CreateOrgUnit(env.Ctx, "Field Ops", "", "lead-1", "tester")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
			Module: "operations", Title: "assigned", DepartmentID: dept.ID, ActorID: "tester",
		})
		if err != nil {
			t.Fatal(err)
		}
		env.mustTransition(t, w.ID, "not_started")
	}
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "operations", Title: "unassigned", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	env.mustTransition(t, w.ID, "not_started")

	rows, err := env.Engine.Workload(env.Ctx, engine.MetricsScope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two buckets, got %v", rows)
	}
	if rows[0].Department != "Field Ops" || rows[0].Count != 2 {
		t.Fatalf("expected Field Ops first with 2, got %+v", rows[0])
	}
	if rows[1].Department != "Unassigned" || rows[1].Count != 1 {
		t.Fatalf("expected Unassigned bucket with 1, got %+v", rows[1])
	}
}
