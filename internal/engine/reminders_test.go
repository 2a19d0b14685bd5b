package engine_test

import (
	"errors"
	"testing"
	"time"

	"opsline/internal/engine"
	"opsline/internal/repo"
)

func TestScheduleReminderDefaults(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "nudge me", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	rem, err := env.Engine.Schedule(env.Ctx, w.ID, "user-1", "2026-01-02T09:00:00Z", "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if rem.Channel != "in_app" {
		t.Fatalf("expected default channel, got %s", rem.Channel)
	}
	if rem.Status != "scheduled" || rem.SeenAt != nil {
		t.Fatalf("unexpected reminder state: %+v", rem)
	}

	if _, err := env.Engine.Schedule(env.Ctx, w.ID, "", "2026-01-02T09:00:00Z", ""); err == nil {
		t.Fatalf("expected missing user rejected")
	}
	if _, err := env.Engine.Schedule(env.Ctx, w.ID, "user-1", "soonish", ""); err == nil {
		t.Fatalf("expected malformed timestamp rejected")
	}
	if _, err := env.Engine.Schedule(env.Ctx, "missing", "user-1", "2026-01-02T09:00:00Z", ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown item, got %v", err)
	}
}

func TestUpcomingRemindersWindow(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return now }
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "windowed", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	later, err := env.Engine.Schedule(env.Ctx, w.ID, "user-1", now.Add(40*time.Hour).Format(time.RFC3339), "")
	if err != nil {
		t.Fatal(err)
	}
	soon, err := env.Engine.Schedule(env.Ctx, w.ID, "user-1", now.Add(2*time.Hour).Format(time.RFC3339), "")
	if err != nil {
		t.Fatal(err)
	}
	// outside the default 48h window
	if _, err := env.Engine.Schedule(env.Ctx, w.ID, "user-1", now.Add(100*time.Hour).Format(time.RFC3339), ""); err != nil {
		t.Fatal(err)
	}
	// different user
	if _, err := env.Engine.Schedule(env.Ctx, w.ID, "user-2", now.Add(2*time.Hour).Format(time.RFC3339), ""); err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.ListUpcoming(env.Ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reminders in window, got %d", len(got))
	}
	// soonest first
	if got[0].ID != soon.ID || got[1].ID != later.ID {
		t.Fatalf("expected ascending remind_at order, got %v", got)
	}

	// a narrower window drops the later one
	got, err = env.Engine.ListUpcoming(env.Ctx, "user-1", 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != soon.ID {
		t.Fatalf("expected only the soon reminder, got %v", got)
	}
}

func TestMarkSeenIdempotent(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkItem(env.Ctx, engine.WorkItemCreateOptions{
		Module: "programs", Title: "seen", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	rem, err := env.Engine.Schedule(env.Ctx, w.ID, "user-1", "2026-01-02T09:00:00Z", "")
	if err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.MarkSeen(env.Ctx, rem.ID, "user-1")
	if err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if first.SeenAt == nil {
		t.Fatalf("expected seen_at set")
	}
	second, err := env.Engine.MarkSeen(env.Ctx, rem.ID, "user-1")
	if err != nil {
		t.Fatalf("second mark seen: %v", err)
	}
	if second.SeenAt == nil || *second.SeenAt != *first.SeenAt {
		t.Fatalf("expected second call to be a no-op, got %v then %v", first.SeenAt, second.SeenAt)
	}
	// seen reminders leave the upcoming feed
	got, err := env.Engine.ListUpcoming(env.Ctx, "user-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no upcoming reminders, got %v", got)
	}
}
