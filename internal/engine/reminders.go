package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"opsline/internal/domain"
)

// Schedule creates a reminder row. Past timestamps are accepted and treated
// as due immediately; identical tuples are permitted, so repeated calls stack
// rather than deduplicate.
func (e Engine) Schedule(ctx context.Context, workItemID, userID, remindAt, channel string) (domain.Reminder, error) {
	if userID == "" {
		return domain.Reminder{}, ValidationError{Field: "user_id", Reason: "is required"}
	}
	if _, err := time.Parse(time.RFC3339, remindAt); err != nil {
		return domain.Reminder{}, ValidationError{Field: "remind_at", Reason: "must be RFC3339"}
	}
	if _, err := e.Repo.GetWorkItem(ctx, workItemID); err != nil {
		return domain.Reminder{}, err
	}
	if channel == "" {
		channel = e.Config.Reminders.DefaultChannel
	}
	rem := domain.Reminder{
		ID:         uuid.New().String(),
		WorkItemID: workItemID,
		UserID:     userID,
		RemindAt:   remindAt,
		Status:     "scheduled",
		Channel:    channel,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertReminder(ctx, rem); err != nil {
		return domain.Reminder{}, err
	}
	return rem, nil
}

// ListUpcoming returns a user's unseen reminders due within the window,
// soonest first.
func (e Engine) ListUpcoming(ctx context.Context, userID string, withinHours int) ([]domain.Reminder, error) {
	if withinHours <= 0 {
		withinHours = e.Config.Reminders.UpcomingWindowHours
	}
	now := e.now().UTC()
	from := now.Format(time.RFC3339)
	to := now.Add(time.Duration(withinHours) * time.Hour).Format(time.RFC3339)
	return e.Repo.ListUpcomingReminders(ctx, userID, from, to)
}

// MarkSeen acknowledges a reminder. Marking an already-seen reminder is a
// no-op success.
func (e Engine) MarkSeen(ctx context.Context, reminderID, actorID string) (domain.Reminder, error) {
	rem, err := e.Repo.GetReminder(ctx, reminderID)
	if err != nil {
		return rem, err
	}
	if rem.SeenAt != nil {
		return rem, nil
	}
	seenAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.MarkReminderSeen(ctx, reminderID, seenAt); err != nil {
		return rem, err
	}
	return e.Repo.GetReminder(ctx, reminderID)
}
