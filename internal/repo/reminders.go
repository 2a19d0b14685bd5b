package repo

import (
	"context"
	"database/sql"

	"opsline/internal/domain"
)

const reminderColumns = `id,work_item_id,user_id,remind_at,seen_at,status,channel,created_at`

func scanReminder(row rowScanner) (domain.Reminder, error) {
	var rem domain.Reminder
	var seenAt sql.NullString
	err := row.Scan(&rem.ID, &rem.WorkItemID, &rem.UserID, &rem.RemindAt, &seenAt, &rem.Status, &rem.Channel, &rem.CreatedAt)
	if err == sql.ErrNoRows {
		return rem, ErrNotFound
	}
	if err != nil {
		return rem, err
	}
	rem.SeenAt = fromNull(seenAt)
	return rem, nil
}

func (r Repo) InsertReminder(ctx context.Context, rem domain.Reminder) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reminders(`+reminderColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		rem.ID, rem.WorkItemID, rem.UserID, rem.RemindAt, nullableStringPtr(rem.SeenAt), rem.Status, rem.Channel, rem.CreatedAt)
	return err
}

func (r Repo) GetReminder(ctx context.Context, id string) (domain.Reminder, error) {
	return scanReminder(r.DB.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id=?`, id))
}

// MarkReminderSeen stamps seen_at only when it is still null; marking an
// already-seen reminder is a no-op.
func (r Repo) MarkReminderSeen(ctx context.Context, id, seenAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE reminders SET seen_at=?, status='seen' WHERE id=? AND seen_at IS NULL`, seenAt, id)
	return err
}

// ListUpcomingReminders returns unseen reminders for a user with remind_at in
// [from, to], ascending.
func (r Repo) ListUpcomingReminders(ctx context.Context, userID, from, to string) ([]domain.Reminder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders
WHERE user_id=? AND seen_at IS NULL AND remind_at >= ? AND remind_at <= ? ORDER BY remind_at ASC, id ASC`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rem)
	}
	return res, rows.Err()
}

func (r Repo) ListWorkItemReminders(ctx context.Context, workItemID string) ([]domain.Reminder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE work_item_id=? ORDER BY remind_at ASC, id ASC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rem)
	}
	return res, rows.Err()
}
