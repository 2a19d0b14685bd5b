package engine

import (
	"context"
	"time"

	"opsline/internal/domain"
)

// Bulk operation kinds.
const (
	BulkSetStatus     = "set_status"
	BulkReassignOwner = "reassign_owner"
	BulkBumpDueDates  = "bump_due_dates"
)

// BulkOperation is one logical operation applied across a selection.
type BulkOperation struct {
	Kind        string
	Status      string
	OwnerUserID string
	DeltaDays   int
}

// BulkItemResult reports the outcome for a single id. Skipped is set for
// bump operations on items without a due date; those are not errors.
type BulkItemResult struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// ApplyBulk applies the operation to each id independently. Each item's
// mutation is atomic; the batch as a whole is not, and failures never stop
// the remaining ids. Callers must inspect the per-id results.
func (e Engine) ApplyBulk(ctx context.Context, ids []string, op BulkOperation, actorID string) ([]BulkItemResult, error) {
	switch op.Kind {
	case BulkSetStatus:
		if !domain.ValidStatus(op.Status) {
			return nil, ValidationError{Field: "status", Reason: "unknown value " + op.Status}
		}
	case BulkReassignOwner:
	case BulkBumpDueDates:
		if op.DeltaDays == 0 {
			return nil, ValidationError{Field: "delta_days", Reason: "must be non-zero"}
		}
	default:
		return nil, ValidationError{Field: "kind", Reason: "unknown operation " + op.Kind}
	}
	results := make([]BulkItemResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, e.applyBulkOne(ctx, id, op, actorID))
	}
	return results, nil
}

func (e Engine) applyBulkOne(ctx context.Context, id string, op BulkOperation, actorID string) BulkItemResult {
	res := BulkItemResult{ID: id}
	var err error
	switch op.Kind {
	case BulkSetStatus:
		_, err = e.Transition(ctx, id, op.Status, actorID)
	case BulkReassignOwner:
		err = e.reassignOwner(ctx, id, op.OwnerUserID, actorID)
	case BulkBumpDueDates:
		res.Skipped, err = e.bumpDueDate(ctx, id, op.DeltaDays, actorID)
	}
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}
	res.OK = true
	return res
}

func (e Engine) reassignOwner(ctx context.Context, id, ownerUserID, actorID string) error {
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ReassignOwner(ctx, id, optionalString(ownerUserID), now); err != nil {
		return err
	}
	return e.appendEvent(ctx, "workitem.reassigned", "work_item", id, actorID, map[string]any{"owner_user_id": ownerUserID})
}

func (e Engine) bumpDueDate(ctx context.Context, id string, deltaDays int, actorID string) (skipped bool, err error) {
	w, err := e.Repo.GetWorkItem(ctx, id)
	if err != nil {
		return false, err
	}
	if w.DueDate == nil {
		return true, nil
	}
	due, err := time.Parse(time.RFC3339, *w.DueDate)
	if err != nil {
		return false, ValidationError{Field: "due_date", Reason: "stored value is not RFC3339"}
	}
	shifted := due.AddDate(0, 0, deltaDays).UTC().Format(time.RFC3339)
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateDueDate(ctx, id, shifted, now); err != nil {
		return false, err
	}
	return false, e.appendEvent(ctx, "workitem.due_shifted", "work_item", id, actorID, map[string]any{
		"from": *w.DueDate, "to": shifted,
	})
}

// appendEvent opens a short transaction for event rows emitted outside a
// larger mutation transaction.
func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload map[string]any) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// FailedResults filters a bulk outcome down to its failures.
func FailedResults(results []BulkItemResult) []BulkItemResult {
	var failed []BulkItemResult
	for _, r := range results {
		if !r.OK {
			failed = append(failed, r)
		}
	}
	return failed
}
