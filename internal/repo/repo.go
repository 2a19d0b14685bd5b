package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsline/internal/config"
	"opsline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const workItemColumns = `id,module,type,title,description,ngo_id,department_id,owner_user_id,created_by_user_id,status,priority,
due_date,start_date,completed_at,evidence_required,evidence_status,approval_required,approver_user_id,
approval_decision,approval_decided_by,approval_decided_at,approval_policy_json,external_visible,trello_sync,trello_card_id,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (domain.WorkItem, error) {
	var w domain.WorkItem
	var description, ngoID, departmentID, ownerUserID, dueDate, startDate, completedAt sql.NullString
	var approverUserID, approvalDecision, approvalDecidedBy, approvalDecidedAt, approvalPolicy, trelloCardID sql.NullString
	var evidenceRequired, approvalRequired, externalVisible, trelloSync int
	err := row.Scan(&w.ID, &w.Module, &w.Type, &w.Title, &description, &ngoID, &departmentID, &ownerUserID,
		&w.CreatedByUserID, &w.Status, &w.Priority, &dueDate, &startDate, &completedAt,
		&evidenceRequired, &w.EvidenceStatus, &approvalRequired, &approverUserID,
		&approvalDecision, &approvalDecidedBy, &approvalDecidedAt, &approvalPolicy,
		&externalVisible, &trelloSync, &trelloCardID, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if description.Valid {
		w.Description = description.String
	}
	w.NGOID = fromNull(ngoID)
	w.DepartmentID = fromNull(departmentID)
	w.OwnerUserID = fromNull(ownerUserID)
	w.DueDate = fromNull(dueDate)
	w.StartDate = fromNull(startDate)
	w.CompletedAt = fromNull(completedAt)
	w.ApproverUserID = fromNull(approverUserID)
	w.ApprovalDecision = fromNull(approvalDecision)
	w.ApprovalDecidedBy = fromNull(approvalDecidedBy)
	w.ApprovalDecidedAt = fromNull(approvalDecidedAt)
	w.ApprovalPolicyJSON = fromNull(approvalPolicy)
	w.TrelloCardID = fromNull(trelloCardID)
	w.EvidenceRequired = evidenceRequired != 0
	w.ApprovalRequired = approvalRequired != 0
	w.ExternalVisible = externalVisible != 0
	w.TrelloSync = trelloSync != 0
	return w, nil
}

func (r Repo) InsertWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_items(`+workItemColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Module, w.Type, w.Title, nullable(w.Description), nullableStringPtr(w.NGOID), nullableStringPtr(w.DepartmentID),
		nullableStringPtr(w.OwnerUserID), w.CreatedByUserID, w.Status, w.Priority,
		nullableStringPtr(w.DueDate), nullableStringPtr(w.StartDate), nullableStringPtr(w.CompletedAt),
		boolInt(w.EvidenceRequired), w.EvidenceStatus, boolInt(w.ApprovalRequired), nullableStringPtr(w.ApproverUserID),
		nullableStringPtr(w.ApprovalDecision), nullableStringPtr(w.ApprovalDecidedBy), nullableStringPtr(w.ApprovalDecidedAt),
		nullableStringPtr(w.ApprovalPolicyJSON), boolInt(w.ExternalVisible), boolInt(w.TrelloSync), nullableStringPtr(w.TrelloCardID),
		w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) UpdateWorkItem(ctx context.Context, tx *sql.Tx, w domain.WorkItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE work_items SET module=?, type=?, title=?, description=?, ngo_id=?, department_id=?,
owner_user_id=?, status=?, priority=?, due_date=?, start_date=?, completed_at=?, evidence_required=?, evidence_status=?,
approval_required=?, approver_user_id=?, approval_decision=?, approval_decided_by=?, approval_decided_at=?,
approval_policy_json=?, external_visible=?, trello_sync=?, trello_card_id=?, updated_at=? WHERE id=?`,
		w.Module, w.Type, w.Title, nullable(w.Description), nullableStringPtr(w.NGOID), nullableStringPtr(w.DepartmentID),
		nullableStringPtr(w.OwnerUserID), w.Status, w.Priority, nullableStringPtr(w.DueDate), nullableStringPtr(w.StartDate),
		nullableStringPtr(w.CompletedAt), boolInt(w.EvidenceRequired), w.EvidenceStatus, boolInt(w.ApprovalRequired),
		nullableStringPtr(w.ApproverUserID), nullableStringPtr(w.ApprovalDecision), nullableStringPtr(w.ApprovalDecidedBy),
		nullableStringPtr(w.ApprovalDecidedAt), nullableStringPtr(w.ApprovalPolicyJSON), boolInt(w.ExternalVisible),
		boolInt(w.TrelloSync), nullableStringPtr(w.TrelloCardID), w.UpdatedAt, w.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	w, err := scanWorkItem(r.DB.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id))
	if err != nil {
		return w, err
	}
	deps, err := r.ListDependencies(ctx, w.ID)
	if err != nil {
		return w, err
	}
	w.Dependencies = deps
	return w, nil
}

func (r Repo) GetWorkItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkItem, error) {
	w, err := scanWorkItem(tx.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id=?`, id))
	if err != nil {
		return w, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT depends_on_id FROM work_item_deps WHERE work_item_id=? ORDER BY position ASC`, id)
	if err != nil {
		return w, err
	}
	defer rows.Close()
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return w, err
		}
		w.Dependencies = append(w.Dependencies, dep)
	}
	return w, rows.Err()
}

// DeleteWorkItem removes the item; documents, reminders and dependency rows
// cascade at the store level.
func (r Repo) DeleteWorkItem(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM work_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type WorkItemFilters struct {
	Module          string
	Type            string
	Status          string
	NGOID           string
	DepartmentID    string
	OwnerUserID     string
	ExternalVisible *bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListWorkItems(ctx context.Context, f WorkItemFilters) ([]domain.WorkItem, error) {
	var clauses []string
	var args []any
	if f.Module != "" {
		clauses = append(clauses, "module=?")
		args = append(args, f.Module)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.NGOID != "" {
		clauses = append(clauses, "ngo_id=?")
		args = append(args, f.NGOID)
	}
	if f.DepartmentID != "" {
		clauses = append(clauses, "department_id=?")
		args = append(args, f.DepartmentID)
	}
	if f.OwnerUserID != "" {
		clauses = append(clauses, "owner_user_id=?")
		args = append(args, f.OwnerUserID)
	}
	if f.ExternalVisible != nil {
		clauses = append(clauses, "external_visible=?")
		args = append(args, boolInt(*f.ExternalVisible))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workItemColumns + ` FROM work_items ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// SetDependencies replaces the ordered dependency set for an item.
func (r Repo) SetDependencies(ctx context.Context, tx *sql.Tx, workItemID string, deps []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM work_item_deps WHERE work_item_id=?`, workItemID); err != nil {
		return err
	}
	for i, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO work_item_deps(work_item_id, depends_on_id, position) VALUES (?,?,?)`,
			workItemID, d, i); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListDependencies(ctx context.Context, workItemID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT depends_on_id FROM work_item_deps WHERE work_item_id=? ORDER BY position ASC`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// ReassignOwner is an unconditional owner write; a nil ownerUserID clears it.
func (r Repo) ReassignOwner(ctx context.Context, id string, ownerUserID *string, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE work_items SET owner_user_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(ownerUserID), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDueDate sets a single item's due date in one statement.
func (r Repo) UpdateDueDate(ctx context.Context, id, dueDate, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE work_items SET due_date=?, updated_at=? WHERE id=?`, dueDate, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertWorkspaceConfig(ctx context.Context, cfg *config.Config) error {
	return upsertWorkspaceConfig(ctx, r.DB, nil, cfg)
}

func (r Repo) UpsertWorkspaceConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	return upsertWorkspaceConfig(ctx, nil, tx, cfg)
}

func upsertWorkspaceConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO workspace_configs(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetWorkspaceConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workspace_configs WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
