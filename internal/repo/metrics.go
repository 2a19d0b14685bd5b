package repo

import (
	"context"
	"strings"

	"opsline/internal/domain"
)

// Scope narrows aggregation queries. When FilterNGOs is set, only items
// whose ngo_id is in NGOIDs count; an empty filtered set matches nothing.
type Scope struct {
	Module       string
	DepartmentID string
	NGOIDs       []string
	FilterNGOs   bool
}

func (s Scope) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if s.Module != "" {
		clauses = append(clauses, "module=?")
		args = append(args, s.Module)
	}
	if s.DepartmentID != "" {
		clauses = append(clauses, "department_id=?")
		args = append(args, s.DepartmentID)
	}
	if s.FilterNGOs {
		if len(s.NGOIDs) == 0 {
			clauses = append(clauses, "1=0")
			return clauses, args
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(s.NGOIDs)), ",")
		clauses = append(clauses, "ngo_id IN ("+placeholders+")")
		for _, id := range s.NGOIDs {
			args = append(args, id)
		}
	}
	return clauses, args
}

func activeStatusClause() (string, []any) {
	statuses := domain.ActiveStatuses()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return "status IN (" + placeholders + ")", args
}

func (r Repo) countWorkItems(ctx context.Context, clauses []string, args []any) (int, error) {
	query := `SELECT count(*) FROM work_items WHERE ` + strings.Join(clauses, " AND ")
	var n int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountActiveDueBetween counts active items with a due date in [from, to].
func (r Repo) CountActiveDueBetween(ctx context.Context, s Scope, from, to string) (int, error) {
	clauses, args := s.clauses()
	statusClause, statusArgs := activeStatusClause()
	clauses = append(clauses, statusClause, "due_date IS NOT NULL", "due_date >= ?", "due_date <= ?")
	args = append(args, statusArgs...)
	args = append(args, from, to)
	return r.countWorkItems(ctx, clauses, args)
}

// CountActiveOverdue counts active items whose due date has passed.
func (r Repo) CountActiveOverdue(ctx context.Context, s Scope, now string) (int, error) {
	clauses, args := s.clauses()
	statusClause, statusArgs := activeStatusClause()
	clauses = append(clauses, statusClause, "due_date IS NOT NULL", "due_date < ?")
	args = append(args, statusArgs...)
	args = append(args, now)
	return r.countWorkItems(ctx, clauses, args)
}

// CountEvidencePending counts active items still gated on unapproved evidence.
func (r Repo) CountEvidencePending(ctx context.Context, s Scope) (int, error) {
	clauses, args := s.clauses()
	statusClause, statusArgs := activeStatusClause()
	clauses = append(clauses, statusClause, "evidence_required=1", "evidence_status != ?")
	args = append(args, statusArgs...)
	args = append(args, domain.EvidenceApproved)
	return r.countWorkItems(ctx, clauses, args)
}

// ListEvidencePending returns evidence-gated active items, due date
// ascending with nulls last, capped at limit.
func (r Repo) ListEvidencePending(ctx context.Context, s Scope, limit int) ([]domain.WorkItem, error) {
	clauses, args := s.clauses()
	statusClause, statusArgs := activeStatusClause()
	clauses = append(clauses, statusClause, "evidence_required=1", "evidence_status != ?")
	args = append(args, statusArgs...)
	args = append(args, domain.EvidenceApproved)
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY due_date IS NULL, due_date ASC, id ASC LIMIT ?`
	args = append(args, limit)
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

// CountWorkItemsByStatus groups scoped items by status.
func (r Repo) CountWorkItemsByStatus(ctx context.Context, s Scope) (map[string]int, error) {
	clauses, args := s.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM work_items `+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// DepartmentCount is one workload histogram bucket.
type DepartmentCount struct {
	DepartmentID string `json:"department_id,omitempty"`
	Department   string `json:"department"`
	Count        int    `json:"count"`
}

// WorkloadByDepartment groups active items by resolved department name,
// descending; items without a department fall into "Unassigned".
func (r Repo) WorkloadByDepartment(ctx context.Context, s Scope) ([]DepartmentCount, error) {
	clauses, args := s.clauses()
	statusClause, statusArgs := activeStatusClause()
	clauses = append(clauses, statusClause)
	args = append(args, statusArgs...)
	query := `SELECT COALESCE(w.department_id,''), COALESCE(o.name,'Unassigned'), count(*)
FROM work_items w LEFT JOIN org_units o ON o.id = w.department_id
WHERE ` + strings.Join(clauses, " AND ") + `
GROUP BY w.department_id ORDER BY count(*) DESC, COALESCE(o.name,'Unassigned') ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DepartmentCount
	for rows.Next() {
		var dc DepartmentCount
		if err := rows.Scan(&dc.DepartmentID, &dc.Department, &dc.Count); err != nil {
			return nil, err
		}
		res = append(res, dc)
	}
	return res, rows.Err()
}

// CountNGOs counts partners matching the filters.
func (r Repo) CountNGOs(ctx context.Context, f NGOFilters) (int, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Bundle != "" {
		clauses = append(clauses, "bundle=?")
		args = append(args, f.Bundle)
	}
	if f.Country != "" {
		clauses = append(clauses, "country=?")
		args = append(args, f.Country)
	}
	if f.Region != "" {
		clauses = append(clauses, "region=?")
		args = append(args, f.Region)
	}
	query := `SELECT count(*) FROM ngos`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	var n int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
