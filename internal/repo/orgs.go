package repo

import (
	"context"
	"database/sql"
	"strings"

	"opsline/internal/domain"
)

func (r Repo) InsertOrgUnit(ctx context.Context, o domain.OrgUnit) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO org_units(id,name,parent_id,lead_user_id,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.Name, nullableStringPtr(o.ParentID), nullableStringPtr(o.LeadUserID), o.CreatedAt)
	return err
}

func (r Repo) GetOrgUnit(ctx context.Context, id string) (domain.OrgUnit, error) {
	var o domain.OrgUnit
	var parentID, leadUserID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,parent_id,lead_user_id,created_at FROM org_units WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &parentID, &leadUserID, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.ParentID = fromNull(parentID)
	o.LeadUserID = fromNull(leadUserID)
	return o, nil
}

func (r Repo) ListOrgUnits(ctx context.Context) ([]domain.OrgUnit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,parent_id,lead_user_id,created_at FROM org_units ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrgUnit
	for rows.Next() {
		var o domain.OrgUnit
		var parentID, leadUserID sql.NullString
		if err := rows.Scan(&o.ID, &o.Name, &parentID, &leadUserID, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.ParentID = fromNull(parentID)
		o.LeadUserID = fromNull(leadUserID)
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) InsertNGO(ctx context.Context, n domain.NGO) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO ngos(id,name,status,bundle,country,region,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.Name, n.Status, nullable(n.Bundle), nullable(n.Country), nullable(n.Region), n.CreatedAt)
	return err
}

func (r Repo) GetNGO(ctx context.Context, id string) (domain.NGO, error) {
	var n domain.NGO
	var bundle, country, region sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,bundle,country,region,created_at FROM ngos WHERE id=?`, id).
		Scan(&n.ID, &n.Name, &n.Status, &bundle, &country, &region, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if bundle.Valid {
		n.Bundle = bundle.String
	}
	if country.Valid {
		n.Country = country.String
	}
	if region.Valid {
		n.Region = region.String
	}
	return n, nil
}

func (r Repo) UpdateNGOStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE ngos SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type NGOFilters struct {
	Status  string
	Bundle  string
	Country string
	Region  string
	Limit   int
}

func (r Repo) ListNGOs(ctx context.Context, f NGOFilters) ([]domain.NGO, error) {
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
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,name,status,bundle,country,region,created_at FROM ngos ` + where + ` ORDER BY name ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.NGO
	for rows.Next() {
		var n domain.NGO
		var bundle, country, region sql.NullString
		if err := rows.Scan(&n.ID, &n.Name, &n.Status, &bundle, &country, &region, &n.CreatedAt); err != nil {
			return nil, err
		}
		if bundle.Valid {
			n.Bundle = bundle.String
		}
		if country.Valid {
			n.Country = country.String
		}
		if region.Valid {
			n.Region = region.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// NGOIDsForScope resolves bundle/country/region filters to a partner id set.
func (r Repo) NGOIDsForScope(ctx context.Context, bundle, country, region string) ([]string, error) {
	var clauses []string
	var args []any
	if bundle != "" {
		clauses = append(clauses, "bundle=?")
		args = append(args, bundle)
	}
	if country != "" {
		clauses = append(clauses, "country=?")
		args = append(args, country)
	}
	if region != "" {
		clauses = append(clauses, "region=?")
		args = append(args, region)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM ngos `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
