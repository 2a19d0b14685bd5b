package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"opsline/internal/domain"
)

// CreateOrgUnit registers a department. Parent, when given, must exist.
func (e Engine) CreateOrgUnit(ctx context.Context, name, parentID, leadUserID, actorID string) (domain.OrgUnit, error) {
	if name == "" {
		return domain.OrgUnit{}, ValidationError{Field: "name", Reason: "is required"}
	}
	if parentID != "" {
		if _, err := e.Repo.GetOrgUnit(ctx, parentID); err != nil {
			return domain.OrgUnit{}, err
		}
	}
	o := domain.OrgUnit{
		ID:         uuid.New().String(),
		Name:       name,
		ParentID:   optionalString(parentID),
		LeadUserID: optionalString(leadUserID),
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertOrgUnit(ctx, o); err != nil {
		return domain.OrgUnit{}, err
	}
	if err := e.appendEvent(ctx, "org.created", "org_unit", o.ID, actorID, map[string]any{"name": name}); err != nil {
		return domain.OrgUnit{}, err
	}
	return o, nil
}

// RegisterNGO adds a partner. Status defaults to active.
func (e Engine) RegisterNGO(ctx context.Context, n domain.NGO, actorID string) (domain.NGO, error) {
	if n.Name == "" {
		return domain.NGO{}, ValidationError{Field: "name", Reason: "is required"}
	}
	if n.Status == "" {
		n.Status = domain.NGOActive
	}
	if !domain.ValidNGOStatus(n.Status) {
		return domain.NGO{}, ValidationError{Field: "status", Reason: "unknown partner status " + n.Status}
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.InsertNGO(ctx, n); err != nil {
		return domain.NGO{}, err
	}
	if err := e.appendEvent(ctx, "ngo.registered", "ngo", n.ID, actorID, map[string]any{"name": n.Name, "status": n.Status}); err != nil {
		return domain.NGO{}, err
	}
	return n, nil
}

// SetNGOStatus moves a partner between active, at-risk, suspended and exited.
func (e Engine) SetNGOStatus(ctx context.Context, id, status, actorID string) (domain.NGO, error) {
	if !domain.ValidNGOStatus(status) {
		return domain.NGO{}, ValidationError{Field: "status", Reason: "unknown partner status " + status}
	}
	prev, err := e.Repo.GetNGO(ctx, id)
	if err != nil {
		return domain.NGO{}, err
	}
	if err := e.Repo.UpdateNGOStatus(ctx, id, status); err != nil {
		return domain.NGO{}, err
	}
	if err := e.appendEvent(ctx, "ngo.status", "ngo", id, actorID, map[string]any{"from": prev.Status, "to": status}); err != nil {
		return domain.NGO{}, err
	}
	prev.Status = status
	return prev, nil
}
