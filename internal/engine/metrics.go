package engine

import (
	"context"
	"fmt"
	"time"

	"opsline/internal/domain"
	"opsline/internal/repo"
)

// MetricsScope selects the slice of the workspace a report covers. Bundle,
// Country and Region narrow by partner geography; NGOIDs pins an explicit
// partner set and wins over the geography fields.
type MetricsScope struct {
	Module       string
	DepartmentID string
	Bundle       string
	Country      string
	Region       string
	NGOIDs       []string
}

// DueWindow is one bucket of the due-date outlook. Windows are cumulative:
// a 30-day window includes everything the 7-day window counted.
type DueWindow struct {
	Days  int `json:"days"`
	Count int `json:"count"`
}

// Snapshot is the headline operational report for a scope.
type Snapshot struct {
	GeneratedAt     string         `json:"generated_at"`
	DueWindows      []DueWindow    `json:"due_windows"`
	Overdue         int            `json:"overdue"`
	EvidencePending int            `json:"evidence_pending"`
	AtRiskNGOs      int            `json:"at_risk_ngos"`
	ByStatus        map[string]int `json:"by_status"`
}

func (e Engine) resolveScope(ctx context.Context, s MetricsScope) (repo.Scope, error) {
	scope := repo.Scope{Module: s.Module, DepartmentID: s.DepartmentID}
	if len(s.NGOIDs) > 0 {
		scope.NGOIDs = s.NGOIDs
		scope.FilterNGOs = true
		return scope, nil
	}
	if s.Bundle == "" && s.Country == "" && s.Region == "" {
		return scope, nil
	}
	ids, err := e.Repo.NGOIDsForScope(ctx, s.Bundle, s.Country, s.Region)
	if err != nil {
		return scope, fmt.Errorf("resolve partner scope: %w", err)
	}
	scope.NGOIDs = ids
	scope.FilterNGOs = true
	return scope, nil
}

// Snapshot computes the due-date outlook, overdue and evidence backlog, and
// the per-status breakdown for a scope. Due windows come from the workspace
// config and are reported against the engine clock.
func (e Engine) Snapshot(ctx context.Context, ms MetricsScope) (Snapshot, error) {
	scope, err := e.resolveScope(ctx, ms)
	if err != nil {
		return Snapshot{}, err
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)

	snap := Snapshot{GeneratedAt: nowStr}
	for _, days := range e.Config.Reporting.DueWindowsDays {
		to := now.AddDate(0, 0, days).Format(time.RFC3339)
		n, err := e.Repo.CountActiveDueBetween(ctx, scope, nowStr, to)
		if err != nil {
			return Snapshot{}, err
		}
		snap.DueWindows = append(snap.DueWindows, DueWindow{Days: days, Count: n})
	}
	if snap.Overdue, err = e.Repo.CountActiveOverdue(ctx, scope, nowStr); err != nil {
		return Snapshot{}, err
	}
	if snap.EvidencePending, err = e.Repo.CountEvidencePending(ctx, scope); err != nil {
		return Snapshot{}, err
	}
	if snap.ByStatus, err = e.Repo.CountWorkItemsByStatus(ctx, scope); err != nil {
		return Snapshot{}, err
	}
	atRisk := repo.NGOFilters{Status: domain.NGOAtRisk, Bundle: ms.Bundle, Country: ms.Country, Region: ms.Region}
	if snap.AtRiskNGOs, err = e.Repo.CountNGOs(ctx, atRisk); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// EvidencePending lists active items still gated on unapproved evidence,
// soonest due first. The limit is clamped to the reporting page cap.
func (e Engine) EvidencePending(ctx context.Context, ms MetricsScope, limit int) ([]domain.WorkItem, error) {
	scope, err := e.resolveScope(ctx, ms)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > e.Config.Reporting.PageCap {
		limit = e.Config.Reporting.PageCap
	}
	return e.Repo.ListEvidencePending(ctx, scope, limit)
}

// Workload returns the active-item histogram by department for a scope.
func (e Engine) Workload(ctx context.Context, ms MetricsScope) ([]repo.DepartmentCount, error) {
	scope, err := e.resolveScope(ctx, ms)
	if err != nil {
		return nil, err
	}
	return e.Repo.WorkloadByDepartment(ctx, scope)
}

// AtRiskNGOs lists at-risk partners within a geographic scope.
func (e Engine) AtRiskNGOs(ctx context.Context, ms MetricsScope, limit int) ([]domain.NGO, error) {
	if limit <= 0 || limit > e.Config.Reporting.PageCap {
		limit = e.Config.Reporting.PageCap
	}
	f := repo.NGOFilters{Status: domain.NGOAtRisk, Bundle: ms.Bundle, Country: ms.Country, Region: ms.Region, Limit: limit}
	return e.Repo.ListNGOs(ctx, f)
}
