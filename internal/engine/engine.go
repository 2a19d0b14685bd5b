package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"opsline/internal/config"
	"opsline/internal/domain"
	"opsline/internal/events"
	"opsline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// WorkItemCreateOptions are parameters for creating a work item.
type WorkItemCreateOptions struct {
	ID               string
	Module           string
	Type             string
	Title            string
	Description      string
	NGOID            string
	DepartmentID     string
	OwnerUserID      string
	Priority         string
	DueDate          string
	StartDate        string
	Dependencies     []string
	EvidenceRequired *bool
	ApprovalRequired *bool
	ApproverUserID   string
	ApprovalPolicy   map[string]any
	ExternalVisible  bool
	TrelloSync       bool
	TrelloCardID     string
	ActorID          string
}

func (e Engine) CreateWorkItem(ctx context.Context, opts WorkItemCreateOptions) (domain.WorkItem, error) {
	if e.Config == nil {
		return domain.WorkItem{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.WorkItem{}, ValidationError{Field: "title", Reason: "is required"}
	}
	if opts.Module == "" {
		return domain.WorkItem{}, ValidationError{Field: "module", Reason: "is required"}
	}
	if opts.Type == "" {
		opts.Type = "task"
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.WorkItem{}, ValidationError{Field: "priority", Reason: "unknown value " + opts.Priority}
	}
	if opts.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, opts.DueDate); err != nil {
			return domain.WorkItem{}, ValidationError{Field: "due_date", Reason: "must be RFC3339"}
		}
	}
	if opts.StartDate != "" {
		if _, err := time.Parse(time.RFC3339, opts.StartDate); err != nil {
			return domain.WorkItem{}, ValidationError{Field: "start_date", Reason: "must be RFC3339"}
		}
	}
	// Referenced entities must resolve before the row is written; invalid
	// references fail at this boundary, not as Unknown labels downstream.
	if opts.NGOID != "" {
		if _, err := e.Repo.GetNGO(ctx, opts.NGOID); err != nil {
			return domain.WorkItem{}, err
		}
	}
	if opts.DepartmentID != "" {
		if _, err := e.Repo.GetOrgUnit(ctx, opts.DepartmentID); err != nil {
			return domain.WorkItem{}, err
		}
	}
	for _, dep := range opts.Dependencies {
		if _, err := e.Repo.GetWorkItem(ctx, dep); err != nil {
			return domain.WorkItem{}, err
		}
	}

	defaults := e.Config.Items.Defaults[opts.Type]
	evidenceRequired := defaults.EvidenceRequired
	if opts.EvidenceRequired != nil {
		evidenceRequired = *opts.EvidenceRequired
	}
	approvalRequired := defaults.ApprovalRequired
	if opts.ApprovalRequired != nil {
		approvalRequired = *opts.ApprovalRequired
	}

	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	var policyJSON *string
	if opts.ApprovalPolicy != nil {
		b, err := json.Marshal(opts.ApprovalPolicy)
		if err != nil {
			return domain.WorkItem{}, err
		}
		s := string(b)
		policyJSON = &s
	}
	w := domain.WorkItem{
		ID:                 id,
		Module:             opts.Module,
		Type:               opts.Type,
		Title:              opts.Title,
		Description:        opts.Description,
		NGOID:              optionalString(opts.NGOID),
		DepartmentID:       optionalString(opts.DepartmentID),
		OwnerUserID:        optionalString(opts.OwnerUserID),
		CreatedByUserID:    opts.ActorID,
		Status:             domain.StatusDraft,
		Priority:           opts.Priority,
		DueDate:            optionalString(opts.DueDate),
		StartDate:          optionalString(opts.StartDate),
		EvidenceRequired:   evidenceRequired,
		EvidenceStatus:     domain.EvidenceMissing,
		ApprovalRequired:   approvalRequired,
		ApproverUserID:     optionalString(opts.ApproverUserID),
		ApprovalPolicyJSON: policyJSON,
		ExternalVisible:    opts.ExternalVisible,
		TrelloSync:         opts.TrelloSync,
		TrelloCardID:       optionalString(opts.TrelloCardID),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if len(opts.Dependencies) > 0 {
		if err := e.Repo.SetDependencies(ctx, tx, w.ID, opts.Dependencies); err != nil {
			return domain.WorkItem{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "workitem.created", "work_item", w.ID, opts.ActorID, events.EventPayload{
		"title": w.Title, "module": w.Module, "status": w.Status,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	w.Dependencies = opts.Dependencies
	return w, nil
}

// WorkItemUpdateOptions encapsulates allowed field updates; status changes go
// through Transition.
type WorkItemUpdateOptions struct {
	ID              string
	Title           *string
	Description     *string
	Priority        *string
	DueDate         *string
	StartDate       *string
	OwnerUserID     *string
	DepartmentID    *string
	ApproverUserID  *string
	Dependencies    []string
	SetDependencies bool
	ExternalVisible *bool
	TrelloCardID    *string
	ActorID         string
}

func (e Engine) UpdateWorkItem(ctx context.Context, opts WorkItemUpdateOptions) (domain.WorkItem, error) {
	w, err := e.Repo.GetWorkItem(ctx, opts.ID)
	if err != nil {
		return w, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return w, ValidationError{Field: "title", Reason: "cannot be empty"}
		}
		w.Title = *opts.Title
	}
	if opts.Description != nil {
		w.Description = *opts.Description
	}
	if opts.Priority != nil {
		if !domain.ValidPriority(*opts.Priority) {
			return w, ValidationError{Field: "priority", Reason: "unknown value " + *opts.Priority}
		}
		w.Priority = *opts.Priority
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			w.DueDate = nil
		} else {
			if _, err := time.Parse(time.RFC3339, *opts.DueDate); err != nil {
				return w, ValidationError{Field: "due_date", Reason: "must be RFC3339"}
			}
			w.DueDate = opts.DueDate
		}
	}
	if opts.StartDate != nil {
		if *opts.StartDate == "" {
			w.StartDate = nil
		} else {
			if _, err := time.Parse(time.RFC3339, *opts.StartDate); err != nil {
				return w, ValidationError{Field: "start_date", Reason: "must be RFC3339"}
			}
			w.StartDate = opts.StartDate
		}
	}
	if opts.OwnerUserID != nil {
		if *opts.OwnerUserID == "" {
			w.OwnerUserID = nil
		} else {
			w.OwnerUserID = opts.OwnerUserID
		}
	}
	if opts.DepartmentID != nil {
		if *opts.DepartmentID == "" {
			w.DepartmentID = nil
		} else {
			if _, err := e.Repo.GetOrgUnit(ctx, *opts.DepartmentID); err != nil {
				return w, err
			}
			w.DepartmentID = opts.DepartmentID
		}
	}
	if opts.ApproverUserID != nil {
		if *opts.ApproverUserID == "" {
			w.ApproverUserID = nil
		} else {
			w.ApproverUserID = opts.ApproverUserID
		}
	}
	if opts.ExternalVisible != nil {
		w.ExternalVisible = *opts.ExternalVisible
	}
	if opts.TrelloCardID != nil {
		if *opts.TrelloCardID == "" {
			w.TrelloCardID = nil
			w.TrelloSync = false
		} else {
			w.TrelloCardID = opts.TrelloCardID
			w.TrelloSync = true
		}
	}
	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if opts.SetDependencies {
		for _, dep := range opts.Dependencies {
			if _, err := e.Repo.GetWorkItem(ctx, dep); err != nil {
				return w, err
			}
		}
		if err := e.Repo.SetDependencies(ctx, tx, w.ID, opts.Dependencies); err != nil {
			return w, err
		}
		w.Dependencies = opts.Dependencies
	}
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.Events.Append(ctx, tx, "workitem.updated", "work_item", w.ID, opts.ActorID, events.EventPayload{
		"status": w.Status,
	}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// Transition applies a status change after checking the lifecycle table and
// the evidence/approval gates. Completion stamps completed_at.
func (e Engine) Transition(ctx context.Context, id, target, actorID string) (domain.WorkItem, error) {
	if !domain.ValidStatus(target) {
		return domain.WorkItem{}, ValidationError{Field: "status", Reason: "unknown value " + target}
	}
	w, err := e.Repo.GetWorkItem(ctx, id)
	if err != nil {
		return w, err
	}
	if !domain.CanTransition(w.Status, target) {
		return w, InvalidTransitionError{From: w.Status, To: target}
	}
	if target == domain.StatusComplete && w.EvidenceRequired && w.EvidenceStatus != domain.EvidenceApproved {
		return w, PreconditionFailedError{Gate: "evidence", Reason: "evidence status is " + w.EvidenceStatus}
	}
	if (target == domain.StatusApproved || target == domain.StatusComplete) && w.ApprovalRequired && w.ApprovalDecision == nil {
		return w, PreconditionFailedError{Gate: "approval", Reason: "no approval decision recorded"}
	}

	from := w.Status
	now := e.now().UTC().Format(time.RFC3339)
	w.Status = target
	w.UpdatedAt = now
	if target == domain.StatusComplete {
		w.CompletedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.Events.Append(ctx, tx, "workitem.status", "work_item", w.ID, actorID, events.EventPayload{
		"from": from, "to": target,
	}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// RecordApprovalDecision stores the decision consulted by the approval gate.
func (e Engine) RecordApprovalDecision(ctx context.Context, id, decision, actorID string) (domain.WorkItem, error) {
	if decision != domain.ReviewApproved && decision != domain.ReviewRejected {
		return domain.WorkItem{}, ValidationError{Field: "decision", Reason: "must be approved or rejected"}
	}
	w, err := e.Repo.GetWorkItem(ctx, id)
	if err != nil {
		return w, err
	}
	if domain.TerminalStatus(w.Status) {
		return w, InvalidTransitionError{From: w.Status, To: w.Status}
	}
	now := e.now().UTC().Format(time.RFC3339)
	w.ApprovalDecision = &decision
	w.ApprovalDecidedBy = &actorID
	w.ApprovalDecidedAt = &now
	w.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return w, err
	}
	if err := e.Events.Append(ctx, tx, "workitem.approval", "work_item", w.ID, actorID, events.EventPayload{
		"decision": decision,
	}); err != nil {
		return w, err
	}
	if err := tx.Commit(); err != nil {
		return w, err
	}
	return w, nil
}

// DeleteWorkItem removes an item with cascading intent: documents, reminders
// and dependency links go with it.
func (e Engine) DeleteWorkItem(ctx context.Context, id, actorID string) error {
	if _, err := e.Repo.GetWorkItem(ctx, id); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteWorkItem(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "workitem.deleted", "work_item", id, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
