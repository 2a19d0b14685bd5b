package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"opsline/internal/domain"
	"opsline/internal/events"
)

// DocumentAttachOptions are parameters for recording an uploaded evidence
// artifact. The file itself lives in collaborator storage; FilePath is an
// opaque locator.
type DocumentAttachOptions struct {
	ID         string
	WorkItemID string
	NGOID      string
	FileName   string
	FilePath   string
	FileSize   int64
	FileType   string
	Category   string
	ActorID    string
}

func (e Engine) AttachDocument(ctx context.Context, opts DocumentAttachOptions) (domain.Document, error) {
	if opts.FileName == "" {
		return domain.Document{}, ValidationError{Field: "file_name", Reason: "is required"}
	}
	if opts.FilePath == "" {
		return domain.Document{}, ValidationError{Field: "file_path", Reason: "is required"}
	}
	if opts.WorkItemID != "" {
		if _, err := e.Repo.GetWorkItem(ctx, opts.WorkItemID); err != nil {
			return domain.Document{}, err
		}
	}
	if opts.NGOID != "" {
		if _, err := e.Repo.GetNGO(ctx, opts.NGOID); err != nil {
			return domain.Document{}, err
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	d := domain.Document{
		ID:           id,
		WorkItemID:   optionalString(opts.WorkItemID),
		NGOID:        optionalString(opts.NGOID),
		FileName:     opts.FileName,
		FilePath:     opts.FilePath,
		FileSize:     opts.FileSize,
		FileType:     opts.FileType,
		Category:     opts.Category,
		ReviewStatus: domain.ReviewPending,
		UploadedBy:   opts.ActorID,
		CreatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if d.WorkItemID != nil {
		if err := e.recomputeEvidenceStatus(ctx, tx, *d.WorkItemID, opts.ActorID); err != nil {
			return domain.Document{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "document.attached", "document", d.ID, opts.ActorID, events.EventPayload{
		"file_name": d.FileName, "work_item_id": opts.WorkItemID,
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// RecordReview applies a reviewer decision to a linked document and derives
// the parent work item's evidence status. Standalone documents cannot be
// reviewed through this path.
func (e Engine) RecordReview(ctx context.Context, documentID, decision, reviewerID string, notes string) (domain.Document, error) {
	if !domain.ValidReviewDecision(decision) {
		return domain.Document{}, ValidationError{Field: "decision", Reason: "must be approved or rejected"}
	}
	d, err := e.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return d, err
	}
	if d.WorkItemID == nil {
		return d, ValidationError{Field: "work_item_id", Reason: "document is not linked to a work item"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	d.ReviewStatus = decision
	d.ReviewerUserID = &reviewerID
	d.ReviewedAt = &now
	d.ReviewNotes = optionalString(notes)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDocumentReview(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.recomputeEvidenceStatus(ctx, tx, *d.WorkItemID, reviewerID); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "document.reviewed", "document", d.ID, reviewerID, events.EventPayload{
		"decision": decision, "work_item_id": *d.WorkItemID,
	}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// recomputeEvidenceStatus re-derives a work item's evidence status from its
// documents inside the caller's transaction. An approved result only
// unblocks completion; the caller still has to invoke Transition.
func (e Engine) recomputeEvidenceStatus(ctx context.Context, tx *sql.Tx, workItemID, actorID string) error {
	w, err := e.Repo.GetWorkItemTx(ctx, tx, workItemID)
	if err != nil {
		return err
	}
	// Terminal items keep the evidence status they closed with; late uploads
	// are archival and must not undo "complete implies approved evidence".
	if domain.TerminalStatus(w.Status) {
		return nil
	}
	docs, err := e.Repo.ListWorkItemDocumentsTx(ctx, tx, workItemID)
	if err != nil {
		return err
	}
	derived := deriveEvidenceStatus(docs)
	if derived == w.EvidenceStatus {
		return nil
	}
	prev := w.EvidenceStatus
	w.EvidenceStatus = derived
	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "workitem.evidence", "work_item", w.ID, actorID, events.EventPayload{
		"from": prev, "to": derived,
	})
}

// deriveEvidenceStatus is the single aggregation rule across a work item's
// documents: no documents means missing; pending documents hold the status at
// uploaded (no review started) or under_review (review underway); once
// nothing is pending, the most recent decision wins.
func deriveEvidenceStatus(docs []domain.Document) string {
	if len(docs) == 0 {
		return domain.EvidenceMissing
	}
	pending := false
	latestDecision := ""
	latestReviewedAt := ""
	for _, d := range docs {
		switch d.ReviewStatus {
		case domain.ReviewPending:
			pending = true
		case domain.ReviewApproved, domain.ReviewRejected:
			reviewedAt := ""
			if d.ReviewedAt != nil {
				reviewedAt = *d.ReviewedAt
			}
			if latestDecision == "" || reviewedAt >= latestReviewedAt {
				latestDecision = d.ReviewStatus
				latestReviewedAt = reviewedAt
			}
		}
	}
	switch {
	case pending && latestDecision == "":
		return domain.EvidenceUploaded
	case pending:
		return domain.EvidenceUnderReview
	case latestDecision == domain.ReviewApproved:
		return domain.EvidenceApproved
	default:
		return domain.EvidenceRejected
	}
}
