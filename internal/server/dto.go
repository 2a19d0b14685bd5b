package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"opsline/internal/domain"
)

// Request payloads

type CreateWorkItemRequest struct {
	ID               *string        `json:"id,omitempty"`
	Module           string         `json:"module"`
	Type             string         `json:"type,omitempty"`
	Title            string         `json:"title"`
	Description      *string        `json:"description,omitempty"`
	NGOID            *string        `json:"ngo_id,omitempty"`
	DepartmentID     *string        `json:"department_id,omitempty"`
	OwnerUserID      *string        `json:"owner_user_id,omitempty"`
	Priority         *string        `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate          *string        `json:"due_date,omitempty" format:"date-time"`
	StartDate        *string        `json:"start_date,omitempty" format:"date-time"`
	Dependencies     []string       `json:"dependencies,omitempty"`
	EvidenceRequired *bool          `json:"evidence_required,omitempty"`
	ApprovalRequired *bool          `json:"approval_required,omitempty"`
	ApproverUserID   *string        `json:"approver_user_id,omitempty"`
	ApprovalPolicy   map[string]any `json:"approval_policy,omitempty"`
	ExternalVisible  bool           `json:"external_visible,omitempty"`
	TrelloSync       bool           `json:"trello_sync,omitempty"`
	TrelloCardID     *string        `json:"trello_card_id,omitempty"`
}

type UpdateWorkItemRequest struct {
	Title           *string  `json:"title,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Priority        *string  `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate         *string  `json:"due_date,omitempty"`
	StartDate       *string  `json:"start_date,omitempty"`
	OwnerUserID     *string  `json:"owner_user_id,omitempty"`
	DepartmentID    *string  `json:"department_id,omitempty"`
	ApproverUserID  *string  `json:"approver_user_id,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	ExternalVisible *bool    `json:"external_visible,omitempty"`
	TrelloCardID    *string  `json:"trello_card_id,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status" enum:"draft,not_started,in_progress,waiting_on_ngo,waiting_on_hpg,submitted,under_review,approved,rejected,complete,canceled"`
}

type ApprovalDecisionRequest struct {
	Decision string `json:"decision" enum:"approved,rejected"`
}

type BulkRequest struct {
	IDs         []string `json:"ids"`
	Op          string   `json:"op" enum:"set_status,reassign_owner,bump_due_dates"`
	Status      *string  `json:"status,omitempty"`
	OwnerUserID *string  `json:"owner_user_id,omitempty"`
	DeltaDays   *int     `json:"delta_days,omitempty"`
}

type AttachDocumentRequest struct {
	ID       *string `json:"id,omitempty"`
	NGOID    *string `json:"ngo_id,omitempty"`
	FileName string  `json:"file_name"`
	FilePath string  `json:"file_path"`
	FileSize int64   `json:"file_size,omitempty"`
	FileType string  `json:"file_type,omitempty"`
	Category string  `json:"category,omitempty"`
}

type ReviewDocumentRequest struct {
	Decision string  `json:"decision" enum:"approved,rejected"`
	Notes    *string `json:"notes,omitempty"`
}

type ScheduleReminderRequest struct {
	UserID   string `json:"user_id"`
	RemindAt string `json:"remind_at,omitempty" format:"date-time"`
	In       string `json:"in,omitempty" doc:"Offset from now, e.g. 1h or 2d; alternative to remind_at"`
	Channel  string `json:"channel,omitempty"`
}

// parseRemindOffset accepts Go durations plus a day suffix (2d -> 48h) and an
// optional leading plus sign.
func parseRemindOffset(in string) (time.Duration, error) {
	in = strings.TrimPrefix(in, "+")
	if strings.HasSuffix(in, "d") {
		d, err := time.ParseDuration(strings.TrimSuffix(in, "d") + "h")
		if err != nil {
			return 0, fmt.Errorf("invalid offset %q", in)
		}
		return d * 24, nil
	}
	d, err := time.ParseDuration(in)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", in)
	}
	return d, nil
}

type CreateOrgUnitRequest struct {
	Name       string  `json:"name"`
	ParentID   *string `json:"parent_id,omitempty"`
	LeadUserID *string `json:"lead_user_id,omitempty"`
}

type CreateNGORequest struct {
	ID      *string `json:"id,omitempty"`
	Name    string  `json:"name"`
	Status  string  `json:"status,omitempty" enum:"active,at-risk,suspended,exited"`
	Bundle  string  `json:"bundle,omitempty"`
	Country string  `json:"country,omitempty"`
	Region  string  `json:"region,omitempty"`
}

type SetNGOStatusRequest struct {
	Status string `json:"status" enum:"active,at-risk,suspended,exited"`
}

type ImportConfigRequest struct {
	YAML string `json:"yaml"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads. Domain structs carry wire tags already; events decode
// their payload JSON for the caller.

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type CreateAPIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key"`
}

type paginatedWorkItems struct {
	Items      []domain.WorkItem `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilItems(in []domain.WorkItem) []domain.WorkItem {
	if in == nil {
		return []domain.WorkItem{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
