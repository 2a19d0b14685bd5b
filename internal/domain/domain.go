package domain

// WorkItem is the unit of trackable effort moving through the status lifecycle.
type WorkItem struct {
	ID                 string   `json:"id"`
	Module             string   `json:"module"`
	Type               string   `json:"type"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	NGOID              *string  `json:"ngo_id,omitempty"`
	DepartmentID       *string  `json:"department_id,omitempty"`
	OwnerUserID        *string  `json:"owner_user_id,omitempty"`
	CreatedByUserID    string   `json:"created_by_user_id"`
	Status             string   `json:"status" enum:"draft,not_started,in_progress,waiting_on_ngo,waiting_on_hpg,submitted,under_review,approved,rejected,complete,canceled"`
	Priority           string   `json:"priority" enum:"low,medium,high"`
	DueDate            *string  `json:"due_date,omitempty" format:"date-time"`
	StartDate          *string  `json:"start_date,omitempty" format:"date-time"`
	CompletedAt        *string  `json:"completed_at,omitempty" format:"date-time"`
	EvidenceRequired   bool     `json:"evidence_required"`
	EvidenceStatus     string   `json:"evidence_status" enum:"missing,uploaded,under_review,approved,rejected"`
	ApprovalRequired   bool     `json:"approval_required"`
	ApproverUserID     *string  `json:"approver_user_id,omitempty"`
	ApprovalDecision   *string  `json:"approval_decision,omitempty" enum:"approved,rejected"`
	ApprovalDecidedBy  *string  `json:"approval_decided_by,omitempty"`
	ApprovalDecidedAt  *string  `json:"approval_decided_at,omitempty" format:"date-time"`
	ApprovalPolicyJSON *string  `json:"approval_policy_json,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
	ExternalVisible    bool     `json:"external_visible"`
	TrelloSync         bool     `json:"trello_sync"`
	TrelloCardID       *string  `json:"trello_card_id,omitempty"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

// Document is an evidence artifact. Review fields are mutated only through
// the engine's review path; documents are never deleted by the engine.
type Document struct {
	ID             string  `json:"id"`
	WorkItemID     *string `json:"work_item_id,omitempty"`
	NGOID          *string `json:"ngo_id,omitempty"`
	FileName       string  `json:"file_name"`
	FilePath       string  `json:"file_path"`
	FileSize       int64   `json:"file_size"`
	FileType       string  `json:"file_type,omitempty"`
	Category       string  `json:"category,omitempty"`
	ReviewStatus   string  `json:"review_status" enum:"pending,approved,rejected"`
	ReviewerUserID *string `json:"reviewer_user_id,omitempty"`
	ReviewedAt     *string `json:"reviewed_at,omitempty" format:"date-time"`
	ReviewNotes    *string `json:"review_notes,omitempty"`
	UploadedBy     string  `json:"uploaded_by"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// Reminder is a time-anchored notice tied to a work item.
type Reminder struct {
	ID         string  `json:"id"`
	WorkItemID string  `json:"work_item_id"`
	UserID     string  `json:"user_id"`
	RemindAt   string  `json:"remind_at" format:"date-time"`
	SeenAt     *string `json:"seen_at,omitempty" format:"date-time"`
	Status     string  `json:"status"`
	Channel    string  `json:"channel"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// OrgUnit is a department or sub-department used as a grouping dimension.
type OrgUnit struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	ParentID   *string `json:"parent_id,omitempty"`
	LeadUserID *string `json:"lead_user_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// NGO is a partner entity coordinated by the organization.
type NGO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"active,at-risk,suspended,exited"`
	Bundle    string `json:"bundle,omitempty"`
	Country   string `json:"country,omitempty"`
	Region    string `json:"region,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
