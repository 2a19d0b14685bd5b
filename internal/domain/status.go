package domain

// Work item statuses. The transition table below is the single source of
// truth for lifecycle legality; nothing else encodes edges.
const (
	StatusDraft        = "draft"
	StatusNotStarted   = "not_started"
	StatusInProgress   = "in_progress"
	StatusWaitingNGO   = "waiting_on_ngo"
	StatusWaitingHPG   = "waiting_on_hpg"
	StatusSubmitted    = "submitted"
	StatusUnderReview  = "under_review"
	StatusApproved     = "approved"
	StatusRejected     = "rejected"
	StatusComplete     = "complete"
	StatusCanceled     = "canceled"
)

// Evidence statuses derived from linked documents.
const (
	EvidenceMissing     = "missing"
	EvidenceUploaded    = "uploaded"
	EvidenceUnderReview = "under_review"
	EvidenceApproved    = "approved"
	EvidenceRejected    = "rejected"
)

// Document review statuses.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Partner statuses.
const (
	NGOActive    = "active"
	NGOAtRisk    = "at-risk"
	NGOSuspended = "suspended"
	NGOExited    = "exited"
)

var statusTransitions = map[string][]string{
	StatusDraft:       {StatusNotStarted},
	StatusNotStarted:  {StatusInProgress},
	StatusInProgress:  {StatusWaitingNGO, StatusWaitingHPG, StatusSubmitted},
	StatusWaitingNGO:  {StatusInProgress, StatusSubmitted},
	StatusWaitingHPG:  {StatusInProgress, StatusSubmitted},
	StatusSubmitted:   {StatusUnderReview},
	StatusUnderReview: {StatusApproved, StatusRejected},
	StatusApproved:    {StatusComplete},
	StatusRejected:    {StatusInProgress, StatusUnderReview},
}

// ValidStatus reports whether s names a known work item status.
func ValidStatus(s string) bool {
	if s == StatusComplete || s == StatusCanceled {
		return true
	}
	_, ok := statusTransitions[s]
	return ok
}

// TerminalStatus reports whether s admits no further transitions.
func TerminalStatus(s string) bool {
	return s == StatusComplete || s == StatusCanceled
}

// ActiveStatus reports whether s counts toward due-window and workload
// rollups.
func ActiveStatus(s string) bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusWaitingNGO, StatusWaitingHPG, StatusSubmitted, StatusUnderReview:
		return true
	}
	return false
}

// ActiveStatuses returns the active set in lifecycle order.
func ActiveStatuses() []string {
	return []string{StatusNotStarted, StatusInProgress, StatusWaitingNGO, StatusWaitingHPG, StatusSubmitted, StatusUnderReview}
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
// Canceled is reachable from any non-terminal state.
func CanTransition(from, to string) bool {
	if TerminalStatus(from) {
		return false
	}
	if to == StatusCanceled {
		return true
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidNGOStatus reports whether s names a known partner status.
func ValidNGOStatus(s string) bool {
	switch s {
	case NGOActive, NGOAtRisk, NGOSuspended, NGOExited:
		return true
	}
	return false
}

// ValidReviewDecision reports whether d is a terminal document review decision.
func ValidReviewDecision(d string) bool {
	return d == ReviewApproved || d == ReviewRejected
}

// ValidPriority reports whether p names a known priority.
func ValidPriority(p string) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}
