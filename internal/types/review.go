package types

import "time"

// Decision is a human review verdict.
type Decision string

// Review decisions
const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionEdit    Decision = "edit"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionEdit
}

// ReviewDecision drives a ReadyForReview application forward. It is folded into the
// application's timeline and not stored on its own.
type ReviewDecision struct {
	ApplicationID   int64     `json:"application_id"`
	Decision        Decision  `json:"decision"`
	Actor           string    `json:"actor"`
	At              time.Time `json:"at"`
	CVText          string    `json:"cv_text,omitempty"`
	CoverLetterText string    `json:"cover_letter_text,omitempty"`
}

// BatchItem is one member of a batch review request.
type BatchItem struct {
	ApplicationID int64    `json:"application_id" validate:"required,gt=0"`
	Decision      Decision `json:"decision" validate:"required,oneof=approve reject"`
}

// BatchOutcome is the per-member result of a batch review.
type BatchOutcome string

// Batch outcomes
const (
	BatchApplied  BatchOutcome = "applied"
	BatchConflict BatchOutcome = "conflict"
	BatchNotFound BatchOutcome = "not_found"
)

// BatchResult reports what happened to one member of a batch.
type BatchResult struct {
	ApplicationID int64        `json:"application_id"`
	Outcome       BatchOutcome `json:"outcome"`
	Stage         Stage        `json:"stage,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// OutcomeKind is an inbound employer-side event.
type OutcomeKind string

// Inbound outcome kinds
const (
	OutcomeViewed             OutcomeKind = "viewed"
	OutcomeResponded          OutcomeKind = "responded"
	OutcomeInterviewScheduled OutcomeKind = "interview_scheduled"
	OutcomeRejected           OutcomeKind = "rejected"
)

// EventKind maps an outcome to the timeline event it appends.
func (k OutcomeKind) EventKind() (EventKind, bool) {
	switch k {
	case OutcomeViewed:
		return EventViewed, true
	case OutcomeResponded:
		return EventResponded, true
	case OutcomeInterviewScheduled:
		return EventInterviewScheduled, true
	case OutcomeRejected:
		return EventOutcomeRejected, true
	default:
		return "", false
	}
}
