// Package types provides the domain types shared by the pipeline engine, the stores and the
// collaborator adapters.
package types

// Stage is the pipeline state of an Application.
type Stage string

// Application stages. The posting-level prefix of the pipeline (discovered, scored,
// rejected for low score) lives on PostingStage.
const (
	StageQueuedForGeneration Stage = "queued_for_generation"
	StageGenerating          Stage = "generating"
	StageGenerationFailed    Stage = "generation_failed"
	StageReadyForReview      Stage = "ready_for_review"
	StageApproved            Stage = "approved"
	StageRejected            Stage = "rejected"
	StageSubmitting          Stage = "submitting"
	StageSubmitFailed        Stage = "submit_failed"
	StageSubmitted           Stage = "submitted"
	StageNoResponse          Stage = "no_response"
	StageResponded           Stage = "responded"
	StageInterviewScheduled  Stage = "interview_scheduled"
	StageArchived            Stage = "archived"
)

// AllStages lists every application stage in pipeline order.
var AllStages = []Stage{
	StageQueuedForGeneration,
	StageGenerating,
	StageGenerationFailed,
	StageReadyForReview,
	StageApproved,
	StageRejected,
	StageSubmitting,
	StageSubmitFailed,
	StageSubmitted,
	StageNoResponse,
	StageResponded,
	StageInterviewScheduled,
	StageArchived,
}

// Terminal reports whether no further pipeline work happens for the stage.
// Archival is still permitted from terminal stages other than archived.
func (s Stage) Terminal() bool {
	switch s {
	case StageRejected, StageInterviewScheduled, StageArchived:
		return true
	default:
		return false
	}
}

// InFlight reports whether an external call is outstanding for the stage.
func (s Stage) InFlight() bool {
	return s == StageGenerating || s == StageSubmitting
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range AllStages {
		if s == known {
			return true
		}
	}
	return false
}

// EventKind identifies a timeline event. Every kind maps to exactly one stage.
type EventKind string

// Timeline event kinds
const (
	EventQueued             EventKind = "queued"
	EventRequeued           EventKind = "requeued"
	EventGenerating         EventKind = "generating"
	EventGenerationFailed   EventKind = "generation_failed"
	EventReady              EventKind = "ready"
	EventEdited             EventKind = "edited"
	EventApproved           EventKind = "approved"
	EventAutoApproved       EventKind = "auto_approved"
	EventRejected           EventKind = "rejected"
	EventSubmitting         EventKind = "submitting"
	EventSubmitFailed       EventKind = "submit_failed"
	EventSubmitRetry        EventKind = "submit_retry"
	EventSubmitted          EventKind = "submitted"
	EventViewed             EventKind = "viewed"
	EventNoResponse         EventKind = "no_response"
	EventResponded          EventKind = "responded"
	EventInterviewScheduled EventKind = "interview_scheduled"
	EventOutcomeRejected    EventKind = "outcome_rejected"
	EventArchived           EventKind = "archived"
)

var eventStages = map[EventKind]Stage{
	EventQueued:             StageQueuedForGeneration,
	EventRequeued:           StageQueuedForGeneration,
	EventGenerating:         StageGenerating,
	EventGenerationFailed:   StageGenerationFailed,
	EventReady:              StageReadyForReview,
	EventEdited:             StageReadyForReview,
	EventApproved:           StageApproved,
	EventAutoApproved:       StageApproved,
	EventRejected:           StageRejected,
	EventSubmitting:         StageSubmitting,
	EventSubmitFailed:       StageSubmitFailed,
	EventSubmitRetry:        StageApproved,
	EventSubmitted:          StageSubmitted,
	EventViewed:             StageSubmitted,
	EventNoResponse:         StageNoResponse,
	EventResponded:          StageResponded,
	EventInterviewScheduled: StageInterviewScheduled,
	EventOutcomeRejected:    StageRejected,
	EventArchived:           StageArchived,
}

// StageOf returns the stage an application is in when kind is its latest event.
// The second result is false for unknown kinds.
func StageOf(kind EventKind) (Stage, bool) {
	stage, ok := eventStages[kind]
	return stage, ok
}

// transitions lists the event kinds that may be appended while in a stage.
var transitions = map[Stage][]EventKind{
	StageQueuedForGeneration: {EventGenerating, EventArchived},
	StageGenerating:          {EventReady, EventGenerationFailed},
	StageGenerationFailed:    {EventRequeued, EventArchived},
	StageReadyForReview:      {EventEdited, EventApproved, EventAutoApproved, EventRejected, EventArchived},
	StageApproved:            {EventSubmitting, EventArchived},
	StageSubmitting:          {EventSubmitted, EventSubmitFailed},
	StageSubmitFailed:        {EventSubmitRetry, EventArchived},
	StageSubmitted:           {EventViewed, EventNoResponse, EventResponded, EventInterviewScheduled, EventOutcomeRejected, EventArchived},
	StageNoResponse:          {EventResponded, EventInterviewScheduled, EventOutcomeRejected, EventArchived},
	StageResponded:           {EventInterviewScheduled, EventOutcomeRejected, EventArchived},
	StageInterviewScheduled:  {EventArchived},
	StageRejected:            {EventArchived},
}

// CanAppend reports whether an event of the given kind is a legal transition out of s.
func (s Stage) CanAppend(kind EventKind) bool {
	for _, allowed := range transitions[s] {
		if allowed == kind {
			return true
		}
	}
	return false
}
