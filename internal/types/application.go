package types

import "time"

// TimelineEvent is one append-only entry in an Application's history.
type TimelineEvent struct {
	At     time.Time `json:"at"`
	Kind   EventKind `json:"kind"`
	Actor  string    `json:"actor,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// ContentType selects which document the generation service produces.
type ContentType string

// Generated content types
const (
	ContentCV          ContentType = "cv"
	ContentCoverLetter ContentType = "cover_letter"
)

// Draft is generated content with the generator's self-reported confidence (0-100).
type Draft struct {
	ContentType ContentType `json:"content_type"`
	Text        string      `json:"text"`
	Confidence  int         `json:"confidence"`
}

// SubmissionReceipt is returned by the submission collaborator.
type SubmissionReceipt struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	Reference   string    `json:"reference,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Application tracks one candidate/posting pair through the pipeline. Its stage is
// never stored independently of the timeline.
type Application struct {
	ID                   int64              `json:"id"`
	CandidateID          string             `json:"candidate_id"`
	PostingID            string             `json:"posting_id"`
	MatchScore           int                `json:"match_score"`
	GenerationConfidence *int               `json:"generation_confidence,omitempty"`
	CVText               string             `json:"cv_text,omitempty"`
	CoverLetterText      string             `json:"cover_letter_text,omitempty"`
	Timeline             []TimelineEvent    `json:"timeline"`
	Notes                string             `json:"notes,omitempty"`
	NeedsAttention       bool               `json:"needs_attention"`
	SubmitAttempts       int                `json:"submit_attempts"`
	Receipt              *SubmissionReceipt `json:"receipt,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// LastEvent returns the most recent timeline event, or false for an empty timeline.
func (a *Application) LastEvent() (TimelineEvent, bool) {
	if len(a.Timeline) == 0 {
		return TimelineEvent{}, false
	}
	return a.Timeline[len(a.Timeline)-1], true
}

// Stage derives the current stage from the latest timeline event.
func (a *Application) Stage() Stage {
	last, ok := a.LastEvent()
	if !ok {
		return ""
	}
	stage, _ := StageOf(last.Kind)
	return stage
}

// Clone returns a deep copy safe to hand out of a store.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	c := *a
	c.Timeline = append([]TimelineEvent(nil), a.Timeline...)
	if a.GenerationConfidence != nil {
		v := *a.GenerationConfidence
		c.GenerationConfidence = &v
	}
	if a.Receipt != nil {
		r := *a.Receipt
		c.Receipt = &r
	}
	return &c
}

// HasEvent reports whether kind appears anywhere in the timeline.
func (a *Application) HasEvent(kind EventKind) bool {
	for _, ev := range a.Timeline {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

// EventTime returns the time of the first event of the given kind.
func (a *Application) EventTime(kind EventKind) (time.Time, bool) {
	for _, ev := range a.Timeline {
		if ev.Kind == kind {
			return ev.At, true
		}
	}
	return time.Time{}, false
}
