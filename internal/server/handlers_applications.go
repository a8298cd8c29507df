package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

// ---------------------------------------------------------------------
// Application Handlers
// ---------------------------------------------------------------------

// pathID parses the {id} path segment as an application id.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &ErrValidation{Field: "id", Message: "must be a positive integer"}
	}
	return id, nil
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stages, err := parseStages(q.Get("stage"))
	if err != nil {
		s.engineError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.engineError(w, err)
		return
	}
	filter := store.ApplicationFilter{Stages: stages, Limit: limit}
	if raw := q.Get("needs_attention"); raw != "" {
		flag, err := strconv.ParseBool(raw)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "needs_attention must be true or false")
			return
		}
		filter.NeedsAttention = &flag
	}

	apps, err := s.engine.List(r.Context(), filter)
	if err != nil {
		s.engineError(w, err)
		return
	}
	if apps == nil {
		apps = []types.Application{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"applications": apps, "count": len(apps)})
}

// ApplicationView is an application with its derived stage and posting.
type ApplicationView struct {
	*types.Application
	Stage   types.Stage       `json:"stage"`
	Posting *types.JobPosting `json:"posting,omitempty"`
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.engineError(w, err)
		return
	}
	app, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.engineError(w, err)
		return
	}

	view := ApplicationView{Application: app, Stage: app.Stage()}
	if posting, err := s.engine.Posting(r.Context(), app.PostingID); err == nil {
		view.Posting = posting
	} else {
		s.logger.Warn("application posting missing", "application_id", id, "posting_id", app.PostingID, "error", err)
	}
	s.jsonResponse(w, http.StatusOK, view)
}

// ReviewRequest is a human decision on a ready application. The texts are only
// read for an edit.
type ReviewRequest struct {
	Decision        types.Decision `json:"decision" validate:"required,oneof=approve reject edit"`
	CVText          string         `json:"cv_text"`
	CoverLetterText string         `json:"cover_letter_text"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.engineError(w, err)
		return
	}
	var req ReviewRequest
	if err := s.decode(r, &req); err != nil {
		s.engineError(w, err)
		return
	}

	result, err := s.engine.Review(r.Context(), types.ReviewDecision{
		ApplicationID:   id,
		Decision:        req.Decision,
		Actor:           actor(r, "reviewer"),
		At:              s.now(),
		CVText:          req.CVText,
		CoverLetterText: req.CoverLetterText,
	})
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// ReviewBatchRequest approves or rejects several applications at once.
type ReviewBatchRequest struct {
	Items []types.BatchItem `json:"items" validate:"required,min=1,max=100,dive"`
}

func (s *Server) handleReviewBatch(w http.ResponseWriter, r *http.Request) {
	var req ReviewBatchRequest
	if err := s.decode(r, &req); err != nil {
		s.engineError(w, err)
		return
	}

	results := s.engine.ReviewBatch(r.Context(), req.Items, actor(r, "reviewer"))
	applied := 0
	for _, res := range results {
		if res.Outcome == types.BatchApplied {
			applied++
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"results": results, "applied": applied})
}

func (s *Server) handleRetryGeneration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.engineError(w, err)
		return
	}
	app, err := s.engine.RetryGeneration(r.Context(), id, actor(r, "reviewer"))
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, app)
}

func (s *Server) handleRetrySubmission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.engineError(w, err)
		return
	}
	app, err := s.engine.RetrySubmission(r.Context(), id, actor(r, "reviewer"))
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, app)
}

// OutcomeRequest records an employer-side event. A zero At means now.
type OutcomeRequest struct {
	Kind   types.OutcomeKind `json:"kind" validate:"required,oneof=viewed responded interview_scheduled rejected"`
	At     time.Time         `json:"at"`
	Detail string            `json:"detail" validate:"max=2000"`
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.engineError(w, err)
		return
	}
	var req OutcomeRequest
	if err := s.decode(r, &req); err != nil {
		s.engineError(w, err)
		return
	}

	app, err := s.engine.RecordOutcome(r.Context(), id, req.Kind, req.At, req.Detail)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, app)
}

// NoteRequest appends free text to an application's notes.
type NoteRequest struct {
	Note string `json:"note" validate:"required,max=4000"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.engineError(w, err)
		return
	}
	var req NoteRequest
	if err := s.decode(r, &req); err != nil {
		s.engineError(w, err)
		return
	}

	app, err := s.engine.AddNote(r.Context(), id, req.Note)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, app)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.engineError(w, err)
		return
	}
	app, err := s.engine.Archive(r.Context(), id, actor(r, "reviewer"))
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, app)
}
