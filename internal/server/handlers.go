package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/jobhunter/internal/chat"
	"github.com/jonathan/jobhunter/internal/discovery"
	"github.com/jonathan/jobhunter/internal/export"
	"github.com/jonathan/jobhunter/internal/pipeline"
	"github.com/jonathan/jobhunter/internal/server/middleware"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &ErrValidation{Field: "body", Message: "request body is empty"}
		}
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

// decode reads a JSON body into v and validates its struct tags.
func (s *Server) decode(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}

// actor names the caller for timeline events: the token subject when
// authenticated, otherwise fallback.
func actor(r *http.Request, fallback string) string {
	if subject, err := middleware.GetSubject(r); err == nil {
		return subject
	}
	return fallback
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &ErrValidation{Field: name, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// ---------------------------------------------------------------------
// Profile Handlers
// ---------------------------------------------------------------------

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.engine.Profile(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	// The engine validates the profile after pinning its id.
	var req types.CandidateProfile
	if err := decodeJSON(r, &req); err != nil {
		s.engineError(w, err)
		return
	}

	profile, err := s.engine.UpdateProfile(r.Context(), req)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, profile)
}

// ---------------------------------------------------------------------
// Posting Handlers
// ---------------------------------------------------------------------

// CreatePostingsRequest adds postings by hand. Score runs the scorer on each new
// posting right away instead of waiting for the next discovery cycle.
type CreatePostingsRequest struct {
	Postings []types.JobPosting `json:"postings" validate:"required,min=1,max=200,dive"`
	Score    bool               `json:"score"`
}

// CreatePostingsResponse reports what was stored and, when requested, scored.
type CreatePostingsResponse struct {
	pipeline.DiscoverResult
	Scored        []pipeline.ScoreOutcome `json:"scored,omitempty"`
	ScoringErrors map[string]string       `json:"scoring_errors,omitempty"`
}

var validPostingStages = map[types.PostingStage]bool{
	types.PostingDiscovered: true,
	types.PostingScored:     true,
	types.PostingRejected:   true,
	types.PostingMatched:    true,
	types.PostingArchived:   true,
}

func (s *Server) handleListPostings(w http.ResponseWriter, r *http.Request) {
	filter := store.PostingFilter{Stage: types.PostingStage(r.URL.Query().Get("stage"))}
	if filter.Stage != "" && !validPostingStages[filter.Stage] {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown posting stage %q", filter.Stage))
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.engineError(w, err)
		return
	}
	filter.Limit = limit

	postings, err := s.engine.Postings(r.Context(), filter)
	if err != nil {
		s.engineError(w, err)
		return
	}
	if postings == nil {
		postings = []types.JobPosting{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"postings": postings, "count": len(postings)})
}

func (s *Server) handleCreatePostings(w http.ResponseWriter, r *http.Request) {
	var req CreatePostingsRequest
	if err := s.decode(r, &req); err != nil {
		s.engineError(w, err)
		return
	}

	result, err := s.engine.Discover(r.Context(), req.Postings)
	if err != nil {
		s.engineError(w, err)
		return
	}
	resp := CreatePostingsResponse{DiscoverResult: result}

	if req.Score {
		for _, id := range result.Created {
			outcome, err := s.engine.ScorePosting(r.Context(), id)
			if err != nil {
				if resp.ScoringErrors == nil {
					resp.ScoringErrors = make(map[string]string)
				}
				resp.ScoringErrors[id] = err.Error()
				continue
			}
			resp.Scored = append(resp.Scored, outcome)
		}
	}

	s.jsonResponse(w, http.StatusCreated, resp)
}

func (s *Server) handleRunDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.discoverer == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "no discovery sources configured")
		return
	}

	report, err := s.discoverer.Run(r.Context())
	if err != nil {
		if errors.Is(err, discovery.ErrAllSourcesFailed) && report != nil {
			s.jsonResponse(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "report": report})
			return
		}
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

// ---------------------------------------------------------------------
// Stats, Chat and Export Handlers
// ---------------------------------------------------------------------

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

// ChatRequest is one chat message. SessionID groups messages for rate limiting;
// a new one is issued when it is empty.
type ChatRequest struct {
	Message   string `json:"message" validate:"required,max=4000"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

// ChatResponse carries the interpreter's reply.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.interpreter == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "chat is not enabled")
		return
	}

	var req ChatRequest
	if err := s.decode(r, &req); err != nil {
		s.engineError(w, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	reply := s.interpreter.Handle(r.Context(), chat.Session{ID: req.SessionID, Actor: actor(r, "chat")}, req.Message)
	s.jsonResponse(w, http.StatusOK, ChatResponse{SessionID: req.SessionID, Reply: reply})
}

func (s *Server) handleExportTracker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	apps, err := s.engine.List(ctx, store.ApplicationFilter{})
	if err != nil {
		s.engineError(w, err)
		return
	}
	postings, err := s.engine.Postings(ctx, store.PostingFilter{})
	if err != nil {
		s.engineError(w, err)
		return
	}
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		s.engineError(w, err)
		return
	}

	byID := make(map[string]types.JobPosting, len(postings))
	for _, p := range postings {
		byID[p.ID] = p
	}

	var buf bytes.Buffer
	if err := export.WriteTracker(&buf, apps, byID, stats); err != nil {
		s.engineError(w, fmt.Errorf("failed to build tracker: %w", err))
		return
	}

	name := "applications-" + s.now().Format("2006-01-02") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("failed to write tracker", "error", err)
	}
}

// parseStages splits a comma-separated stage list and rejects unknown names.
func parseStages(raw string) ([]types.Stage, error) {
	if raw == "" {
		return nil, nil
	}
	var stages []types.Stage
	for _, part := range strings.Split(raw, ",") {
		stage := types.Stage(strings.TrimSpace(part))
		if stage == "" {
			continue
		}
		if !stage.Valid() {
			return nil, &ErrValidation{Field: "stage", Message: fmt.Sprintf("unknown stage %q", stage)}
		}
		stages = append(stages, stage)
	}
	return stages, nil
}
