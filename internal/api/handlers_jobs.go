package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/orchestrator"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// SubmitJobRequest is the body of POST /api/jobs
type SubmitJobRequest struct {
	Type        types.JobType   `json:"type"`
	Queue       types.QueueName `json:"queue,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Priority    *int            `json:"priority,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
}

// RegenerateRequest is the body of the regenerate endpoints. The body is optional.
type RegenerateRequest struct {
	Views []types.ViewName `json:"views,omitempty"`
}

// handleSubmitJob handles POST /api/jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if req.Type == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "type is required", nil)
		return
	}

	sub, err := s.jobs.Submit(r.Context(), orchestrator.SubmitRequest{
		Caller:      callerFrom(r.Context()),
		QueueName:   req.Queue,
		Type:        req.Type,
		Payload:     req.Payload,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, sub)
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	status, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleCancelJob handles DELETE /api/jobs/{id}
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	status, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	result, err := s.jobs.Cancel(r.Context(), status.JobID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleRegenerateJob handles POST /api/jobs/{id}/regenerate
func (s *Server) handleRegenerateJob(w http.ResponseWriter, r *http.Request) {
	s.regenerate(w, r, orchestrator.RegenerationRequest{JobID: mux.Vars(r)["id"]})
}

// handleRegenerateCharacter handles POST /api/characters/{id}/regenerate
func (s *Server) handleRegenerateCharacter(w http.ResponseWriter, r *http.Request) {
	s.regenerate(w, r, orchestrator.RegenerationRequest{CharacterID: mux.Vars(r)["id"]})
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request, req orchestrator.RegenerationRequest) {
	var body RegenerateRequest
	if r.ContentLength != 0 {
		if err := parseJSONBody(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
	}

	req.Caller = callerFrom(r.Context())
	req.Views = body.Views

	sub, err := s.jobs.RequestRegeneration(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, sub)
}

// handleListQueue handles GET /api/queues/{queue}/jobs. Operators only.
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	if !callerFrom(r.Context()).IsAdmin() {
		respondServiceError(w, apperrors.NewForbiddenError("queue listing requires the admin role"))
		return
	}

	queueName := types.QueueName(mux.Vars(r)["queue"])
	if !queueName.Valid() {
		respondServiceError(w, apperrors.NewNotFoundError("queue", string(queueName)))
		return
	}

	status := types.StatusWaiting
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = types.JobStatus(raw)
	}

	offset, err := intParam(r, "offset")
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "offset must be an integer", nil)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be an integer", nil)
		return
	}

	jobs, err := s.jobs.ListRecent(r.Context(), queueName, status, offset, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queue":  queueName,
		"status": status,
		"jobs":   jobs,
		"count":  len(jobs),
	})
}

// ownedJob loads the job named in the path. Jobs of other accounts are
// reported as missing unless the caller is an admin.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (*orchestrator.Status, bool) {
	jobID := mux.Vars(r)["id"]

	status, err := s.jobs.GetStatus(r.Context(), jobID)
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}

	caller := callerFrom(r.Context())
	if status.AccountID != caller.AccountID && !caller.IsAdmin() {
		respondServiceError(w, apperrors.NewNotFoundError("job", jobID))
		return nil, false
	}

	return status, true
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
