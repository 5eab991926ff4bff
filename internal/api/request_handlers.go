package api

import (
	"encoding/json/v2"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/http/response"
	"github.com/fableseek/fableseek-server/internal/service"
)

// handleCreateRequest creates a new book request for the calling requester.
func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input service.CreateRequestInput
	if err := json.UnmarshalRead(r.Body, &input); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	req, err := s.requests.Create(ctx, &input, getRequester(ctx), getGroup(ctx))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Created(w, req, s.logger)
}

// handleListRequests lists requests, optionally filtered by status or scoped
// to the caller with ?mine=true.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.URL.Query().Get("mine") == "true" {
		requests, err := s.requests.ListByUser(ctx, getRequester(ctx))
		if err != nil {
			response.HandleError(w, err, s.logger)
			return
		}
		response.Success(w, requests, s.logger)
		return
	}

	var statuses []domain.RequestStatus
	for _, raw := range r.URL.Query()["status"] {
		status, ok := domain.ParseRequestStatus(raw)
		if !ok {
			response.BadRequest(w, "Unknown status filter: "+raw, s.logger)
			return
		}
		statuses = append(statuses, status)
	}

	requests, err := s.requests.List(ctx, statuses...)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, requests, s.logger)
}

// handleGetRequest returns a single request by id.
func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, req, s.logger)
}

// handleDeleteRequest deletes a request and cancels in-flight work.
func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.requests.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.NoContent(w)
}

// handleApproveRequest approves a pending request.
func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requests.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, req, s.logger)
}

// handleDenyRequest denies a pending request.
func (s *Server) handleDenyRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requests.Deny(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, req, s.logger)
}

// handleTriggerFulfillment kicks a fulfillment attempt.
func (s *Server) handleTriggerFulfillment(w http.ResponseWriter, r *http.Request) {
	if err := s.requests.TriggerFulfillment(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"}, s.logger)
}

// candidatesResponse carries the ranked candidate list for one request.
type candidatesResponse struct {
	Candidates []domain.ScoredCandidate `json:"candidates"`
	Ambiguous  bool                     `json:"ambiguous"`
}

// handleListCandidates returns the ranked candidates for a request along with
// the ambiguity marker.
func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, ambiguous, err := s.requests.RankedCandidates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, candidatesResponse{Candidates: candidates, Ambiguous: ambiguous}, s.logger)
}

// selectCandidateInput identifies the release chosen by hand.
type selectCandidateInput struct {
	GUID string `json:"guid"`
}

// handleSelectCandidate dispatches one ranked candidate chosen by the caller.
func (s *Server) handleSelectCandidate(w http.ResponseWriter, r *http.Request) {
	var input selectCandidateInput
	if err := json.UnmarshalRead(r.Body, &input); err != nil {
		response.BadRequest(w, "Invalid request body", s.logger)
		return
	}

	if err := s.requests.SelectCandidate(r.Context(), chi.URLParam(r, "id"), input.GUID); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, map[string]string{"status": "dispatched"}, s.logger)
}
