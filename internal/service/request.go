// Package service contains the application services that sit between the
// HTTP layer and the stores, backends, and fulfillment engine.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/id"
	"github.com/fableseek/fableseek-server/internal/sse"
	"github.com/fableseek/fableseek-server/internal/store"
	"github.com/fableseek/fableseek-server/internal/validation"
)

// Fulfiller is the slice of the fulfillment engine the request service needs.
type Fulfiller interface {
	Trigger(requestID string)
	Cancel(requestID string)
	GetRankedCandidates(ctx context.Context, requestID string) ([]domain.ScoredCandidate, bool, error)
	SelectCandidate(ctx context.Context, requestID, guid string) error
}

// LibraryChecker answers whether a book already exists in the media library.
type LibraryChecker interface {
	Configured() bool
	Exists(ctx context.Context, asin, title string, authors []string) (bool, error)
}

// Notifier fans a lifecycle event out to configured webhooks.
type Notifier interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent)
}

// Events pushes state changes to connected SSE clients.
type Events interface {
	Emit(event sse.Event)
}

// RequestService manages the book request lifecycle.
type RequestService struct {
	store     store.Store
	fulfiller Fulfiller
	library   LibraryChecker
	notifier  Notifier
	events    Events
	validator *validation.Validator
	logger    *slog.Logger
}

// NewRequestService creates a new request service.
func NewRequestService(
	s store.Store,
	fulfiller Fulfiller,
	library LibraryChecker,
	notifier Notifier,
	events Events,
	logger *slog.Logger,
) *RequestService {
	return &RequestService{
		store:     s,
		fulfiller: fulfiller,
		library:   library,
		notifier:  notifier,
		events:    events,
		validator: validation.New(),
		logger:    logger.With("service", "request"),
	}
}

// CreateRequestInput carries the fields accepted when creating a request.
// ASIN is optional; a manual request supplies title and authors by hand.
type CreateRequestInput struct {
	ASIN        string   `json:"asin" validate:"omitempty,len=10"`
	Title       string   `json:"title" validate:"required,max=500"`
	Subtitle    string   `json:"subtitle" validate:"max=500"`
	Authors     []string `json:"authors" validate:"max=20,dive,max=200"`
	Narrators   []string `json:"narrators" validate:"max=20,dive,max=200"`
	SeriesName  string   `json:"series_name" validate:"max=500"`
	SeriesIndex *float64 `json:"series_index"`
}

// Create registers a new book request for the given requester. Trusted and
// admin requesters start at Approved and a fulfillment attempt is kicked off
// immediately; untrusted requesters start at Pending. A book the library
// already holds is stored as Downloaded without touching any backend.
func (s *RequestService) Create(ctx context.Context, input *CreateRequestInput, requestedBy string, group domain.Group) (*domain.BookRequest, error) {
	if err := s.validator.Validate(input); err != nil {
		return nil, err
	}
	if requestedBy == "" {
		return nil, errors.Validation("requester is required")
	}

	if err := s.checkDuplicate(ctx, input); err != nil {
		return nil, err
	}

	now := time.Now()
	req := &domain.BookRequest{
		ID:             id.MustGenerate("req"),
		ASIN:           input.ASIN,
		Title:          input.Title,
		Subtitle:       input.Subtitle,
		Authors:        input.Authors,
		Narrators:      input.Narrators,
		SeriesName:     input.SeriesName,
		SeriesIndex:    input.SeriesIndex,
		RequestedBy:    requestedBy,
		RequestedGroup: group,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if group.CanAutoDownload() {
		req.Status = domain.StatusApproved
	}

	if s.library != nil && s.library.Configured() {
		exists, err := s.library.Exists(ctx, req.ASIN, req.Title, req.Authors)
		if err != nil {
			s.logger.Warn("library existence check failed", "error", err, "title", req.Title)
		} else if exists {
			req.Status = domain.StatusDownloaded
		}
	}

	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.logger.Info("request created",
		"request_id", req.ID,
		"title", req.Title,
		"requested_by", req.RequestedBy,
		"status", req.Status,
	)

	s.notifier.Dispatch(ctx, domain.RequestEvent(domain.EventBookRequested, req, nil))
	s.events.Emit(sse.NewRequestCreatedEvent(req))

	if req.Status == domain.StatusApproved {
		s.fulfiller.Trigger(req.ID)
	}

	return req, nil
}

// checkDuplicate rejects a second open request for the same book. Terminal
// requests do not block re-requesting.
func (s *RequestService) checkDuplicate(ctx context.Context, input *CreateRequestInput) error {
	existing, err := s.store.ListRequests(ctx)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	for _, other := range existing {
		if other.Status.IsTerminal() {
			continue
		}
		if input.ASIN != "" && other.ASIN == input.ASIN {
			return errors.Conflictf("an open request for ASIN %s already exists", input.ASIN)
		}
	}
	return nil
}

// Get returns a single request by id.
func (s *RequestService) Get(ctx context.Context, requestID string) (*domain.BookRequest, error) {
	return s.store.GetRequest(ctx, requestID)
}

// List returns all requests, optionally filtered by status.
func (s *RequestService) List(ctx context.Context, statuses ...domain.RequestStatus) ([]*domain.BookRequest, error) {
	if len(statuses) == 0 {
		return s.store.ListRequests(ctx)
	}
	return s.store.ListRequestsByStatus(ctx, statuses...)
}

// ListByUser returns the requests created by one requester.
func (s *RequestService) ListByUser(ctx context.Context, userID string) ([]*domain.BookRequest, error) {
	return s.store.ListRequestsByUser(ctx, userID)
}

// Approve moves a pending request to Approved and starts fulfillment.
func (s *RequestService) Approve(ctx context.Context, requestID string) (*domain.BookRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if err := req.Transition(domain.StatusApproved); err != nil {
		return nil, errors.Conflictf("cannot approve request in state %s", req.Status)
	}
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	s.logger.Info("request approved", "request_id", req.ID, "title", req.Title)
	s.notifier.Dispatch(ctx, domain.RequestEvent(domain.EventBookApproved, req, nil))
	s.events.Emit(sse.NewRequestUpdatedEvent(req))
	s.fulfiller.Trigger(req.ID)

	return req, nil
}

// Deny moves a pending request to Denied.
func (s *RequestService) Deny(ctx context.Context, requestID string) (*domain.BookRequest, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if err := req.Transition(domain.StatusDenied); err != nil {
		return nil, errors.Conflictf("cannot deny request in state %s", req.Status)
	}
	if err := s.store.UpdateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	s.logger.Info("request denied", "request_id", req.ID, "title", req.Title)
	s.notifier.Dispatch(ctx, domain.RequestEvent(domain.EventBookDenied, req, nil))
	s.events.Emit(sse.NewRequestUpdatedEvent(req))

	return req, nil
}

// Delete removes a request and cancels any in-flight fulfillment work.
func (s *RequestService) Delete(ctx context.Context, requestID string) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	s.fulfiller.Cancel(req.ID)

	if err := s.store.DeleteRequest(ctx, req.ID); err != nil {
		return fmt.Errorf("delete request: %w", err)
	}

	s.logger.Info("request deleted", "request_id", req.ID, "title", req.Title)
	s.events.Emit(sse.NewRequestDeletedEvent(req.ID))
	return nil
}

// TriggerFulfillment kicks a fulfillment attempt for an approved or failed
// request.
func (s *RequestService) TriggerFulfillment(ctx context.Context, requestID string) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	switch req.Status {
	case domain.StatusApproved, domain.StatusFailed, domain.StatusSearching:
		s.fulfiller.Trigger(req.ID)
		return nil
	default:
		return errors.Conflictf("cannot fulfill request in state %s", req.Status)
	}
}

// RankedCandidates returns the scored candidate list for a request along with
// the ambiguity marker.
func (s *RequestService) RankedCandidates(ctx context.Context, requestID string) ([]domain.ScoredCandidate, bool, error) {
	if _, err := s.store.GetRequest(ctx, requestID); err != nil {
		return nil, false, err
	}
	return s.fulfiller.GetRankedCandidates(ctx, requestID)
}

// SelectCandidate dispatches one ranked candidate chosen by hand.
func (s *RequestService) SelectCandidate(ctx context.Context, requestID, guid string) error {
	if guid == "" {
		return errors.Validation("guid is required")
	}
	return s.fulfiller.SelectCandidate(ctx, requestID, guid)
}
