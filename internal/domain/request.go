// Package domain contains the core business entities and domain logic for the Fableseek request engine.
package domain

import (
	"fmt"
	"time"
)

// Group represents the trust level of the requesting user at request time.
type Group string

const (
	// GroupUntrusted requires an admin to approve each request.
	GroupUntrusted Group = "untrusted"
	// GroupTrusted allows automatic fulfillment when auto-download is enabled.
	GroupTrusted Group = "trusted"
	// GroupAdmin can approve or deny requests and change settings.
	GroupAdmin Group = "admin"
)

// ParseGroup converts a string into a known Group, defaulting to untrusted.
func ParseGroup(value string) Group {
	switch Group(value) {
	case GroupTrusted:
		return GroupTrusted
	case GroupAdmin:
		return GroupAdmin
	default:
		return GroupUntrusted
	}
}

// CanAutoDownload reports whether requests from this group may be fulfilled
// without manual approval.
func (g Group) CanAutoDownload() bool {
	return g == GroupTrusted || g == GroupAdmin
}

// RequestStatus represents the lifecycle state of a BookRequest.
type RequestStatus string

const (
	StatusPending     RequestStatus = "pending"
	StatusApproved    RequestStatus = "approved"
	StatusSearching   RequestStatus = "searching"
	StatusDownloading RequestStatus = "downloading"
	StatusDownloaded  RequestStatus = "downloaded"
	StatusFailed      RequestStatus = "failed"
	StatusDenied      RequestStatus = "denied"
)

// legalTransitions is the single source of truth for request state changes.
// Transitions only move forward, with two exceptions: Failed → Searching
// (retry) and Pending → Denied (admin action).
var legalTransitions = map[RequestStatus][]RequestStatus{
	StatusPending:     {StatusApproved, StatusDenied},
	StatusApproved:    {StatusSearching},
	StatusSearching:   {StatusDownloading, StatusFailed},
	StatusDownloading: {StatusDownloaded, StatusFailed},
	StatusFailed:      {StatusSearching},
}

// CanTransition reports whether moving from s to next is a legal state change.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusDownloaded || s == StatusDenied
}

// IsActive reports whether a fulfillment attempt is currently in flight.
func (s RequestStatus) IsActive() bool {
	return s == StatusSearching || s == StatusDownloading
}

// ParseRequestStatus converts a string into a known RequestStatus.
func ParseRequestStatus(value string) (RequestStatus, bool) {
	switch RequestStatus(value) {
	case StatusPending, StatusApproved, StatusSearching, StatusDownloading,
		StatusDownloaded, StatusFailed, StatusDenied:
		return RequestStatus(value), true
	}
	return "", false
}

// Backend identifies which download backend a candidate was dispatched to.
type Backend string

const (
	// BackendReadarr is the primary backend: a full download-lifecycle manager.
	BackendReadarr Backend = "readarr"
	// BackendProwlarrDirect is the secondary backend: direct dispatch of the
	// selected candidate through Prowlarr to the download client.
	BackendProwlarrDirect Backend = "prowlarr_direct"
)

// FailureReason classifies why a fulfillment attempt failed.
type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonIndexerUnavailable FailureReason = "indexer_unavailable"
	ReasonNoCandidatesFound  FailureReason = "no_candidates_found"
	ReasonBackendAddFailed   FailureReason = "backend_add_failed"
	ReasonDownloadTimeout    FailureReason = "download_timeout"
)

// Retryable reports whether a failed request with this reason should be
// picked up again by the retry scheduler.
func (r FailureReason) Retryable() bool {
	return r == ReasonIndexerUnavailable || r == ReasonDownloadTimeout
}

// BookRequest is a user's request for an audiobook, tracked from creation to
// a terminal state by the fulfillment orchestrator.
type BookRequest struct {
	ID          string   `json:"id"`
	ASIN        string   `json:"asin,omitempty"` // empty for manual requests
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle,omitempty"`
	Authors     []string `json:"authors"`
	Narrators   []string `json:"narrators,omitempty"`
	SeriesName  string   `json:"series_name,omitempty"`
	SeriesIndex *float64 `json:"series_index,omitempty"`

	RequestedBy    string `json:"requested_by"`
	RequestedGroup Group  `json:"requested_group"`

	Status        RequestStatus `json:"status"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	FailureDetail string        `json:"failure_detail,omitempty"`

	// SelectedCandidate is set only once a candidate has been dispatched
	// (status downloading, downloaded, or failed after dispatch).
	SelectedCandidate *Candidate `json:"selected_candidate,omitempty"`
	BackendUsed       Backend    `json:"backend_used,omitempty"`
	// JobRef identifies the dispatched job on the backend: a torrent info
	// hash for direct dispatch, a book id for the managed backend. Persisted
	// so the monitor can re-attach after a process restart.
	JobRef string `json:"job_ref,omitempty"`
	// DownloadProgress is the last backend progress observed by the monitor,
	// 0.0 to 1.0. Persisted so the stall timeout measures time without
	// progress instead of total transfer time.
	DownloadProgress float64 `json:"download_progress,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsManual reports whether the request was entered by hand rather than picked
// from the metadata search provider.
func (r *BookRequest) IsManual() bool {
	return r.ASIN == ""
}

// PrimaryAuthor returns the first author, or empty when unknown.
func (r *BookRequest) PrimaryAuthor() string {
	if len(r.Authors) == 0 {
		return ""
	}
	return r.Authors[0]
}

// Transition validates and applies a status change. Illegal moves return a
// typed error and leave the request untouched.
func (r *BookRequest) Transition(next RequestStatus) error {
	if !r.Status.CanTransition(next) {
		return &IllegalTransitionError{From: r.Status, To: next}
	}
	r.Status = next
	if next != StatusFailed {
		r.FailureReason = ReasonNone
		r.FailureDetail = ""
	}
	r.UpdatedAt = time.Now()
	return nil
}

// Fail moves the request to Failed with a classified reason.
func (r *BookRequest) Fail(reason FailureReason, detail string) error {
	if err := r.Transition(StatusFailed); err != nil {
		return err
	}
	r.FailureReason = reason
	r.FailureDetail = detail
	return nil
}

// IllegalTransitionError reports a rejected status change.
type IllegalTransitionError struct {
	From RequestStatus
	To   RequestStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal request transition from %s to %s", e.From, e.To)
}
