// Package backend defines the download backend contracts and the direct
// dispatch path used when the primary backend cannot take a request.
package backend

import (
	"context"

	"github.com/fableseek/fableseek-server/internal/domain"
)

// ProcessedTag marks a completed job that has already been reconciled, so
// the monitor's fallback scan never re-attaches to it.
const ProcessedTag = "processed"

// JobRef identifies a dispatched download job on a backend.
type JobRef struct {
	// ID is the torrent info hash for direct dispatch, or the backend's
	// own job identifier for managed backends.
	ID      string         `json:"id"`
	Backend domain.Backend `json:"backend"`
}

// JobStatus is a snapshot of one download job.
type JobStatus struct {
	Name     string  `json:"name"`
	Progress float64 `json:"progress"` // 0.0 to 1.0
	Done     bool    `json:"done"`
	Failed   bool    `json:"failed"`
	State    string  `json:"state"`
}

// Job is one entry from a category-wide listing, used to re-associate a
// request with a download the client still holds.
type Job struct {
	Ref    JobRef   `json:"ref"`
	Name   string   `json:"name"`
	Tags   []string `json:"tags"`
	Status JobStatus
}

// Primary is a backend that performs full download management from a book
// identity alone. Add and search may take seconds to minutes.
type Primary interface {
	AddAndSearch(ctx context.Context, req *domain.BookRequest) (JobRef, error)
}

// Secondary dispatches one concrete candidate to a download client.
type Secondary interface {
	Dispatch(ctx context.Context, req *domain.BookRequest, c *domain.Candidate) (JobRef, error)
}

// DownloadClient exposes job tracking for the monitor.
type DownloadClient interface {
	GetStatus(ctx context.Context, ref JobRef) (JobStatus, error)
	ListJobs(ctx context.Context, category string) ([]Job, error)
	MarkProcessed(ctx context.Context, ref JobRef) error
}
