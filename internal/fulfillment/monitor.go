package fulfillment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/fableseek/fableseek-server/internal/backend"
	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/sse"
	"github.com/fableseek/fableseek-server/internal/store"
)

// StatusChecker reports the state of a dispatched job. Satisfied by the
// readarr client for managed dispatches.
type StatusChecker interface {
	GetStatus(ctx context.Context, ref backend.JobRef) (backend.JobStatus, error)
}

// Library is the post-download boundary. Satisfied by library.Client.
type Library interface {
	TriggerScan(ctx context.Context)
}

// Monitor polls backends for the state of downloading requests and drives
// them to Downloaded or Failed. It holds no in-memory job state, so it
// re-attaches to in-progress downloads after a restart from the persisted
// candidate and job reference alone.
type Monitor struct {
	store    store.Store
	readarr  StatusChecker          // nil when the managed backend is not configured
	torrents backend.DownloadClient // nil when no torrent client is configured
	category string
	library  Library
	notifier Notifier
	events   Events
	logger   *slog.Logger

	pollInterval time.Duration
	timeout      time.Duration
}

// NewMonitor creates a Monitor. readarr and torrents may each be nil; a
// request dispatched to a missing client simply waits until the timeout.
func NewMonitor(
	s store.Store,
	readarr StatusChecker,
	torrents backend.DownloadClient,
	category string,
	lib Library,
	notifier Notifier,
	events Events,
	cfg config.FulfillmentConfig,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		store:        s,
		readarr:      readarr,
		torrents:     torrents,
		category:     category,
		library:      lib,
		notifier:     notifier,
		events:       events,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.DownloadTimeout,
	}
}

// Run polls until ctx is canceled. One poll pass checks every downloading
// request; a failure on one request never affects the others.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("download monitor starting",
		"poll_interval", m.pollInterval, "timeout", m.timeout)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.poll(ctx)
		case <-ctx.Done():
			m.logger.Info("download monitor stopping")
			return
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	requests, err := m.store.ListRequestsByStatus(ctx, domain.StatusDownloading)
	if err != nil {
		m.logger.Error("monitor poll list failed", "error", err)
		return
	}
	for _, req := range requests {
		if ctx.Err() != nil {
			return
		}
		m.check(ctx, req)
	}
}

// check advances one downloading request: completed jobs resolve to
// Downloaded, failed or timed-out jobs to Failed, everything else waits for
// the next poll.
func (m *Monitor) check(ctx context.Context, req *domain.BookRequest) {
	status, found := m.lookup(ctx, req)

	switch {
	case found && status.Failed:
		m.fail(ctx, req, fmt.Sprintf("download failed in state %s", status.State))
	case found && status.Done:
		m.complete(ctx, req)
	case found && status.Progress > req.DownloadProgress:
		// Still moving. Persist the new high-water mark so the timeout
		// below measures time stalled, not time downloading.
		req.DownloadProgress = status.Progress
		req.UpdatedAt = time.Now()
		if err := m.store.UpdateRequest(ctx, req); err != nil {
			m.logger.Error("persist download progress failed",
				"request_id", req.ID, "error", err)
		}
	default:
		if time.Since(req.UpdatedAt) > m.timeout {
			m.fail(ctx, req, fmt.Sprintf("no progress after %s", m.timeout))
		}
	}
}

// lookup resolves the job status for a request on whichever backend it was
// dispatched to. A job the client no longer knows under its recorded
// reference is re-associated by scanning the configured category for a job
// carrying the request's tags.
func (m *Monitor) lookup(ctx context.Context, req *domain.BookRequest) (backend.JobStatus, bool) {
	ref := backend.JobRef{ID: req.JobRef, Backend: req.BackendUsed}

	switch req.BackendUsed {
	case domain.BackendReadarr:
		if m.readarr == nil {
			return backend.JobStatus{}, false
		}
		status, err := m.readarr.GetStatus(ctx, ref)
		if err != nil {
			if !errors.Is(err, errors.ErrNotFound) {
				m.logger.Warn("managed backend status failed",
					"request_id", req.ID, "error", err)
			}
			return backend.JobStatus{}, false
		}
		return status, true

	case domain.BackendProwlarrDirect:
		if m.torrents == nil {
			return backend.JobStatus{}, false
		}
		status, err := m.torrents.GetStatus(ctx, ref)
		if err == nil {
			return status, true
		}
		if !errors.Is(err, errors.ErrNotFound) {
			m.logger.Warn("download client status failed",
				"request_id", req.ID, "error", err)
			return backend.JobStatus{}, false
		}
		return m.reassociate(ctx, req)
	}
	return backend.JobStatus{}, false
}

// reassociate scans the whole category for a job tagged with this request's
// id or ASIN. Covers client restarts, changed hashes, and renamed jobs; the
// category itself is re-read from current settings each pass.
func (m *Monitor) reassociate(ctx context.Context, req *domain.BookRequest) (backend.JobStatus, bool) {
	jobs, err := m.torrents.ListJobs(ctx, m.category)
	if err != nil {
		m.logger.Warn("category scan failed", "request_id", req.ID, "error", err)
		return backend.JobStatus{}, false
	}

	for _, job := range jobs {
		if !jobMatches(job, req) {
			continue
		}
		m.logger.Info("re-associated download job",
			"request_id", req.ID, "old_ref", req.JobRef, "new_ref", job.Ref.ID)
		req.JobRef = job.Ref.ID
		if err := m.store.UpdateRequest(ctx, req); err != nil {
			m.logger.Error("persist re-associated job failed",
				"request_id", req.ID, "error", err)
		}
		return job.Status, true
	}
	return backend.JobStatus{}, false
}

// jobMatches reports whether a listed job belongs to a request, by request
// tag first and ASIN tag second. Jobs already reconciled are never matched
// again.
func jobMatches(job backend.Job, req *domain.BookRequest) bool {
	if slices.Contains(job.Tags, backend.ProcessedTag) {
		return false
	}
	if slices.Contains(job.Tags, backend.RequestTag(req.ID)) {
		return true
	}
	return req.ASIN != "" && slices.Contains(job.Tags, backend.ASINTag(req.ASIN))
}

// complete marks a request Downloaded, tags the finished job, kicks a
// library rescan, and emits book_downloaded.
func (m *Monitor) complete(ctx context.Context, req *domain.BookRequest) {
	if err := req.Transition(domain.StatusDownloaded); err != nil {
		m.logger.Warn("cannot complete request", "request_id", req.ID, "error", err)
		return
	}
	if err := m.store.UpdateRequest(ctx, req); err != nil {
		m.logger.Error("persist downloaded state failed", "request_id", req.ID, "error", err)
		return
	}

	m.logger.Info("download complete", "request_id", req.ID, "title", req.Title)

	if req.BackendUsed == domain.BackendProwlarrDirect && m.torrents != nil {
		ref := backend.JobRef{ID: req.JobRef, Backend: req.BackendUsed}
		if err := m.torrents.MarkProcessed(ctx, ref); err != nil {
			m.logger.Warn("mark processed failed", "request_id", req.ID, "error", err)
		}
	}
	if m.library != nil {
		m.library.TriggerScan(ctx)
	}

	m.notifier.Dispatch(ctx, domain.RequestEvent(domain.EventBookDownloaded, req, sourceVars(req)))
	m.events.Emit(sse.NewRequestUpdatedEvent(req))
}

func (m *Monitor) fail(ctx context.Context, req *domain.BookRequest, detail string) {
	if err := req.Fail(domain.ReasonDownloadTimeout, detail); err != nil {
		m.logger.Warn("cannot fail request", "request_id", req.ID, "error", err)
		return
	}
	if err := m.store.UpdateRequest(ctx, req); err != nil {
		m.logger.Error("persist failure state failed", "request_id", req.ID, "error", err)
		return
	}

	m.logger.Warn("download failed", "request_id", req.ID, "detail", detail)

	vars := sourceVars(req)
	vars["errorReason"] = string(domain.ReasonDownloadTimeout)
	vars["errorStatus"] = detail
	m.notifier.Dispatch(ctx, domain.RequestEvent(domain.EventBookFailed, req, vars))
	m.events.Emit(sse.NewRequestUpdatedEvent(req))
}

// sourceVars exposes the dispatched release to notification templates.
func sourceVars(req *domain.BookRequest) map[string]string {
	vars := map[string]string{}
	if c := req.SelectedCandidate; c != nil {
		vars["sourceTitle"] = c.Title
		vars["sourceIndexer"] = c.IndexerName
		vars["sourceProtocol"] = string(c.Protocol)
		vars["sourceSizeMB"] = fmt.Sprintf("%.0f", c.SizeMB)
	}
	return vars
}
