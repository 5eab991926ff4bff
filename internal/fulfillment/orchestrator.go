// Package fulfillment drives book requests from approval to a terminal
// state: searching indexers, ranking candidates, dispatching the winner to a
// download backend, and monitoring the download to completion.
package fulfillment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fableseek/fableseek-server/internal/backend"
	"github.com/fableseek/fableseek-server/internal/candidate"
	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/indexer"
	"github.com/fableseek/fableseek-server/internal/sse"
	"github.com/fableseek/fableseek-server/internal/store"
)

const (
	queueSize = 256

	// rankedCacheTTL bounds how long a ranked candidate list is served for
	// manual selection before a fresh search is forced.
	rankedCacheTTL = 30 * time.Minute
)

// Searcher queries the indexer aggregation layer. Satisfied by
// indexer.Client.
type Searcher interface {
	Search(ctx context.Context, query string, refresh bool) ([]indexer.RawRelease, error)
}

// Notifier fans lifecycle events out to configured webhooks. Satisfied by
// notify.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent)
}

// Events streams request changes to connected clients. Satisfied by
// sse.Manager.
type Events interface {
	Emit(event sse.Event)
}

// rankedEntry caches one search's ranked output for manual selection.
type rankedEntry struct {
	candidates []domain.ScoredCandidate
	ambiguous  bool
	at         time.Time
}

// Orchestrator is the per-request fulfillment state machine. A fixed worker
// pool runs one attempt per request at a time; triggering an already active
// request is a no-op.
type Orchestrator struct {
	store     store.Store
	search    Searcher
	primary   backend.Primary // nil when the managed backend is not configured
	secondary backend.Secondary
	notifier  Notifier
	events    Events
	weights   candidate.Weights
	logger    *slog.Logger

	workers       int
	retryInterval time.Duration

	queue chan string

	mu     sync.Mutex
	active map[string]context.CancelFunc

	rankedMu sync.Mutex
	ranked   map[string]rankedEntry

	wg sync.WaitGroup
}

// NewOrchestrator wires the fulfillment pipeline. primary may be nil; every
// dispatch then goes straight to the secondary backend.
func NewOrchestrator(
	s store.Store,
	search Searcher,
	primary backend.Primary,
	secondary backend.Secondary,
	notifier Notifier,
	events Events,
	cfg config.FulfillmentConfig,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:         s,
		search:        search,
		primary:       primary,
		secondary:     secondary,
		notifier:      notifier,
		events:        events,
		weights:       candidate.DefaultWeights(),
		logger:        logger,
		workers:       cfg.Workers,
		retryInterval: cfg.RetryInterval,
		queue:         make(chan string, queueSize),
		active:        make(map[string]context.CancelFunc),
		ranked:        make(map[string]rankedEntry),
	}
}

// Run starts the worker pool and the retry scheduler, resumes attempts that
// were interrupted by a restart, and blocks until ctx is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	for range o.workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.worker(ctx)
		}()
	}

	o.resume(ctx)

	ticker := time.NewTicker(o.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.retryFailed(ctx)
			o.retryStalledSearches(ctx)
		case <-ctx.Done():
			o.wg.Wait()
			return
		}
	}
}

// Trigger queues a fulfillment attempt for the request. Triggering a request
// that is already searching or downloading is a no-op.
func (o *Orchestrator) Trigger(requestID string) {
	o.mu.Lock()
	_, busy := o.active[requestID]
	o.mu.Unlock()
	if busy {
		o.logger.Debug("fulfillment already active", "request_id", requestID)
		return
	}

	select {
	case o.queue <- requestID:
	default:
		o.logger.Warn("fulfillment queue full, dropping trigger", "request_id", requestID)
	}
}

// Cancel aborts the in-flight attempt for a request, if any. Any backend
// response that arrives after cancellation is discarded.
func (o *Orchestrator) Cancel(requestID string) {
	o.mu.Lock()
	cancel, ok := o.active[requestID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	o.rankedMu.Lock()
	delete(o.ranked, requestID)
	o.rankedMu.Unlock()
}

// GetRankedCandidates returns the ordered candidate list for a request,
// running a search if no fresh one is cached. The second return reports
// whether the top two candidates are too close to call automatically.
func (o *Orchestrator) GetRankedCandidates(ctx context.Context, requestID string) ([]domain.ScoredCandidate, bool, error) {
	if entry, ok := o.cachedRanked(requestID); ok {
		return entry.candidates, entry.ambiguous, nil
	}

	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	settings, err := o.store.GetDownloadSettings(ctx)
	if err != nil {
		return nil, false, err
	}

	ranked, ambiguous, err := o.produceCandidates(ctx, req, settings)
	if err != nil {
		return nil, false, err
	}
	o.cacheRanked(requestID, ranked, ambiguous)
	return ranked, ambiguous, nil
}

// SelectCandidate dispatches a user-picked candidate directly to the
// secondary backend, bypassing ranking order.
func (o *Orchestrator) SelectCandidate(ctx context.Context, requestID, guid string) error {
	o.mu.Lock()
	_, busy := o.active[requestID]
	o.mu.Unlock()
	if busy {
		return errors.Conflict("fulfillment attempt in progress")
	}

	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() || req.Status == domain.StatusDownloading {
		return errors.Conflictf("request is %s", req.Status)
	}

	ranked, _, err := o.GetRankedCandidates(ctx, requestID)
	if err != nil {
		return err
	}
	var picked *domain.Candidate
	for _, sc := range ranked {
		if sc.Candidate.GUID == guid {
			picked = sc.Candidate
			break
		}
	}
	if picked == nil {
		return errors.NotFoundf("candidate %s not in ranked results", guid)
	}

	if req.Status != domain.StatusSearching {
		if err := req.Transition(domain.StatusSearching); err != nil {
			return errors.Conflictf("request is %s", req.Status)
		}
	}

	ref, err := o.secondary.Dispatch(ctx, req, picked)
	if err != nil {
		o.failRequest(ctx, req, domain.ReasonBackendAddFailed, err.Error())
		return err
	}
	return o.recordDispatch(ctx, req, picked, ref)
}

func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case id := <-o.queue:
			o.attempt(ctx, id)
		case <-ctx.Done():
			return
		}
	}
}

// attempt runs one full fulfillment pass for a request. At most one attempt
// per request runs at a time; a concurrent trigger returns immediately.
func (o *Orchestrator) attempt(parent context.Context, requestID string) {
	o.mu.Lock()
	if _, busy := o.active[requestID]; busy {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	o.active[requestID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, requestID)
		o.mu.Unlock()
		cancel()
	}()

	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		o.logger.Debug("fulfillment target gone", "request_id", requestID, "error", err)
		return
	}

	switch req.Status {
	case domain.StatusSearching:
		// Resuming an attempt interrupted by a restart.
	case domain.StatusApproved, domain.StatusFailed:
		if err := req.Transition(domain.StatusSearching); err != nil {
			o.logger.Warn("cannot start fulfillment", "request_id", requestID, "error", err)
			return
		}
		req.SelectedCandidate = nil
		req.BackendUsed = ""
		req.JobRef = ""
		if err := o.store.UpdateRequest(ctx, req); err != nil {
			o.logger.Error("persist searching state failed", "request_id", requestID, "error", err)
			return
		}
		o.events.Emit(sse.NewRequestUpdatedEvent(req))
	default:
		o.logger.Debug("fulfillment trigger ignored", "request_id", requestID, "status", req.Status)
		return
	}

	settings, err := o.store.GetDownloadSettings(ctx)
	if err != nil {
		// Local store fault. The request stays in Searching and the retry
		// scheduler picks it up again.
		o.logger.Error("load settings failed", "request_id", requestID, "error", err)
		return
	}

	ranked, ambiguous, err := o.produceCandidates(ctx, req, settings)
	if ctx.Err() != nil {
		// Request deleted or server stopping while the search was in
		// flight. Nothing has been dispatched; drop the response.
		return
	}
	if err != nil {
		// Indexer aggregation is down, not the request. It stays in
		// Searching and the retry scheduler re-attempts it.
		o.logger.Warn("candidate search failed, will retry",
			"request_id", requestID, "error", err)
		return
	}
	if len(ranked) == 0 {
		o.failRequest(ctx, req, domain.ReasonNoCandidatesFound, "no release matched the request")
		return
	}

	o.cacheRanked(requestID, ranked, ambiguous)

	if !settings.AutoDownload || !req.RequestedGroup.CanAutoDownload() {
		o.logger.Info("ranked candidates ready, awaiting manual selection",
			"request_id", requestID, "candidates", len(ranked), "ambiguous", ambiguous)
		return
	}
	if ambiguous {
		o.logger.Info("top candidates are close, proceeding with ranked order",
			"request_id", requestID)
	}

	o.dispatch(ctx, req, ranked[0].Candidate)
}

// dispatch tries the primary backend, falling back to the secondary exactly
// once. A secondary failure is terminal for the attempt.
func (o *Orchestrator) dispatch(ctx context.Context, req *domain.BookRequest, top *domain.Candidate) {
	var (
		ref backend.JobRef
		err error
	)

	// The managed backend needs an author to identify the book. Manual
	// requests without one go straight to direct dispatch.
	usePrimary := o.primary != nil && len(req.Authors) > 0

	if usePrimary {
		ref, err = o.primary.AddAndSearch(ctx, req)
		if err != nil {
			o.logger.Warn("primary backend dispatch failed, falling back",
				"request_id", req.ID, "error", err)
		}
	}
	if !usePrimary || err != nil {
		if ctx.Err() != nil {
			return
		}
		ref, err = o.secondary.Dispatch(ctx, req, top)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.failRequest(ctx, req, domain.ReasonBackendAddFailed, err.Error())
			return
		}
	}

	if ctx.Err() != nil {
		// Canceled after the backend accepted the job. The external job is
		// left running; only local tracking is dropped.
		o.logger.Info("fulfillment canceled after dispatch, detaching",
			"request_id", req.ID, "job_ref", ref.ID)
		return
	}

	if err := o.recordDispatch(ctx, req, top, ref); err != nil {
		o.logger.Warn("record dispatch failed", "request_id", req.ID, "error", err)
	}
}

// recordDispatch persists the selected candidate and hands the request to
// the monitor. The request is re-fetched first so a dispatch response never
// resurrects a deleted request.
func (o *Orchestrator) recordDispatch(ctx context.Context, req *domain.BookRequest, c *domain.Candidate, ref backend.JobRef) error {
	if _, err := o.store.GetRequest(ctx, req.ID); err != nil {
		return err
	}

	req.SelectedCandidate = c
	req.BackendUsed = ref.Backend
	req.JobRef = ref.ID
	if err := req.Transition(domain.StatusDownloading); err != nil {
		return err
	}
	if err := o.store.UpdateRequest(ctx, req); err != nil {
		return err
	}

	o.logger.Info("candidate dispatched",
		"request_id", req.ID,
		"backend", ref.Backend,
		"job_ref", ref.ID,
		"source", c.Title,
		"indexer", c.IndexerName)
	o.events.Emit(sse.NewRequestUpdatedEvent(req))
	return nil
}

func (o *Orchestrator) produceCandidates(ctx context.Context, req *domain.BookRequest, settings domain.DownloadSettings) ([]domain.ScoredCandidate, bool, error) {
	raws, err := o.search.Search(ctx, candidate.SearchQuery(req), false)
	if err != nil {
		return nil, false, err
	}

	candidates := candidate.NormalizeAll(raws, o.logger)
	matched := candidate.Match(req, candidates, settings)
	ranked := candidate.Rank(matched, settings, o.weights)

	o.logger.Info("candidate pipeline complete",
		"request_id", req.ID,
		"raw", len(raws),
		"normalized", len(candidates),
		"matched", len(matched),
		"ranked", len(ranked))
	return ranked, candidate.Ambiguous(ranked, o.weights), nil
}

// failRequest moves a request to Failed and emits book_failed. Failures are
// isolated per request; nothing here propagates to other attempts.
func (o *Orchestrator) failRequest(ctx context.Context, req *domain.BookRequest, reason domain.FailureReason, detail string) {
	if err := req.Fail(reason, detail); err != nil {
		o.logger.Warn("cannot fail request", "request_id", req.ID, "error", err)
		return
	}
	if err := o.store.UpdateRequest(ctx, req); err != nil {
		o.logger.Error("persist failure state failed", "request_id", req.ID, "error", err)
		return
	}

	o.logger.Warn("fulfillment failed",
		"request_id", req.ID, "reason", reason, "detail", detail)
	o.notifier.Dispatch(ctx, domain.RequestEvent(domain.EventBookFailed, req, map[string]string{
		"errorReason": string(reason),
		"errorStatus": detail,
	}))
	o.events.Emit(sse.NewRequestUpdatedEvent(req))
}

// resume re-queues requests that were mid-search when the process stopped.
// Downloading requests are picked up by the monitor instead.
func (o *Orchestrator) resume(ctx context.Context) {
	stuck, err := o.store.ListRequestsByStatus(ctx, domain.StatusSearching)
	if err != nil {
		o.logger.Error("resume scan failed", "error", err)
		return
	}
	for _, req := range stuck {
		o.logger.Info("resuming interrupted fulfillment", "request_id", req.ID)
		o.Trigger(req.ID)
	}
}

// retryFailed re-queues failed requests whose reason is retryable.
func (o *Orchestrator) retryFailed(ctx context.Context) {
	failed, err := o.store.ListRequestsByStatus(ctx, domain.StatusFailed)
	if err != nil {
		o.logger.Error("retry scan failed", "error", err)
		return
	}
	for _, req := range failed {
		if !req.FailureReason.Retryable() {
			continue
		}
		o.logger.Info("retrying failed request",
			"request_id", req.ID, "reason", req.FailureReason)
		o.Trigger(req.ID)
	}
}

// retryStalledSearches re-queues Searching requests with no active attempt.
// Covers requests parked there after a search failure; requests awaiting
// manual selection get re-ranked, which is harmless.
func (o *Orchestrator) retryStalledSearches(ctx context.Context) {
	searching, err := o.store.ListRequestsByStatus(ctx, domain.StatusSearching)
	if err != nil {
		o.logger.Error("stalled search scan failed", "error", err)
		return
	}
	for _, req := range searching {
		o.mu.Lock()
		_, busy := o.active[req.ID]
		o.mu.Unlock()
		if busy {
			continue
		}
		o.logger.Info("re-attempting stalled search", "request_id", req.ID)
		o.Trigger(req.ID)
	}
}

func (o *Orchestrator) cachedRanked(requestID string) (rankedEntry, bool) {
	o.rankedMu.Lock()
	defer o.rankedMu.Unlock()
	entry, ok := o.ranked[requestID]
	if !ok || time.Since(entry.at) > rankedCacheTTL {
		return rankedEntry{}, false
	}
	return entry, true
}

func (o *Orchestrator) cacheRanked(requestID string, ranked []domain.ScoredCandidate, ambiguous bool) {
	o.rankedMu.Lock()
	defer o.rankedMu.Unlock()
	o.ranked[requestID] = rankedEntry{candidates: ranked, ambiguous: ambiguous, at: time.Now()}
}
