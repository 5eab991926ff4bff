package fulfillment

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableseek/fableseek-server/internal/backend"
	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/store"
)

type fakeTorrentClient struct {
	mu        sync.Mutex
	statuses  map[string]backend.JobStatus
	jobs      []backend.Job
	processed []string
}

func (f *fakeTorrentClient) GetStatus(_ context.Context, ref backend.JobRef) (backend.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[ref.ID]
	if !ok {
		return backend.JobStatus{}, errors.NotFoundf("job %s not found", ref.ID)
	}
	return status, nil
}

func (f *fakeTorrentClient) ListJobs(_ context.Context, category string) ([]backend.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs, nil
}

func (f *fakeTorrentClient) MarkProcessed(_ context.Context, ref backend.JobRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, ref.ID)
	return nil
}

type fakeLibrary struct {
	scans int
}

func (f *fakeLibrary) TriggerScan(context.Context) { f.scans++ }

type monitorDeps struct {
	store    store.Store
	torrents *fakeTorrentClient
	library  *fakeLibrary
	notifier *fakeNotifier
	events   *fakeEvents
}

func newMonitorFixture(t *testing.T) (*Monitor, *monitorDeps) {
	t.Helper()
	deps := &monitorDeps{
		store:    newTestStore(t),
		torrents: &fakeTorrentClient{statuses: map[string]backend.JobStatus{}},
		library:  &fakeLibrary{},
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
	}
	m := NewMonitor(deps.store, nil, deps.torrents, "fableseek", deps.library,
		deps.notifier, deps.events, fulfillmentConfig(), slog.New(slog.DiscardHandler))
	return m, deps
}

func downloadingRequest() *domain.BookRequest {
	req := approvedRequest()
	req.Status = domain.StatusDownloading
	req.BackendUsed = domain.BackendProwlarrDirect
	req.JobRef = "hash1"
	req.SelectedCandidate = &domain.Candidate{
		GUID:        "g1",
		Title:       "Frank Herbert - Dune [FLAC]",
		IndexerName: "AudioBay",
		Protocol:    domain.ProtocolTorrent,
		SizeMB:      512,
		InfoHash:    "hash1",
	}
	return req
}

func TestMonitor_CompletionMarksDownloaded(t *testing.T) {
	m, deps := newMonitorFixture(t)
	ctx := context.Background()
	require.NoError(t, deps.store.CreateRequest(ctx, downloadingRequest()))
	deps.torrents.statuses["hash1"] = backend.JobStatus{Done: true, Progress: 1, State: "uploading"}

	m.poll(ctx)

	got, err := deps.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloaded, got.Status)
	assert.Equal(t, []string{"hash1"}, deps.torrents.processed)
	assert.Equal(t, 1, deps.library.scans)
	assert.Equal(t, []domain.EventType{domain.EventBookDownloaded}, deps.notifier.types())
}

func TestMonitor_DownloadedEventCarriesSource(t *testing.T) {
	m, deps := newMonitorFixture(t)
	ctx := context.Background()
	require.NoError(t, deps.store.CreateRequest(ctx, downloadingRequest()))
	deps.torrents.statuses["hash1"] = backend.JobStatus{Done: true}

	m.poll(ctx)

	require.Len(t, deps.notifier.events, 1)
	vars := deps.notifier.events[0].Vars
	assert.Equal(t, "Frank Herbert - Dune [FLAC]", vars["sourceTitle"])
	assert.Equal(t, "AudioBay", vars["sourceIndexer"])
	assert.Equal(t, "torrent", vars["sourceProtocol"])
	assert.Equal(t, "512", vars["sourceSizeMB"])
}

func TestMonitor_ReassociatesByTagScan(t *testing.T) {
	m, deps := newMonitorFixture(t)
	ctx := context.Background()
	require.NoError(t, deps.store.CreateRequest(ctx, downloadingRequest()))

	// The recorded hash is gone (client restarted), but the category scan
	// finds a job tagged with the request's ASIN.
	deps.torrents.jobs = []backend.Job{
		{
			Ref:    backend.JobRef{ID: "other", Backend: domain.BackendProwlarrDirect},
			Name:   "Unrelated",
			Tags:   []string{"asin:B999OTHER"},
			Status: backend.JobStatus{Done: true},
		},
		{
			Ref:    backend.JobRef{ID: "newhash", Backend: domain.BackendProwlarrDirect},
			Name:   "Dune",
			Tags:   []string{"req:req_1", "asin:B000DUNE"},
			Status: backend.JobStatus{Progress: 0.4, State: "downloading"},
		},
	}

	m.poll(ctx)

	got, err := deps.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
	assert.Equal(t, "newhash", got.JobRef)

	// Next poll sees the re-associated job complete.
	deps.torrents.statuses["newhash"] = backend.JobStatus{Done: true}
	m.poll(ctx)

	got, err = deps.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloaded, got.Status)
}

func TestMonitor_ProcessedJobsNeverRematch(t *testing.T) {
	req := downloadingRequest()
	job := backend.Job{
		Ref:  backend.JobRef{ID: "old", Backend: domain.BackendProwlarrDirect},
		Tags: []string{"req:req_1", backend.ProcessedTag},
	}
	assert.False(t, jobMatches(job, req))
}

func TestMonitor_FailedStateFailsRequest(t *testing.T) {
	m, deps := newMonitorFixture(t)
	ctx := context.Background()
	require.NoError(t, deps.store.CreateRequest(ctx, downloadingRequest()))
	deps.torrents.statuses["hash1"] = backend.JobStatus{Failed: true, State: "missingFiles"}

	m.poll(ctx)

	got, err := deps.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.ReasonDownloadTimeout, got.FailureReason)
	assert.Equal(t, []domain.EventType{domain.EventBookFailed}, deps.notifier.types())
	require.Len(t, deps.notifier.events, 1)
	assert.Contains(t, deps.notifier.events[0].Vars["errorStatus"], "missingFiles")
}

func TestMonitor_TimeoutFailsRequest(t *testing.T) {
	m, deps := newMonitorFixture(t)
	m.timeout = time.Millisecond
	ctx := context.Background()

	req := downloadingRequest()
	req.UpdatedAt = time.Now().Add(-time.Hour)
	req.DownloadProgress = 0.1
	require.NoError(t, deps.store.CreateRequest(ctx, req))
	// Job is still known but has not moved since the last observation.
	deps.torrents.statuses["hash1"] = backend.JobStatus{Progress: 0.1, State: "stalled"}

	m.poll(ctx)

	got, err := deps.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.ReasonDownloadTimeout, got.FailureReason)
	assert.True(t, got.FailureReason.Retryable())
}

func TestMonitor_ProgressResetsStallTimeout(t *testing.T) {
	m, deps := newMonitorFixture(t)
	m.timeout = time.Minute
	ctx := context.Background()

	// Long past the timeout, but the transfer is still advancing.
	req := downloadingRequest()
	req.UpdatedAt = time.Now().Add(-time.Hour)
	req.DownloadProgress = 0.2
	require.NoError(t, deps.store.CreateRequest(ctx, req))
	deps.torrents.statuses["hash1"] = backend.JobStatus{Progress: 0.4, State: "downloading"}

	m.poll(ctx)

	got, err := deps.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
	assert.InDelta(t, 0.4, got.DownloadProgress, 0.001)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)
	assert.Empty(t, deps.notifier.types())
}

func TestMonitor_InFlightJobWaits(t *testing.T) {
	m, deps := newMonitorFixture(t)
	ctx := context.Background()
	require.NoError(t, deps.store.CreateRequest(ctx, downloadingRequest()))
	deps.torrents.statuses["hash1"] = backend.JobStatus{Progress: 0.6, State: "downloading"}

	m.poll(ctx)

	got, err := deps.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
	assert.Empty(t, deps.notifier.types())
}
