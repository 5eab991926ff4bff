package fulfillment

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableseek/fableseek-server/internal/backend"
	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/indexer"
	"github.com/fableseek/fableseek-server/internal/sse"
	"github.com/fableseek/fableseek-server/internal/store"
	"github.com/fableseek/fableseek-server/internal/store/sqlite"
)

type fakeSearcher struct {
	mu       sync.Mutex
	releases []indexer.RawRelease
	err      error
	calls    int
	// started is closed on first call; proceed gates the return so a test
	// can delete the request while the search is in flight.
	started chan struct{}
	proceed chan struct{}
}

func (f *fakeSearcher) Search(ctx context.Context, query string, refresh bool) ([]indexer.RawRelease, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first && f.started != nil {
		close(f.started)
	}
	if f.proceed != nil {
		select {
		case <-f.proceed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.releases, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePrimary struct {
	err   error
	ref   backend.JobRef
	calls atomic.Int32
}

func (f *fakePrimary) AddAndSearch(ctx context.Context, req *domain.BookRequest) (backend.JobRef, error) {
	f.calls.Add(1)
	if f.err != nil {
		return backend.JobRef{}, f.err
	}
	return f.ref, nil
}

type fakeSecondary struct {
	mu        sync.Mutex
	err       error
	calls     int
	lastGUIDs []string
}

func (f *fakeSecondary) Dispatch(ctx context.Context, req *domain.BookRequest, c *domain.Candidate) (backend.JobRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastGUIDs = append(f.lastGUIDs, c.GUID)
	if f.err != nil {
		return backend.JobRef{}, f.err
	}
	return backend.JobRef{ID: c.InfoHash, Backend: domain.BackendProwlarrDirect}, nil
}

func (f *fakeSecondary) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (f *fakeNotifier) Dispatch(_ context.Context, event domain.NotificationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EventType
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeEvents struct {
	mu     sync.Mutex
	events []sse.Event
}

func (f *fakeEvents) Emit(event sse.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fulfillmentConfig() config.FulfillmentConfig {
	return config.FulfillmentConfig{
		Workers:         2,
		PollInterval:    time.Minute,
		DownloadTimeout: 6 * time.Hour,
		RetryInterval:   15 * time.Minute,
	}
}

func approvedRequest() *domain.BookRequest {
	now := time.Now()
	return &domain.BookRequest{
		ID:             "req_1",
		ASIN:           "B000DUNE",
		Title:          "Dune",
		Authors:        []string{"Frank Herbert"},
		RequestedBy:    "paul",
		RequestedGroup: domain.GroupTrusted,
		Status:         domain.StatusApproved,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func intp(v int) *int { return &v }

func duneRelease(guid string, seeders int) indexer.RawRelease {
	return indexer.RawRelease{
		GUID:        guid,
		IndexerID:   3,
		Indexer:     "AudioBay",
		Title:       "Frank Herbert - Dune [FLAC]",
		Size:        512 << 20,
		Protocol:    "torrent",
		PublishDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		MagnetURL:   "magnet:?xt=urn:btih:abcdef0123456789abcdef0123456789abcdef01",
		Seeders:     intp(seeders),
		Leechers:    intp(2),
		Categories:  []indexer.Category{{ID: 3030, Name: "Audio/Audiobook"}},
	}
}

type orchestratorFixture struct {
	store     store.Store
	search    *fakeSearcher
	primary   *fakePrimary
	secondary *fakeSecondary
	notifier  *fakeNotifier
	events    *fakeEvents
	orch      *Orchestrator
}

func newFixture(t *testing.T, primary *fakePrimary) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		store:     newTestStore(t),
		search:    &fakeSearcher{releases: []indexer.RawRelease{duneRelease("g1", 50)}},
		primary:   primary,
		secondary: &fakeSecondary{},
		notifier:  &fakeNotifier{},
		events:    &fakeEvents{},
	}
	var p backend.Primary
	if primary != nil {
		p = primary
	}
	f.orch = NewOrchestrator(f.store, f.search, p, f.secondary, f.notifier, f.events,
		fulfillmentConfig(), slog.New(slog.DiscardHandler))
	return f
}

func TestAttempt_AutoDispatchPrimary(t *testing.T) {
	primary := &fakePrimary{ref: backend.JobRef{ID: "42", Backend: domain.BackendReadarr}}
	f := newFixture(t, primary)
	ctx := context.Background()
	require.NoError(t, f.store.CreateRequest(ctx, approvedRequest()))

	f.orch.attempt(ctx, "req_1")

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
	assert.Equal(t, domain.BackendReadarr, got.BackendUsed)
	assert.Equal(t, "42", got.JobRef)
	require.NotNil(t, got.SelectedCandidate)
	assert.Equal(t, "g1", got.SelectedCandidate.GUID)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, 0, f.secondary.callCount())
}

func TestAttempt_PrimaryFailureFallsBackOnce(t *testing.T) {
	primary := &fakePrimary{err: errors.BackendAddFailed(assert.AnError)}
	f := newFixture(t, primary)
	ctx := context.Background()
	require.NoError(t, f.store.CreateRequest(ctx, approvedRequest()))

	f.orch.attempt(ctx, "req_1")

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
	assert.Equal(t, domain.BackendProwlarrDirect, got.BackendUsed)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, 1, f.secondary.callCount())
	// The fallback dispatched the same top-ranked candidate.
	assert.Equal(t, []string{"g1"}, f.secondary.lastGUIDs)
}

func TestAttempt_SecondaryFailureIsTerminal(t *testing.T) {
	primary := &fakePrimary{err: errors.BackendAddFailed(assert.AnError)}
	f := newFixture(t, primary)
	f.secondary.err = errors.BackendAddFailed(assert.AnError)
	ctx := context.Background()
	require.NoError(t, f.store.CreateRequest(ctx, approvedRequest()))

	f.orch.attempt(ctx, "req_1")

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.ReasonBackendAddFailed, got.FailureReason)
	assert.Equal(t, 1, f.secondary.callCount())
	assert.Equal(t, []domain.EventType{domain.EventBookFailed}, f.notifier.types())
}

func TestAttempt_NoCandidatesFound(t *testing.T) {
	f := newFixture(t, nil)
	f.search.releases = nil
	ctx := context.Background()
	require.NoError(t, f.store.CreateRequest(ctx, approvedRequest()))

	f.orch.attempt(ctx, "req_1")

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.ReasonNoCandidatesFound, got.FailureReason)
	assert.False(t, got.FailureReason.Retryable())
}

func TestAttempt_IndexerOutageLeavesRequestSearching(t *testing.T) {
	f := newFixture(t, nil)
	f.search.err = errors.IndexerUnavailable(assert.AnError)
	ctx := context.Background()
	require.NoError(t, f.store.CreateRequest(ctx, approvedRequest()))

	f.orch.attempt(ctx, "req_1")

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSearching, got.Status, "an indexer outage does not fail the request")
	assert.Empty(t, got.FailureReason)
	assert.Empty(t, f.notifier.types())
	assert.Equal(t, 0, f.secondary.callCount())
}

type failingSettingsStore struct {
	store.Store
}

func (f *failingSettingsStore) GetDownloadSettings(context.Context) (domain.DownloadSettings, error) {
	return domain.DownloadSettings{}, assert.AnError
}

func TestAttempt_SettingsLoadFailureIsNotAFulfillmentFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.CreateRequest(ctx, approvedRequest()))

	orch := NewOrchestrator(&failingSettingsStore{Store: f.store}, f.search, nil, f.secondary,
		f.notifier, f.events, fulfillmentConfig(), slog.New(slog.DiscardHandler))
	orch.attempt(ctx, "req_1")

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSearching, got.Status)
	assert.Empty(t, got.FailureReason)
	assert.Empty(t, f.notifier.types())
	assert.Equal(t, 0, f.search.callCount())
}

func TestRetryStalledSearches_ReattemptsAfterOutage(t *testing.T) {
	f := newFixture(t, nil)
	f.search.err = errors.IndexerUnavailable(assert.AnError)
	ctx := context.Background()
	require.NoError(t, f.store.CreateRequest(ctx, approvedRequest()))

	f.orch.attempt(ctx, "req_1")

	// Outage over. The scheduler re-queues the stalled search and the next
	// attempt runs the pipeline to dispatch.
	f.search.err = nil
	f.orch.retryStalledSearches(ctx)

	select {
	case id := <-f.orch.queue:
		f.orch.attempt(ctx, id)
	default:
		t.Fatal("stalled search was not re-queued")
	}

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
	assert.Equal(t, 1, f.secondary.callCount())
}

func TestAttempt_UntrustedGroupStopsForManualSelection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := approvedRequest()
	req.RequestedGroup = domain.GroupUntrusted
	require.NoError(t, f.store.CreateRequest(ctx, req))

	f.orch.attempt(ctx, "req_1")

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSearching, got.Status)
	assert.Equal(t, 0, f.secondary.callCount())

	// The ranked list is surfaced without a second search.
	ranked, _, err := f.orch.GetRankedCandidates(ctx, "req_1")
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, 1, f.search.callCount())
}

func TestAttempt_DeleteDuringSearchSkipsDispatch(t *testing.T) {
	f := newFixture(t, nil)
	f.search.started = make(chan struct{})
	f.search.proceed = make(chan struct{})
	ctx := context.Background()
	require.NoError(t, f.store.CreateRequest(ctx, approvedRequest()))

	done := make(chan struct{})
	go func() {
		f.orch.attempt(ctx, "req_1")
		close(done)
	}()

	<-f.search.started
	require.NoError(t, f.store.DeleteRequest(ctx, "req_1"))
	f.orch.Cancel("req_1")
	close(f.search.proceed)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("attempt did not finish")
	}
	// No backend saw a dispatch for the deleted request.
	assert.Equal(t, 0, f.secondary.callCount())
}

func TestAttempt_IdempotentWhileActive(t *testing.T) {
	f := newFixture(t, nil)
	f.search.started = make(chan struct{})
	f.search.proceed = make(chan struct{})
	ctx := context.Background()
	require.NoError(t, f.store.CreateRequest(ctx, approvedRequest()))

	done := make(chan struct{})
	go func() {
		f.orch.attempt(ctx, "req_1")
		close(done)
	}()
	<-f.search.started

	// Second trigger while the first is still searching must not start a
	// new attempt.
	f.orch.attempt(ctx, "req_1")
	assert.Equal(t, 1, f.search.callCount())

	close(f.search.proceed)
	<-done
	assert.Equal(t, 1, f.secondary.callCount())
}

func TestAttempt_DownloadingIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := approvedRequest()
	req.Status = domain.StatusDownloading
	req.BackendUsed = domain.BackendProwlarrDirect
	req.JobRef = "abc"
	require.NoError(t, f.store.CreateRequest(ctx, req))

	f.orch.attempt(ctx, "req_1")

	assert.Equal(t, 0, f.search.callCount())
	assert.Equal(t, 0, f.secondary.callCount())
}

func TestSelectCandidate_DispatchesDirect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := approvedRequest()
	req.RequestedGroup = domain.GroupUntrusted
	require.NoError(t, f.store.CreateRequest(ctx, req))

	f.orch.attempt(ctx, "req_1")

	require.NoError(t, f.orch.SelectCandidate(ctx, "req_1", "g1"))

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
	assert.Equal(t, domain.BackendProwlarrDirect, got.BackendUsed)
	assert.Equal(t, 1, f.secondary.callCount())
}

func TestSelectCandidate_UnknownGUID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := approvedRequest()
	req.RequestedGroup = domain.GroupUntrusted
	require.NoError(t, f.store.CreateRequest(ctx, req))
	f.orch.attempt(ctx, "req_1")

	err := f.orch.SelectCandidate(ctx, "req_1", "nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRetryFailed_OnlyRetryableReasons(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	retryable := approvedRequest()
	retryable.ID = "req_retry"
	retryable.Status = domain.StatusFailed
	retryable.FailureReason = domain.ReasonIndexerUnavailable
	require.NoError(t, f.store.CreateRequest(ctx, retryable))

	terminal := approvedRequest()
	terminal.ID = "req_terminal"
	terminal.Status = domain.StatusFailed
	terminal.FailureReason = domain.ReasonNoCandidatesFound
	require.NoError(t, f.store.CreateRequest(ctx, terminal))

	f.orch.retryFailed(ctx)

	assert.Len(t, f.orch.queue, 1)
	assert.Equal(t, "req_retry", <-f.orch.queue)
}

func TestAttempt_NoAuthorsSkipsPrimary(t *testing.T) {
	primary := &fakePrimary{ref: backend.JobRef{ID: "42", Backend: domain.BackendReadarr}}
	f := newFixture(t, primary)
	ctx := context.Background()

	req := approvedRequest()
	req.ASIN = ""
	req.Authors = nil
	require.NoError(t, f.store.CreateRequest(ctx, req))

	f.orch.attempt(ctx, "req_1")

	got, err := f.store.GetRequest(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, got.Status)
	assert.Equal(t, domain.BackendProwlarrDirect, got.BackendUsed)
	assert.Equal(t, int32(0), primary.calls.Load())
	assert.Equal(t, 1, f.secondary.callCount())
}
