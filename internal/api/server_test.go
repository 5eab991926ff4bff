package api

import (
	"context"
	"encoding/json/v2"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/http/response"
	"github.com/fableseek/fableseek-server/internal/metadata/audible"
	"github.com/fableseek/fableseek-server/internal/service"
	"github.com/fableseek/fableseek-server/internal/sse"
	"github.com/fableseek/fableseek-server/internal/store"
	"github.com/fableseek/fableseek-server/internal/store/sqlite"
)

type fakeFulfiller struct {
	triggered []string
	cancelled []string
	ranked    []domain.ScoredCandidate
	selected  []string
}

func (f *fakeFulfiller) Trigger(requestID string) { f.triggered = append(f.triggered, requestID) }
func (f *fakeFulfiller) Cancel(requestID string)  { f.cancelled = append(f.cancelled, requestID) }

func (f *fakeFulfiller) GetRankedCandidates(ctx context.Context, requestID string) ([]domain.ScoredCandidate, bool, error) {
	return f.ranked, false, nil
}

func (f *fakeFulfiller) SelectCandidate(ctx context.Context, requestID, guid string) error {
	f.selected = append(f.selected, guid)
	return nil
}

type noLibrary struct{}

func (noLibrary) Configured() bool { return false }

func (noLibrary) Exists(ctx context.Context, asin, title string, authors []string) (bool, error) {
	return false, nil
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(ctx context.Context, event domain.NotificationEvent) {}

type noopEvents struct{}

func (noopEvents) Emit(event sse.Event) {}

type recordingSender struct {
	sent int
}

func (r *recordingSender) Send(ctx context.Context, n *domain.Notification, event domain.NotificationEvent) error {
	r.sent++
	return nil
}

type fakeCatalog struct {
	results []audible.SearchResult
}

func (f *fakeCatalog) Search(ctx context.Context, region audible.Region, params audible.SearchParams) ([]audible.SearchResult, error) {
	return f.results, nil
}

func (f *fakeCatalog) GetBook(ctx context.Context, region audible.Region, asin string) (*audible.SearchResult, error) {
	for i := range f.results {
		if f.results[i].ASIN == asin {
			return &f.results[i], nil
		}
	}
	return nil, errors.NotFoundf("no catalog entry for ASIN %s", asin)
}

type serverFixture struct {
	store     store.Store
	fulfiller *fakeFulfiller
	sender    *recordingSender
	catalog   *fakeCatalog
}

func newTestServer(t *testing.T) (*Server, *serverFixture) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	fx := &serverFixture{
		store:     s,
		fulfiller: &fakeFulfiller{},
		sender:    &recordingSender{},
		catalog:   &fakeCatalog{},
	}

	requests := service.NewRequestService(s, fx.fulfiller, noLibrary{}, noopNotifier{}, noopEvents{}, logger)
	settings := service.NewSettingsService(s, logger)
	notifications := service.NewNotificationService(s, fx.sender, logger)
	manager := sse.NewManager(logger)

	return NewServer(s, requests, settings, notifications, fx.catalog, manager, logger), fx
}

func doRequest(t *testing.T, srv *Server, method, path, body, requester, group string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if requester != "" {
		req.Header.Set("X-Requester", requester)
		req.Header.Set("X-Requester-Group", group)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/health", "", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestRequests_MissingIdentityHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/requests/", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateRequest(t *testing.T) {
	srv, fx := newTestServer(t)

	body := `{"asin":"B000DUNE00","title":"Dune","authors":["Frank Herbert"]}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/requests/", body, "paul", "trusted")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Dune", data["title"])
	assert.Equal(t, string(domain.StatusApproved), data["status"])
	assert.Len(t, fx.fulfiller.triggered, 1)
}

func TestCreateRequest_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/requests/", `{"title":`, "paul", "trusted")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRequest_ValidationErrorSurfaces(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/requests/", `{"asin":"B000DUNE00"}`, "paul", "trusted")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env := decodeEnvelope(t, w)
	assert.Contains(t, env.Error, "title")
}

func TestListRequests_StatusFilter(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"asin":"B000DUNE00","title":"Dune"}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/requests/", body, "alia", "untrusted")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/requests/?status=pending", "", "alia", "untrusted")
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	list, ok := env.Data.([]any)
	require.True(t, ok)
	assert.Len(t, list, 1)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/requests/?status=downloaded", "", "alia", "untrusted")
	require.Equal(t, http.StatusOK, w.Code)
	env = decodeEnvelope(t, w)
	assert.Nil(t, env.Data)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/requests/?status=bogus", "", "alia", "untrusted")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRequest_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/requests/req_missing", "", "paul", "trusted")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApprove_RequiresAdmin(t *testing.T) {
	srv, fx := newTestServer(t)

	body := `{"asin":"B000DUNE00","title":"Dune"}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/requests/", body, "alia", "untrusted")
	require.Equal(t, http.StatusCreated, w.Code)
	env := decodeEnvelope(t, w)
	id := env.Data.(map[string]any)["id"].(string)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/requests/"+id+"/approve", "", "alia", "untrusted")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, fx.fulfiller.triggered)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/requests/"+id+"/approve", "", "admin", "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{id}, fx.fulfiller.triggered)
}

func TestDeny_ThenApproveConflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"asin":"B000DUNE00","title":"Dune"}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/requests/", body, "alia", "untrusted")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeEnvelope(t, w).Data.(map[string]any)["id"].(string)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/requests/"+id+"/deny", "", "admin", "admin")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/requests/"+id+"/approve", "", "admin", "admin")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteRequest_CancelsWork(t *testing.T) {
	srv, fx := newTestServer(t)

	body := `{"asin":"B000DUNE00","title":"Dune"}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/requests/", body, "paul", "trusted")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeEnvelope(t, w).Data.(map[string]any)["id"].(string)

	w = doRequest(t, srv, http.MethodDelete, "/api/v1/requests/"+id, "", "paul", "trusted")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{id}, fx.fulfiller.cancelled)
}

func TestSelectCandidate(t *testing.T) {
	srv, fx := newTestServer(t)

	body := `{"asin":"B000DUNE00","title":"Dune"}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/requests/", body, "paul", "trusted")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeEnvelope(t, w).Data.(map[string]any)["id"].(string)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/requests/"+id+"/select", `{"guid":"guid-1"}`, "paul", "trusted")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"guid-1"}, fx.fulfiller.selected)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/requests/"+id+"/select", `{}`, "paul", "trusted")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadSettings_AdminOnly(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/settings/download", "", "paul", "trusted")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/settings/download", "", "admin", "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "auto_download")
}

func TestDownloadSettings_UpdateRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	settings := domain.DefaultDownloadSettings()
	settings.MinSeeders = 3
	payload, err := json.Marshal(settings)
	require.NoError(t, err)

	w := doRequest(t, srv, http.MethodPut, "/api/v1/settings/download", string(payload), "admin", "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(t, srv, http.MethodGet, "/api/v1/settings/download", "", "admin", "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"min_seeders":3`)
}

func TestDownloadSettings_RejectsInvalid(t *testing.T) {
	srv, _ := newTestServer(t)

	settings := domain.DefaultDownloadSettings()
	settings.MinSeeders = -1
	payload, err := json.Marshal(settings)
	require.NoError(t, err)

	w := doRequest(t, srv, http.MethodPut, "/api/v1/settings/download", string(payload), "admin", "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotifications_CRUDAndTest(t *testing.T) {
	srv, fx := newTestServer(t)

	body := `{"name":"Discord","url":"https://discord.test/webhook","event":"book_downloaded","body_type":"json","body":"{\"content\":\"{bookTitle}\"}","enabled":true}`
	w := doRequest(t, srv, http.MethodPost, "/api/v1/notifications/", body, "admin", "admin")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeEnvelope(t, w).Data.(map[string]any)["id"].(string)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/notifications/", "", "admin", "admin")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/notifications/"+id+"/test", "", "admin", "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fx.sender.sent)

	w = doRequest(t, srv, http.MethodDelete, "/api/v1/notifications/"+id, "", "admin", "admin")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/notifications/"+id, "", "admin", "admin")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotifications_NonAdminForbidden(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/notifications/", "", "paul", "trusted")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSearchCatalog(t *testing.T) {
	srv, fx := newTestServer(t)
	fx.catalog.results = []audible.SearchResult{
		{ASIN: "B000DUNE00", Title: "Dune", Authors: []string{"Frank Herbert"}},
	}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/search/?q=dune", "", "paul", "untrusted")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env := decodeEnvelope(t, w)
	results := env.Data.([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "Dune", results[0].(map[string]any)["title"])
}

func TestSearchCatalog_RequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/search/", "", "paul", "untrusted")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/search/?q=dune&limit=zero", "", "paul", "untrusted")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCatalogBook(t *testing.T) {
	srv, fx := newTestServer(t)
	fx.catalog.results = []audible.SearchResult{
		{ASIN: "B000DUNE00", Title: "Dune"},
	}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/search/B000DUNE00", "", "paul", "untrusted")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Dune", decodeEnvelope(t, w).Data.(map[string]any)["title"])

	w = doRequest(t, srv, http.MethodGet, "/api/v1/search/B000XXXXXX", "", "paul", "untrusted")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
