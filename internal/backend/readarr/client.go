package readarr

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fableseek/fableseek-server/internal/backend"
	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/normalize"
)

const (
	apiKeyHeader = "X-Api-Key"

	searchPath  = "/api/v1/search"
	bookPath    = "/api/v1/book"
	commandPath = "/api/v1/command"
	queuePath   = "/api/v1/queue"

	// Metadata fetches for new books and authors can take minutes on the
	// backend side, so the default timeout is generous.
	defaultTimeout = 180 * time.Second

	maxErrBodyLen = 500
)

// Client talks to the primary backend's v1 API.
type Client struct {
	baseURL         string
	apiKey          string
	qualityProfile  int
	metadataProfile int
	rootFolder      string
	http            *http.Client
	logger          *slog.Logger
}

// New creates a client from configuration.
func New(cfg config.ReadarrConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		qualityProfile:  cfg.QualityProfile,
		metadataProfile: cfg.MetadataProfile,
		rootFolder:      cfg.RootFolder,
		http:            &http.Client{Timeout: timeout},
		logger:          logger,
	}
}

// Configured reports whether a base URL has been set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// AddAndSearch locates the requested book in the backend's catalog, adds it
// when missing, and triggers an indexer search for it. The returned job ref
// carries the backend book id.
func (c *Client) AddAndSearch(ctx context.Context, req *domain.BookRequest) (backend.JobRef, error) {
	if !c.Configured() {
		return backend.JobRef{}, errors.BackendAddFailed(fmt.Errorf("readarr is not configured"))
	}

	results, err := c.search(ctx, req.Title)
	if err != nil {
		return backend.JobRef{}, err
	}
	if len(results) == 0 {
		return backend.JobRef{}, errors.BackendAddFailed(fmt.Errorf("no catalog results for %q", req.Title))
	}

	book := bestBookMatch(results, req)
	if book == nil {
		return backend.JobRef{}, errors.BackendAddFailed(fmt.Errorf("no catalog match for %q", req.Title))
	}

	// Already in the catalog: just trigger a search for it.
	if book.ID > 0 {
		if err := c.triggerBookSearch(ctx, book.ID); err != nil {
			return backend.JobRef{}, err
		}
		c.logger.Info("readarr search triggered for existing book",
			"request_id", req.ID, "book_id", book.ID)
		return jobRef(book.ID), nil
	}

	if book.Author == nil || book.Author.ForeignAuthorID == "" {
		return backend.JobRef{}, errors.BackendAddFailed(fmt.Errorf("catalog result for %q has no author data", req.Title))
	}

	book.Author.QualityProfileID = c.qualityProfile
	book.Author.MetadataProfileID = c.metadataProfile
	book.Author.RootFolderPath = c.rootFolder
	book.Author.Monitored = true
	book.Author.AddOptions = &AuthorAddOptions{Monitor: "all", SearchForMissingBooks: false}

	book.Monitored = true
	book.AddOptions = &BookAddOptions{SearchForNewBook: true}

	added, err := c.addBook(ctx, book)
	if err != nil {
		return backend.JobRef{}, err
	}
	c.logger.Info("readarr book added",
		"request_id", req.ID,
		"title", book.Title,
		"foreign_book_id", book.ForeignBookID,
		"book_id", added.ID,
	)
	return jobRef(added.ID), nil
}

// GetStatus reports a dispatched book's download progress. A book still in
// the active queue reports its progress; a book no longer queued reports
// done only when it has files on disk.
func (c *Client) GetStatus(ctx context.Context, ref backend.JobRef) (backend.JobStatus, error) {
	bookID, err := strconv.Atoi(ref.ID)
	if err != nil {
		return backend.JobStatus{}, fmt.Errorf("job ref %q is not a readarr book id", ref.ID)
	}

	page, err := c.queue(ctx)
	if err != nil {
		return backend.JobStatus{}, err
	}
	for _, rec := range page.Records {
		if rec.BookID != bookID {
			continue
		}
		status := backend.JobStatus{Name: rec.Title, State: rec.Status}
		if rec.Size > 0 {
			status.Progress = (rec.Size - rec.Sizeleft) / rec.Size
		}
		if rec.TrackedDownloadStatus == "warning" || rec.Status == "failed" {
			status.Failed = true
		}
		return status, nil
	}

	hasFile, err := c.bookHasFile(ctx, bookID)
	if err != nil {
		return backend.JobStatus{}, err
	}
	if hasFile {
		return backend.JobStatus{Progress: 1, Done: true, State: "completed"}, nil
	}
	return backend.JobStatus{}, errors.NotFoundf("book %d not in queue", bookID)
}

func jobRef(bookID int) backend.JobRef {
	return backend.JobRef{ID: strconv.Itoa(bookID), Backend: domain.BackendReadarr}
}

// bestBookMatch implements layered matching over mixed search results.
// Titles alone are ambiguous across authors, so author agreement is
// required whenever the request knows its authors.
func bestBookMatch(results []SearchResult, req *domain.BookRequest) *Book {
	normTitle := normalize.Fold(req.Title)
	normAuthors := make([]string, 0, len(req.Authors))
	for _, a := range req.Authors {
		if f := normalize.Fold(a); f != "" {
			normAuthors = append(normAuthors, f)
		}
	}

	// Pass 1: exact title and author match.
	for _, r := range results {
		if r.Book == nil {
			continue
		}
		if normalize.Fold(r.Book.Title) == normTitle && authorMatches(r.Book, normAuthors) {
			return r.Book
		}
	}

	// Pass 2: title containment either way, with author match. Catches
	// subtitle differences between metadata providers.
	for _, r := range results {
		if r.Book == nil {
			continue
		}
		resultTitle := normalize.Fold(r.Book.Title)
		if (strings.Contains(resultTitle, normTitle) || strings.Contains(normTitle, resultTitle)) &&
			authorMatches(r.Book, normAuthors) {
			return r.Book
		}
	}

	// Pass 3: author match only; titles can differ significantly between
	// providers for the same work.
	for _, r := range results {
		if r.Book == nil {
			continue
		}
		if authorMatches(r.Book, normAuthors) {
			return r.Book
		}
	}

	// Pass 4: exact title without author, only when the request carries no
	// author data at all.
	if len(normAuthors) == 0 {
		for _, r := range results {
			if r.Book == nil {
				continue
			}
			if normalize.Fold(r.Book.Title) == normTitle {
				return r.Book
			}
		}
	}

	return nil
}

func authorMatches(book *Book, normAuthors []string) bool {
	if book.Author == nil || len(normAuthors) == 0 {
		return false
	}
	name := normalize.Fold(book.Author.AuthorName)
	if name == "" {
		return false
	}
	for _, a := range normAuthors {
		if strings.Contains(name, a) || strings.Contains(a, name) {
			return true
		}
	}
	return false
}

func (c *Client) search(ctx context.Context, term string) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("term", term)

	body, err := c.doRequest(ctx, http.MethodGet, searchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var results []SearchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, errors.BackendAddFailed(fmt.Errorf("decode search response: %w", err))
	}
	return results, nil
}

func (c *Client) addBook(ctx context.Context, book *Book) (*Book, error) {
	payload, err := json.Marshal(book)
	if err != nil {
		return nil, fmt.Errorf("encode book: %w", err)
	}
	body, err := c.doRequest(ctx, http.MethodPost, bookPath, payload)
	if err != nil {
		return nil, err
	}
	var added Book
	if err := json.Unmarshal(body, &added); err != nil {
		return nil, errors.BackendAddFailed(fmt.Errorf("decode add response: %w", err))
	}
	return &added, nil
}

func (c *Client) triggerBookSearch(ctx context.Context, bookID int) error {
	payload, err := json.Marshal(commandRequest{Name: "BookSearch", BookIDs: []int{bookID}})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if _, err := c.doRequest(ctx, http.MethodPost, commandPath, payload); err != nil {
		return err
	}
	return nil
}

func (c *Client) queue(ctx context.Context) (*QueuePage, error) {
	body, err := c.doRequest(ctx, http.MethodGet, queuePath+"?page=1&pageSize=200", nil)
	if err != nil {
		return nil, err
	}
	var page QueuePage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return &page, nil
}

func (c *Client) bookHasFile(ctx context.Context, bookID int) (bool, error) {
	body, err := c.doRequest(ctx, http.MethodGet, bookPath+"/"+strconv.Itoa(bookID), nil)
	if err != nil {
		return false, err
	}
	var resource struct {
		Statistics struct {
			BookFileCount int `json:"bookFileCount"`
		} `json:"statistics"`
	}
	if err := json.Unmarshal(body, &resource); err != nil {
		return false, fmt.Errorf("decode book resource: %w", err)
	}
	return resource.Statistics.BookFileCount > 0, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.BackendAddFailed(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.BackendAddFailed(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > maxErrBodyLen {
			snippet = snippet[:maxErrBodyLen]
		}
		return nil, errors.BackendAddFailed(fmt.Errorf("status %d: %s", resp.StatusCode, string(snippet)))
	}
	return body, nil
}
