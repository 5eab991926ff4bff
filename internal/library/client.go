// Package library talks to an Audiobookshelf server so completed requests
// can be checked against the library and a rescan triggered after download.
package library

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/normalize"
)

const defaultTimeout = 30 * time.Second

// Client is an Audiobookshelf API client. The integration is optional;
// a client built from an empty BaseURL reports Configured() == false and
// every operation becomes a no-op.
type Client struct {
	baseURL   string
	apiKey    string
	libraryID string
	http      *http.Client
	logger    *slog.Logger
}

// New creates a library client from configuration.
func New(cfg config.AudiobookshelfConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		libraryID: cfg.LibraryID,
		http:      &http.Client{Timeout: defaultTimeout},
		logger:    logger,
	}
}

// Configured reports whether the client can reach a library.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.libraryID != ""
}

// libraryItem is the subset of the item payload the exists check needs.
type libraryItem struct {
	ID    string `json:"id"`
	Media struct {
		Metadata struct {
			Title   string `json:"title"`
			ASIN    string `json:"asin"`
			Authors []struct {
				Name string `json:"name"`
			} `json:"authors"`
		} `json:"metadata"`
	} `json:"media"`
}

type searchResponse struct {
	Book []struct {
		LibraryItem libraryItem `json:"libraryItem"`
	} `json:"book"`
}

// Exists checks whether a book is already present in the library,
// searching by ASIN first and falling back to the title. A title hit
// counts only when the title matches exactly after folding and, if
// authors were given, at least one author matches.
func (c *Client) Exists(ctx context.Context, asin, title string, authors []string) (bool, error) {
	if !c.Configured() {
		return false, nil
	}

	var candidates []libraryItem
	if asin != "" {
		items, err := c.search(ctx, asin)
		if err != nil {
			return false, err
		}
		candidates = items
	}
	if len(candidates) == 0 {
		items, err := c.search(ctx, title)
		if err != nil {
			return false, err
		}
		candidates = items
	}

	wantTitle := normalize.Fold(title)
	wantAuthors := make([]string, 0, len(authors))
	for _, a := range authors {
		wantAuthors = append(wantAuthors, normalize.Fold(a))
	}

	for _, item := range candidates {
		meta := item.Media.Metadata
		if meta.ASIN != "" && asin != "" && strings.EqualFold(meta.ASIN, asin) {
			return true, nil
		}
		if meta.Title == "" || normalize.Fold(meta.Title) != wantTitle {
			continue
		}
		if len(wantAuthors) == 0 {
			return true, nil
		}
		for _, a := range meta.Authors {
			if slices.Contains(wantAuthors, normalize.Fold(a.Name)) {
				return true, nil
			}
		}
	}
	return false, nil
}

// TriggerScan asks the server to rescan the configured library. Failures
// are logged and swallowed; a missed scan only delays pickup of new files.
func (c *Client) TriggerScan(ctx context.Context) {
	if !c.Configured() {
		return
	}
	path := fmt.Sprintf("/api/libraries/%s/scan", c.libraryID)
	if _, err := c.doRequest(ctx, http.MethodPost, path, nil); err != nil {
		c.logger.Warn("library scan trigger failed", "error", err)
		return
	}
	c.logger.Info("library scan triggered", "library_id", c.libraryID)
}

// Ping verifies connectivity by listing libraries.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return nil
	}
	_, err := c.doRequest(ctx, http.MethodGet, "/api/libraries", nil)
	return err
}

func (c *Client) search(ctx context.Context, query string) ([]libraryItem, error) {
	params := url.Values{}
	params.Set("q", query)
	path := fmt.Sprintf("/api/libraries/%s/search", c.libraryID)

	body, err := c.doRequest(ctx, http.MethodGet, path, params)
	if err != nil {
		return nil, err
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode library search: %w", err)
	}
	items := make([]libraryItem, 0, len(result.Book))
	for _, b := range result.Book {
		items = append(items, b.LibraryItem)
	}
	return items, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("library request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("library status %d", resp.StatusCode)
	}
	return body, nil
}
