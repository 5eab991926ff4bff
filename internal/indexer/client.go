package indexer

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/ratelimit"
)

const (
	// Rate limit: 2 requests per second against the aggregation API, burst of 4
	defaultRPS   = 2.0
	defaultBurst = 4

	defaultTimeout  = 60 * time.Second
	defaultCacheTTL = 24 * time.Hour

	searchLimit   = 100
	audiobookCat  = 3030
	rateLimitKey  = "prowlarr"
	apiKeyHeader  = "X-Api-Key"
	searchPath    = "/api/v1/search"
	indexersPath  = "/api/v1/indexer"
	searchType    = "search"
	maxErrBodyLen = 512
)

// Client is a rate-limited Prowlarr client with a query-level result cache.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	cache   *queryCache
	logger  *slog.Logger
}

// Option adjusts client construction.
type Option func(*Client)

// WithCacheTTL overrides the search result cache lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cache = newQueryCache(ttl) }
}

// WithHTTPClient swaps the underlying HTTP client, used by tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Prowlarr client for the given base URL and API key.
func New(baseURL, apiKey string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: ratelimit.New(defaultRPS, defaultBurst),
		cache:   newQueryCache(defaultCacheTTL),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search queries every configured indexer for audiobook releases matching
// query. Results are cached per query; pass refresh to bypass the cache.
func (c *Client) Search(ctx context.Context, query string, refresh bool) ([]RawRelease, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if !refresh {
		if releases, ok := c.cache.Get(key); ok {
			c.logger.Debug("indexer search cache hit", "query", query, "results", len(releases))
			return releases, nil
		}
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("type", searchType)
	params.Set("limit", fmt.Sprintf("%d", searchLimit))
	params.Set("categories", fmt.Sprintf("%d", audiobookCat))

	body, err := c.doRequest(ctx, http.MethodGet, searchPath, params, nil)
	if err != nil {
		return nil, err
	}

	var releases []RawRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, errors.IndexerUnavailable(fmt.Errorf("decode search response: %w", err))
	}

	c.cache.Put(key, releases)
	c.logger.Info("indexer search complete", "query", query, "results", len(releases))
	return releases, nil
}

// grabRequest is the payload Prowlarr expects when asked to send a release
// to its configured download client.
type grabRequest struct {
	GUID      string `json:"guid"`
	IndexerID int    `json:"indexerId"`
}

// Grab asks the aggregation API to hand the identified release to its
// download client.
func (c *Client) Grab(ctx context.Context, guid string, indexerID int) error {
	payload, err := json.Marshal(grabRequest{GUID: guid, IndexerID: indexerID})
	if err != nil {
		return fmt.Errorf("encode grab request: %w", err)
	}
	if _, err := c.doRequest(ctx, http.MethodPost, searchPath, nil, payload); err != nil {
		return errors.BackendAddFailed(err)
	}
	c.logger.Info("indexer grab sent", "guid", guid, "indexer_id", indexerID)
	return nil
}

// Indexers lists the indexers configured behind the aggregation API.
func (c *Client) Indexers(ctx context.Context) ([]Indexer, error) {
	body, err := c.doRequest(ctx, http.MethodGet, indexersPath, nil, nil)
	if err != nil {
		return nil, err
	}
	var indexers []Indexer
	if err := json.Unmarshal(body, &indexers); err != nil {
		return nil, errors.IndexerUnavailable(fmt.Errorf("decode indexer list: %w", err))
	}
	return indexers, nil
}

// Ping verifies connectivity and API key validity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Indexers(ctx)
	return err
}

// InvalidateQuery drops the cached results for query.
func (c *Client) InvalidateQuery(query string) {
	c.cache.Invalidate(strings.ToLower(strings.TrimSpace(query)))
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
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
		return nil, errors.IndexerUnavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.IndexerUnavailable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > maxErrBodyLen {
			snippet = snippet[:maxErrBodyLen]
		}
		return nil, errors.IndexerUnavailable(fmt.Errorf("status %d: %s", resp.StatusCode, string(snippet)))
	}
	return body, nil
}
