package audible

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/ratelimit"
)

const (
	// 1 request per second per region, burst of 3.
	defaultRPS   = 1.0
	defaultBurst = 3

	defaultTimeout = 30 * time.Second

	defaultNumResults = 25
	maxNumResults     = 50
)

// Client is a rate-limited Audible catalog client.
type Client struct {
	http    *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger

	// baseURL overrides the regional host when set, for tests.
	baseURL string
}

// New creates a new Audible client.
func New(logger *slog.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: ratelimit.New(defaultRPS, defaultBurst),
		logger:  logger,
	}
}

// doRequest executes a rate-limited GET against the regional API.
func (c *Client) doRequest(ctx context.Context, region Region, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx, string(region)); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	target := c.baseURL
	if target == "" {
		target = "https://" + region.Host()
	}
	fullURL := target + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "FableSeek/1.0")

	c.logger.Debug("audible request", "region", region, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NotFoundf("audible %s: not found", path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("audible %s: rate limited by server", path)
	default:
		return nil, fmt.Errorf("audible %s: unexpected status %d", path, resp.StatusCode)
	}
}

// responseGroups returns the standard response_groups parameter value.
func responseGroups() string {
	return "contributors,product_desc,product_attrs,media,series"
}

// Raw API response types.

type rawProduct struct {
	ASIN             string            `json:"asin"`
	Title            string            `json:"title"`
	Subtitle         string            `json:"subtitle"`
	ReleaseDate      string            `json:"release_date"`
	RuntimeLengthMin int               `json:"runtime_length_min"`
	ProductImages    map[string]string `json:"product_images"`
	Authors          []rawContributor  `json:"authors"`
	Narrators        []rawContributor  `json:"narrators"`
	SeriesPrimary    []rawSeries       `json:"series"`
}

type rawContributor struct {
	Name string `json:"name"`
}

type rawSeries struct {
	Title    string `json:"title"`
	Sequence string `json:"sequence"`
}

// toResult maps a raw product onto a SearchResult.
func (p *rawProduct) toResult() SearchResult {
	result := SearchResult{
		ASIN:           p.ASIN,
		Title:          p.Title,
		Subtitle:       p.Subtitle,
		Authors:        contributorNames(p.Authors),
		Narrators:      contributorNames(p.Narrators),
		CoverURL:       selectCoverURL(p.ProductImages),
		RuntimeMinutes: p.RuntimeLengthMin,
	}
	if p.ReleaseDate != "" {
		result.ReleaseDate, _ = time.Parse("2006-01-02", p.ReleaseDate)
	}
	if len(p.SeriesPrimary) > 0 {
		result.SeriesName = p.SeriesPrimary[0].Title
		result.SeriesPosition = p.SeriesPrimary[0].Sequence
	}
	return result
}

func contributorNames(raw []rawContributor) []string {
	names := make([]string, 0, len(raw))
	for _, c := range raw {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return names
}

// selectCoverURL picks the best available cover URL, preferring larger sizes.
func selectCoverURL(images map[string]string) string {
	for _, size := range []string{"1024", "500"} {
		if u, ok := images[size]; ok && u != "" {
			return u
		}
	}
	return ""
}
