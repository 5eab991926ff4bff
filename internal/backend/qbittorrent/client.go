// Package qbittorrent implements the torrent download client used for
// direct dispatch and for download progress tracking.
package qbittorrent

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/fableseek/fableseek-server/internal/backend"
	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
)

const (
	loginPath   = "/api/v2/auth/login"
	addPath     = "/api/v2/torrents/add"
	infoPath    = "/api/v2/torrents/info"
	addTagsPath = "/api/v2/torrents/addTags"
	deletePath  = "/api/v2/torrents/delete"

	defaultTimeout = 30 * time.Second
)

// torrentInfo is one record from the torrents/info endpoint.
type torrentInfo struct {
	Hash     string  `json:"hash"`
	Name     string  `json:"name"`
	Progress float64 `json:"progress"`
	State    string  `json:"state"`
	Category string  `json:"category"`
	Tags     string  `json:"tags"`
}

// Client is a cookie-authenticated qBittorrent WebUI client.
type Client struct {
	baseURL  string
	username string
	password string
	category string
	savePath string
	http     *http.Client
	logger   *slog.Logger
}

// New creates a qBittorrent client from configuration.
func New(cfg config.QbittorrentConfig, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		category: cfg.Category,
		savePath: cfg.SavePath,
		http:     &http.Client{Timeout: defaultTimeout, Jar: jar},
		logger:   logger,
	}, nil
}

// Configured reports whether a base URL has been set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Category returns the category dispatched torrents are filed under.
func (c *Client) Category() string {
	return c.category
}

// Login authenticates against the WebUI and stores the session cookie.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	body, err := c.postForm(ctx, loginPath, form)
	if err != nil {
		return err
	}
	// The WebUI answers 200 with "Fails." on bad credentials.
	if strings.HasPrefix(string(body), "Fails") {
		return fmt.Errorf("qbittorrent login rejected")
	}
	return nil
}

// Add submits a magnet link or .torrent URL with the configured category,
// save path, and the given tags.
func (c *Client) Add(ctx context.Context, urls string, tags []string) error {
	if err := c.Login(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("urls", urls)
	if c.category != "" {
		form.Set("category", c.category)
	}
	if c.savePath != "" {
		form.Set("savepath", c.savePath)
		// Automatic torrent management would override savepath.
		form.Set("useAutoTMM", "false")
	}
	if len(tags) > 0 {
		form.Set("tags", strings.Join(tags, ","))
	}

	if _, err := c.postForm(ctx, addPath, form); err != nil {
		return err
	}
	c.logger.Info("torrent added", "category", c.category, "tags", tags)
	return nil
}

// GetStatus reports one torrent's progress by info hash.
func (c *Client) GetStatus(ctx context.Context, ref backend.JobRef) (backend.JobStatus, error) {
	torrents, err := c.torrents(ctx, url.Values{"hashes": {strings.ToLower(ref.ID)}})
	if err != nil {
		return backend.JobStatus{}, err
	}
	if len(torrents) == 0 {
		return backend.JobStatus{}, errors.NotFoundf("torrent %s not in client", ref.ID)
	}
	return toStatus(torrents[0]), nil
}

// ListJobs returns every torrent filed under category, used by the monitor
// to re-associate a request when its hash lookup comes up empty.
func (c *Client) ListJobs(ctx context.Context, category string) ([]backend.Job, error) {
	torrents, err := c.torrents(ctx, url.Values{"category": {category}})
	if err != nil {
		return nil, err
	}

	jobs := make([]backend.Job, 0, len(torrents))
	for _, t := range torrents {
		job := backend.Job{
			Ref:    backend.JobRef{ID: t.Hash, Backend: domain.BackendProwlarrDirect},
			Name:   t.Name,
			Status: toStatus(t),
		}
		for _, tag := range strings.Split(t.Tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				job.Tags = append(job.Tags, tag)
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkProcessed tags a completed torrent so it is not reconciled twice.
func (c *Client) MarkProcessed(ctx context.Context, ref backend.JobRef) error {
	return c.AddTags(ctx, ref.ID, []string{backend.ProcessedTag})
}

// AddTags appends tags to a torrent.
func (c *Client) AddTags(ctx context.Context, hash string, tags []string) error {
	if err := c.Login(ctx); err != nil {
		return err
	}
	form := url.Values{}
	form.Set("hashes", strings.ToLower(hash))
	form.Set("tags", strings.Join(tags, ","))
	_, err := c.postForm(ctx, addTagsPath, form)
	return err
}

// Delete removes a torrent, optionally with its files.
func (c *Client) Delete(ctx context.Context, hash string, deleteFiles bool) error {
	if err := c.Login(ctx); err != nil {
		return err
	}
	form := url.Values{}
	form.Set("hashes", strings.ToLower(hash))
	form.Set("deleteFiles", fmt.Sprintf("%t", deleteFiles))
	_, err := c.postForm(ctx, deletePath, form)
	return err
}

// TestConnection verifies the WebUI is reachable and credentials work.
func (c *Client) TestConnection(ctx context.Context) error {
	return c.Login(ctx)
}

func toStatus(t torrentInfo) backend.JobStatus {
	status := backend.JobStatus{
		Name:     t.Name,
		Progress: t.Progress,
		State:    t.State,
	}
	switch t.State {
	case "error", "missingFiles":
		status.Failed = true
	}
	if t.Progress >= 1 {
		status.Done = true
	}
	return status
}

func (c *Client) torrents(ctx context.Context, params url.Values) ([]torrentInfo, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+infoPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torrents info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("torrents info status %d", resp.StatusCode)
	}

	var torrents []torrentInfo
	if err := json.Unmarshal(body, &torrents); err != nil {
		return nil, fmt.Errorf("decode torrents info: %w", err)
	}
	return torrents, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := body
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("post %s status %d: %s", path, resp.StatusCode, string(snippet))
	}
	return body, nil
}
