package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
)

// TorrentAdder adds a torrent by magnet link or .torrent URL with a
// category and tags. Satisfied by the qbittorrent client.
type TorrentAdder interface {
	Add(ctx context.Context, urls string, tags []string) error
}

// Grabber hands a release to the aggregation API's own download client.
// Satisfied by the indexer client.
type Grabber interface {
	Grab(ctx context.Context, guid string, indexerID int) error
}

// Direct is the secondary backend: it dispatches the selected candidate
// straight to a download client instead of going through full download
// management. Torrent candidates with a usable link go to the torrent
// client, tagged for later re-association; everything else is grabbed
// through the aggregation API.
type Direct struct {
	torrents TorrentAdder
	grabber  Grabber
	logger   *slog.Logger
}

// NewDirect creates the direct dispatcher.
func NewDirect(torrents TorrentAdder, grabber Grabber, logger *slog.Logger) *Direct {
	return &Direct{torrents: torrents, grabber: grabber, logger: logger}
}

// RequestTag returns the tag that binds a client-side job to a request.
func RequestTag(requestID string) string {
	return "req:" + requestID
}

// ASINTag returns the tag carrying the request's ASIN, when known.
func ASINTag(asin string) string {
	return "asin:" + asin
}

// Dispatch sends the candidate to a download client and returns the job
// reference the monitor will track.
func (d *Direct) Dispatch(ctx context.Context, req *domain.BookRequest, c *domain.Candidate) (JobRef, error) {
	ref := JobRef{ID: c.InfoHash, Backend: domain.BackendProwlarrDirect}

	if d.torrents != nil && c.Protocol == domain.ProtocolTorrent && (c.MagnetURL != "" || c.DownloadURL != "") {
		urls := c.MagnetURL
		if urls == "" {
			urls = c.DownloadURL
		}
		tags := []string{RequestTag(req.ID)}
		if req.ASIN != "" {
			tags = append(tags, ASINTag(req.ASIN))
		}
		if err := d.torrents.Add(ctx, urls, tags); err != nil {
			return JobRef{}, errors.BackendAddFailed(fmt.Errorf("torrent add: %w", err))
		}
		d.logger.Info("dispatched candidate to torrent client",
			"request_id", req.ID,
			"guid", c.GUID,
			"info_hash", c.InfoHash,
		)
		return ref, nil
	}

	if err := d.grabber.Grab(ctx, c.GUID, c.IndexerID); err != nil {
		return JobRef{}, errors.BackendAddFailed(fmt.Errorf("indexer grab: %w", err))
	}
	if ref.ID == "" {
		ref.ID = c.GUID
	}
	d.logger.Info("dispatched candidate via indexer grab",
		"request_id", req.ID,
		"guid", c.GUID,
		"indexer_id", c.IndexerID,
	)
	return ref, nil
}
