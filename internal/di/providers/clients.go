package providers

import (
	"github.com/samber/do/v2"

	"github.com/fableseek/fableseek-server/internal/backend"
	"github.com/fableseek/fableseek-server/internal/backend/qbittorrent"
	"github.com/fableseek/fableseek-server/internal/backend/readarr"
	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/indexer"
	"github.com/fableseek/fableseek-server/internal/library"
	"github.com/fableseek/fableseek-server/internal/logger"
	"github.com/fableseek/fableseek-server/internal/metadata/audible"
)

// ReadarrHandle carries the optional primary backend. Client is nil when
// Readarr is not configured.
type ReadarrHandle struct {
	Client *readarr.Client
}

// QbittorrentHandle carries the optional torrent client. Client is nil when
// qBittorrent is not configured.
type QbittorrentHandle struct {
	Client *qbittorrent.Client
}

// ProvideIndexerClient provides the Prowlarr aggregation client.
func ProvideIndexerClient(i do.Injector) (*indexer.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Prowlarr.BaseURL == "" {
		log.Warn("prowlarr is not configured, candidate searches will fail")
	}

	return indexer.New(cfg.Prowlarr.BaseURL, cfg.Prowlarr.APIKey, log.Logger,
		indexer.WithCacheTTL(cfg.Prowlarr.CacheTTL)), nil
}

// ProvideReadarr provides the optional managed download backend.
func ProvideReadarr(i do.Injector) (*ReadarrHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Readarr.BaseURL == "" {
		log.Info("readarr is not configured, using direct dispatch only")
		return &ReadarrHandle{}, nil
	}

	return &ReadarrHandle{Client: readarr.New(cfg.Readarr, log.Logger)}, nil
}

// ProvideQbittorrent provides the optional torrent client.
func ProvideQbittorrent(i do.Injector) (*QbittorrentHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Qbittorrent.BaseURL == "" {
		log.Info("qbittorrent is not configured, torrent candidates will be grabbed through the indexer")
		return &QbittorrentHandle{}, nil
	}

	client, err := qbittorrent.New(cfg.Qbittorrent, log.Logger)
	if err != nil {
		return nil, err
	}
	return &QbittorrentHandle{Client: client}, nil
}

// ProvideAudibleClient provides the catalog search client.
func ProvideAudibleClient(i do.Injector) (*audible.Client, error) {
	log := do.MustInvoke[*logger.Logger](i)

	return audible.New(log.Logger), nil
}

// ProvideLibrary provides the Audiobookshelf collaborator client.
func ProvideLibrary(i do.Injector) (*library.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return library.New(cfg.Audiobookshelf, log.Logger), nil
}

// ProvideDirectBackend provides the secondary dispatch backend.
func ProvideDirectBackend(i do.Injector) (*backend.Direct, error) {
	log := do.MustInvoke[*logger.Logger](i)
	qbit := do.MustInvoke[*QbittorrentHandle](i)
	grabber := do.MustInvoke[*indexer.Client](i)

	var torrents backend.TorrentAdder
	if qbit.Client != nil {
		torrents = qbit.Client
	}
	return backend.NewDirect(torrents, grabber, log.Logger), nil
}
