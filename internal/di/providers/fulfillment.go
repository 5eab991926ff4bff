package providers

import (
	"github.com/samber/do/v2"

	"github.com/fableseek/fableseek-server/internal/backend"
	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/fulfillment"
	"github.com/fableseek/fableseek-server/internal/indexer"
	"github.com/fableseek/fableseek-server/internal/library"
	"github.com/fableseek/fableseek-server/internal/logger"
	"github.com/fableseek/fableseek-server/internal/notify"
	"github.com/fableseek/fableseek-server/internal/sse"
)

// ProvideOrchestrator provides the fulfillment orchestrator.
func ProvideOrchestrator(i do.Injector) (*fulfillment.Orchestrator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	search := do.MustInvoke[*indexer.Client](i)
	readarrHandle := do.MustInvoke[*ReadarrHandle](i)
	direct := do.MustInvoke[*backend.Direct](i)
	notifier := do.MustInvoke[*notify.Dispatcher](i)
	manager := do.MustInvoke[*sse.Manager](i)
	log := do.MustInvoke[*logger.Logger](i)

	var primary backend.Primary
	if readarrHandle.Client != nil {
		primary = readarrHandle.Client
	}

	return fulfillment.NewOrchestrator(storeHandle.Store, search, primary, direct,
		notifier, manager, cfg.Fulfillment, log.Logger), nil
}

// ProvideMonitor provides the download monitor.
func ProvideMonitor(i do.Injector) (*fulfillment.Monitor, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	readarrHandle := do.MustInvoke[*ReadarrHandle](i)
	qbitHandle := do.MustInvoke[*QbittorrentHandle](i)
	lib := do.MustInvoke[*library.Client](i)
	notifier := do.MustInvoke[*notify.Dispatcher](i)
	manager := do.MustInvoke[*sse.Manager](i)
	log := do.MustInvoke[*logger.Logger](i)

	var readarrStatus fulfillment.StatusChecker
	if readarrHandle.Client != nil {
		readarrStatus = readarrHandle.Client
	}
	var torrents backend.DownloadClient
	if qbitHandle.Client != nil {
		torrents = qbitHandle.Client
	}

	return fulfillment.NewMonitor(storeHandle.Store, readarrStatus, torrents,
		cfg.Qbittorrent.Category, lib, notifier, manager, cfg.Fulfillment, log.Logger), nil
}
