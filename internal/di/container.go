// Package di provides dependency injection configuration for the FableSeek
// server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/fableseek/fableseek-server/internal/backend"
	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/di/providers"
	"github.com/fableseek/fableseek-server/internal/fulfillment"
	"github.com/fableseek/fableseek-server/internal/indexer"
	"github.com/fableseek/fableseek-server/internal/library"
	"github.com/fableseek/fableseek-server/internal/logger"
	"github.com/fableseek/fableseek-server/internal/metadata/audible"
	"github.com/fableseek/fableseek-server/internal/notify"
	"github.com/fableseek/fableseek-server/internal/service"
	"github.com/fableseek/fableseek-server/internal/sse"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideStore)

	// External clients
	do.Provide(injector, providers.ProvideIndexerClient)
	do.Provide(injector, providers.ProvideReadarr)
	do.Provide(injector, providers.ProvideQbittorrent)
	do.Provide(injector, providers.ProvideAudibleClient)
	do.Provide(injector, providers.ProvideLibrary)
	do.Provide(injector, providers.ProvideDirectBackend)

	// Eventing
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideNotifier)

	// Fulfillment engine
	do.Provide(injector, providers.ProvideOrchestrator)
	do.Provide(injector, providers.ProvideMonitor)

	// Business services
	do.Provide(injector, providers.ProvideRequestService)
	do.Provide(injector, providers.ProvideSettingsService)
	do.Provide(injector, providers.ProvideNotificationService)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services, triggering lazy construction in
// dependency order.
func Bootstrap(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)

	_ = do.MustInvoke[*indexer.Client](injector)
	_ = do.MustInvoke[*providers.ReadarrHandle](injector)
	_ = do.MustInvoke[*providers.QbittorrentHandle](injector)
	_ = do.MustInvoke[*audible.Client](injector)
	_ = do.MustInvoke[*library.Client](injector)
	_ = do.MustInvoke[*backend.Direct](injector)

	_ = do.MustInvoke[*sse.Manager](injector)
	_ = do.MustInvoke[*notify.Dispatcher](injector)

	_ = do.MustInvoke[*fulfillment.Orchestrator](injector)
	_ = do.MustInvoke[*fulfillment.Monitor](injector)

	_ = do.MustInvoke[*service.RequestService](injector)
	_ = do.MustInvoke[*service.SettingsService](injector)
	_ = do.MustInvoke[*service.NotificationService](injector)

	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
