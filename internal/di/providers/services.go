package providers

import (
	"github.com/samber/do/v2"

	"github.com/fableseek/fableseek-server/internal/fulfillment"
	"github.com/fableseek/fableseek-server/internal/library"
	"github.com/fableseek/fableseek-server/internal/logger"
	"github.com/fableseek/fableseek-server/internal/notify"
	"github.com/fableseek/fableseek-server/internal/service"
	"github.com/fableseek/fableseek-server/internal/sse"
)

// ProvideSSEManager provides the SSE event manager.
func ProvideSSEManager(i do.Injector) (*sse.Manager, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return sse.NewManager(log.Logger), nil
}

// ProvideNotifier provides the webhook notification dispatcher.
func ProvideNotifier(i do.Injector) (*notify.Dispatcher, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return notify.NewDispatcher(storeHandle.Store, log.Logger), nil
}

// ProvideRequestService provides the request lifecycle service.
func ProvideRequestService(i do.Injector) (*service.RequestService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	orch := do.MustInvoke[*fulfillment.Orchestrator](i)
	lib := do.MustInvoke[*library.Client](i)
	notifier := do.MustInvoke[*notify.Dispatcher](i)
	manager := do.MustInvoke[*sse.Manager](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewRequestService(storeHandle.Store, orch, lib, notifier, manager, log.Logger), nil
}

// ProvideSettingsService provides the download settings service.
func ProvideSettingsService(i do.Injector) (*service.SettingsService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewSettingsService(storeHandle.Store, log.Logger), nil
}

// ProvideNotificationService provides the notification template service.
func ProvideNotificationService(i do.Injector) (*service.NotificationService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	notifier := do.MustInvoke[*notify.Dispatcher](i)
	log := do.MustInvoke[*logger.Logger](i)
	return service.NewNotificationService(storeHandle.Store, notifier, log.Logger), nil
}
