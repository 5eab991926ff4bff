package providers

import (
	"fmt"
	"os"

	"github.com/samber/do/v2"

	"github.com/fableseek/fableseek-server/internal/config"
	"github.com/fableseek/fableseek-server/internal/logger"
	"github.com/fableseek/fableseek-server/internal/store"
	"github.com/fableseek/fableseek-server/internal/store/sqlite"
)

// StoreHandle wraps the sqlite store so the container can close it on
// shutdown.
type StoreHandle struct {
	store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the sqlite database, creating the data directory if
// needed.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Database.DataPath, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s, err := sqlite.Open(cfg.Database.Path, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	log.Info("database opened", "path", cfg.Database.Path)
	return &StoreHandle{Store: s}, nil
}
