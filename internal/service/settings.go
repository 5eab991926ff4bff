package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/store"
)

// SettingsService manages the download settings consumed by the matcher,
// ranker, and orchestrator.
type SettingsService struct {
	store  store.Store
	logger *slog.Logger
}

// NewSettingsService creates a new settings service.
func NewSettingsService(s store.Store, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		store:  s,
		logger: logger.With("service", "settings"),
	}
}

// Get returns the current download settings.
func (s *SettingsService) Get(ctx context.Context) (domain.DownloadSettings, error) {
	return s.store.GetDownloadSettings(ctx)
}

// Update validates and persists new download settings. Attempts already in
// flight keep the snapshot they started with.
func (s *SettingsService) Update(ctx context.Context, settings domain.DownloadSettings) (domain.DownloadSettings, error) {
	if err := validateSettings(settings); err != nil {
		return domain.DownloadSettings{}, err
	}

	if err := s.store.SaveDownloadSettings(ctx, settings); err != nil {
		return domain.DownloadSettings{}, fmt.Errorf("save download settings: %w", err)
	}

	s.logger.Info("download settings updated",
		"auto_download", settings.AutoDownload,
		"min_seeders", settings.MinSeeders,
		"title_ratio", settings.TitleRatio,
		"name_ratio", settings.NameRatio,
	)

	return settings, nil
}

func validateSettings(settings domain.DownloadSettings) error {
	if settings.MinSeeders < 0 {
		return errors.Validation("min_seeders must not be negative")
	}
	if settings.TitleRatio < 0 || settings.TitleRatio > 100 {
		return errors.Validation("title_ratio must be between 0 and 100")
	}
	if settings.NameRatio < 0 || settings.NameRatio > 100 {
		return errors.Validation("name_ratio must be between 0 and 100")
	}
	for format, r := range settings.Ranges {
		if r.FromKbits < 0 || r.ToKbits < r.FromKbits {
			return errors.Validationf("invalid quality range for format %s", format)
		}
	}
	return nil
}
