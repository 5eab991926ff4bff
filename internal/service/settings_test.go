package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
)

func newSettingsService(t *testing.T) *SettingsService {
	t.Helper()
	return NewSettingsService(newTestStore(t), slog.New(slog.DiscardHandler))
}

func TestSettings_DefaultsBeforeFirstSave(t *testing.T) {
	svc := newSettingsService(t)

	settings, err := svc.Get(context.Background())
	require.NoError(t, err)

	assert.True(t, settings.AutoDownload)
	assert.Equal(t, 1, settings.MinSeeders)
	assert.Equal(t, 80, settings.TitleRatio)
}

func TestSettings_UpdateRoundTrip(t *testing.T) {
	svc := newSettingsService(t)

	settings := domain.DefaultDownloadSettings()
	settings.AutoDownload = false
	settings.MinSeeders = 5
	settings.IndexerFlags = map[string]int{"freeleech": 25}

	saved, err := svc.Update(context.Background(), settings)
	require.NoError(t, err)
	assert.False(t, saved.AutoDownload)

	got, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.False(t, got.AutoDownload)
	assert.Equal(t, 5, got.MinSeeders)
	assert.Equal(t, 25, got.IndexerFlags["freeleech"])
}

func TestSettings_UpdateValidation(t *testing.T) {
	svc := newSettingsService(t)

	tests := []struct {
		name   string
		mutate func(*domain.DownloadSettings)
	}{
		{"negative seeders", func(s *domain.DownloadSettings) { s.MinSeeders = -1 }},
		{"title ratio over 100", func(s *domain.DownloadSettings) { s.TitleRatio = 101 }},
		{"negative name ratio", func(s *domain.DownloadSettings) { s.NameRatio = -5 }},
		{"inverted quality range", func(s *domain.DownloadSettings) {
			s.Ranges[domain.FormatFLAC] = domain.QualityRange{FromKbits: 200, ToKbits: 100}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := domain.DefaultDownloadSettings()
			tt.mutate(&settings)

			_, err := svc.Update(context.Background(), settings)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation))
		})
	}
}
