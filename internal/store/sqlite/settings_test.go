package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableseek/fableseek-server/internal/domain"
)

func TestGetDownloadSettings_DefaultsWhenUnset(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetDownloadSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultDownloadSettings(), got)
}

func TestDownloadSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	settings := domain.DefaultDownloadSettings()
	settings.AutoDownload = true
	settings.MinSeeders = 5
	settings.TitleRatio = 90
	settings.Ranges[domain.FormatMP3] = domain.QualityRange{FromKbits: 128, ToKbits: 320}
	settings.IndexerFlags = map[string]int{"freeleech": 25}

	require.NoError(t, s.SaveDownloadSettings(ctx, settings))

	got, err := s.GetDownloadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings, got)
}

func TestSaveDownloadSettings_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := domain.DefaultDownloadSettings()
	first.MinSeeders = 2
	require.NoError(t, s.SaveDownloadSettings(ctx, first))

	second := domain.DefaultDownloadSettings()
	second.MinSeeders = 9
	require.NoError(t, s.SaveDownloadSettings(ctx, second))

	got, err := s.GetDownloadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, got.MinSeeders)
}
