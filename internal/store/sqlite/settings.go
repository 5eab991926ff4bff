package sqlite

import (
	"context"
	"database/sql"
	"encoding/json/v2"
	"fmt"
	"time"

	"github.com/fableseek/fableseek-server/internal/domain"
)

const downloadSettingsKey = "download_settings"

// GetDownloadSettings returns the stored download settings, or the defaults
// when none have been saved yet.
func (s *Store) GetDownloadSettings(ctx context.Context) (domain.DownloadSettings, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, downloadSettingsKey).Scan(&value)
	if err == sql.ErrNoRows {
		return domain.DefaultDownloadSettings(), nil
	}
	if err != nil {
		return domain.DownloadSettings{}, fmt.Errorf("get download settings: %w", err)
	}

	var settings domain.DownloadSettings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return domain.DownloadSettings{}, fmt.Errorf("decode download settings: %w", err)
	}
	return settings, nil
}

// SaveDownloadSettings persists the download settings as a single row.
func (s *Store) SaveDownloadSettings(ctx context.Context, settings domain.DownloadSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode download settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		downloadSettingsKey, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save download settings: %w", err)
	}
	return nil
}
