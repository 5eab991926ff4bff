// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App            AppConfig
	Logger         LoggerConfig
	Server         ServerConfig
	Database       DatabaseConfig
	Prowlarr       ProwlarrConfig
	Readarr        ReadarrConfig
	Qbittorrent    QbittorrentConfig
	Audiobookshelf AudiobookshelfConfig
	Fulfillment    FulfillmentConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds sqlite storage configuration.
type DatabaseConfig struct {
	// Path is the sqlite database file (default: {data}/fableseek.db).
	Path string
	// DataPath is the base directory for server state (default: ~/FableSeek).
	DataPath string
}

// ProwlarrConfig holds the indexer-aggregation API connection.
type ProwlarrConfig struct {
	BaseURL  string
	APIKey   string
	CacheTTL time.Duration
}

// ReadarrConfig holds the primary download backend connection.
type ReadarrConfig struct {
	BaseURL         string
	APIKey          string
	QualityProfile  int
	MetadataProfile int
	RootFolder      string
	Timeout         time.Duration
}

// QbittorrentConfig holds the direct download client connection.
type QbittorrentConfig struct {
	BaseURL  string
	Username string
	Password string
	Category string
	SavePath string
}

// AudiobookshelfConfig holds the library collaborator connection.
// Optional; when BaseURL is empty the library check and scan are skipped.
type AudiobookshelfConfig struct {
	BaseURL   string
	APIKey    string
	LibraryID string
}

// FulfillmentConfig holds orchestrator and monitor tuning.
type FulfillmentConfig struct {
	// Workers is the fixed fulfillment worker pool size (default: 4).
	Workers int
	// PollInterval is the download monitor polling cadence (default: 60s).
	PollInterval time.Duration
	// DownloadTimeout fails a download that has not completed (default: 6h).
	DownloadTimeout time.Duration
	// RetryInterval re-queues retryable failures (default: 15m).
	RetryInterval time.Duration
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := flag.String("data-path", "", "Base path for server state")
	dbPath := flag.String("db-path", "", "Path to sqlite database file")

	serverPort := flag.String("port", "", "Server port (default: 8080)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	prowlarrURL := flag.String("prowlarr-url", "", "Prowlarr base URL")
	prowlarrKey := flag.String("prowlarr-api-key", "", "Prowlarr API key")
	prowlarrTTL := flag.String("prowlarr-cache-ttl", "", "Prowlarr search cache TTL (default: 24h)")

	readarrURL := flag.String("readarr-url", "", "Readarr base URL")
	readarrKey := flag.String("readarr-api-key", "", "Readarr API key")
	readarrQuality := flag.String("readarr-quality-profile", "", "Readarr quality profile id (default: 1)")
	readarrMetadata := flag.String("readarr-metadata-profile", "", "Readarr metadata profile id (default: 1)")
	readarrRoot := flag.String("readarr-root-folder", "", "Readarr root folder path")
	readarrTimeout := flag.String("readarr-timeout", "", "Readarr request timeout (default: 180s)")

	qbitURL := flag.String("qbittorrent-url", "", "qBittorrent WebUI base URL")
	qbitUser := flag.String("qbittorrent-username", "", "qBittorrent WebUI username")
	qbitPass := flag.String("qbittorrent-password", "", "qBittorrent WebUI password")
	qbitCategory := flag.String("qbittorrent-category", "", "qBittorrent category for dispatched downloads (default: fableseek)")
	qbitSavePath := flag.String("qbittorrent-save-path", "", "qBittorrent download directory")

	absURL := flag.String("abs-url", "", "Audiobookshelf base URL (optional)")
	absKey := flag.String("abs-api-key", "", "Audiobookshelf API key")
	absLibrary := flag.String("abs-library-id", "", "Audiobookshelf library id")

	workers := flag.String("fulfillment-workers", "", "Fulfillment worker pool size (default: 4)")
	pollInterval := flag.String("poll-interval", "", "Download monitor poll interval (default: 60s)")
	downloadTimeout := flag.String("download-timeout", "", "Download stall timeout (default: 6h)")
	retryInterval := flag.String("retry-interval", "", "Retryable failure re-queue interval (default: 15m)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port: getConfigValue(*serverPort, "SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Path:     getConfigValue(*dbPath, "DB_PATH", ""),
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Prowlarr: ProwlarrConfig{
			BaseURL: getConfigValue(*prowlarrURL, "PROWLARR_URL", ""),
			APIKey:  getConfigValue(*prowlarrKey, "PROWLARR_API_KEY", ""),
		},
		Readarr: ReadarrConfig{
			BaseURL:         getConfigValue(*readarrURL, "READARR_URL", ""),
			APIKey:          getConfigValue(*readarrKey, "READARR_API_KEY", ""),
			QualityProfile:  getIntConfigValue(*readarrQuality, "READARR_QUALITY_PROFILE", 1),
			MetadataProfile: getIntConfigValue(*readarrMetadata, "READARR_METADATA_PROFILE", 1),
			RootFolder:      getConfigValue(*readarrRoot, "READARR_ROOT_FOLDER", ""),
		},
		Qbittorrent: QbittorrentConfig{
			BaseURL:  getConfigValue(*qbitURL, "QBITTORRENT_URL", ""),
			Username: getConfigValue(*qbitUser, "QBITTORRENT_USERNAME", ""),
			Password: getConfigValue(*qbitPass, "QBITTORRENT_PASSWORD", ""),
			Category: getConfigValue(*qbitCategory, "QBITTORRENT_CATEGORY", "fableseek"),
			SavePath: getConfigValue(*qbitSavePath, "QBITTORRENT_SAVE_PATH", ""),
		},
		Audiobookshelf: AudiobookshelfConfig{
			BaseURL:   getConfigValue(*absURL, "ABS_URL", ""),
			APIKey:    getConfigValue(*absKey, "ABS_API_KEY", ""),
			LibraryID: getConfigValue(*absLibrary, "ABS_LIBRARY_ID", ""),
		},
		Fulfillment: FulfillmentConfig{
			Workers: getIntConfigValue(*workers, "FULFILLMENT_WORKERS", 4),
		},
	}

	durations := []struct {
		target   *time.Duration
		flagVal  string
		envKey   string
		fallback string
		name     string
	}{
		{&cfg.Server.ReadTimeout, *readTimeout, "SERVER_READ_TIMEOUT", "15s", "read timeout"},
		{&cfg.Server.WriteTimeout, *writeTimeout, "SERVER_WRITE_TIMEOUT", "15s", "write timeout"},
		{&cfg.Server.IdleTimeout, *idleTimeout, "SERVER_IDLE_TIMEOUT", "60s", "idle timeout"},
		{&cfg.Prowlarr.CacheTTL, *prowlarrTTL, "PROWLARR_CACHE_TTL", "24h", "prowlarr cache ttl"},
		{&cfg.Readarr.Timeout, *readarrTimeout, "READARR_TIMEOUT", "180s", "readarr timeout"},
		{&cfg.Fulfillment.PollInterval, *pollInterval, "POLL_INTERVAL", "60s", "poll interval"},
		{&cfg.Fulfillment.DownloadTimeout, *downloadTimeout, "DOWNLOAD_TIMEOUT", "6h", "download timeout"},
		{&cfg.Fulfillment.RetryInterval, *retryInterval, "RETRY_INTERVAL", "15m", "retry interval"},
	}
	for _, d := range durations {
		raw := getConfigValue(d.flagVal, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, raw, err)
		}
		*d.target = parsed
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty after expansion")
	}

	if c.Prowlarr.BaseURL != "" && c.Prowlarr.APIKey == "" {
		return errors.New("PROWLARR_API_KEY is required when PROWLARR_URL is set")
	}
	if c.Readarr.BaseURL != "" && c.Readarr.APIKey == "" {
		return errors.New("READARR_API_KEY is required when READARR_URL is set")
	}

	if c.Fulfillment.Workers < 1 {
		return fmt.Errorf("fulfillment workers must be at least 1, got %d", c.Fulfillment.Workers)
	}
	if c.Fulfillment.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath resolves the state directory and the database file inside
// it. The database path may be overridden independently.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	dataPath, err := expandPath(c.Database.DataPath, filepath.Join(homeDir, "FableSeek"))
	if err != nil {
		return err
	}
	c.Database.DataPath = dataPath

	dbPath, err := expandPath(c.Database.Path, filepath.Join(dataPath, "fableseek.db"))
	if err != nil {
		return err
	}
	c.Database.Path = dbPath
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)

		// Env vars take precedence over .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
