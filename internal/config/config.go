// Package config loads engine and ledger configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the device-side engine configuration.
type Config struct {
	QueuePath string // GP_QUEUE_PATH (default "~/.gatepass/queue.db")
	RemoteURL string // GP_REMOTE_URL (required for sync; empty = offline only)
	AuthToken string // GP_AUTH_TOKEN (optional, empty = no auth header)
	NATSURL   string // GP_NATS_URL (optional, empty = no external events)

	UserID   string // GP_USER_ID (required)
	DeviceID string // GP_DEVICE_ID (required)

	// Sync settings
	DrainInterval    time.Duration // GP_DRAIN_INTERVAL (default 15s)
	CallTimeout      time.Duration // GP_CALL_TIMEOUT (default 10s)
	RetryBase        time.Duration // GP_RETRY_BASE (default 2s)
	RetryMax         time.Duration // GP_RETRY_MAX (default 2m)
	RetryMaxAttempts int           // GP_RETRY_MAX_ATTEMPTS (default 8)

	// Archive settings
	ArchiveInterval   time.Duration // GP_ARCHIVE_INTERVAL (default 10m; 0 = disabled)
	ArchiveS3Bucket   string        // GP_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // GP_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // GP_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string        // GP_ARCHIVE_S3_KEY (default "gatepass/archive.jsonl")
}

// Load reads the engine configuration from the environment.
func Load() (*Config, error) {
	c := &Config{
		QueuePath:         os.Getenv("GP_QUEUE_PATH"),
		RemoteURL:         os.Getenv("GP_REMOTE_URL"),
		AuthToken:         os.Getenv("GP_AUTH_TOKEN"),
		NATSURL:           os.Getenv("GP_NATS_URL"),
		UserID:            os.Getenv("GP_USER_ID"),
		DeviceID:          os.Getenv("GP_DEVICE_ID"),
		ArchiveS3Bucket:   os.Getenv("GP_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("GP_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("GP_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Key:      envOrDefault("GP_ARCHIVE_S3_KEY", "gatepass/archive.jsonl"),
	}

	if c.UserID == "" {
		return nil, fmt.Errorf("GP_USER_ID is required")
	}
	if c.DeviceID == "" {
		return nil, fmt.Errorf("GP_DEVICE_ID is required")
	}

	if c.QueuePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		c.QueuePath = filepath.Join(home, ".gatepass", "queue.db")
	}

	var err error
	if c.DrainInterval, err = durationEnv("GP_DRAIN_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if c.CallTimeout, err = durationEnv("GP_CALL_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.RetryBase, err = durationEnv("GP_RETRY_BASE", 2*time.Second); err != nil {
		return nil, err
	}
	if c.RetryMax, err = durationEnv("GP_RETRY_MAX", 2*time.Minute); err != nil {
		return nil, err
	}
	if c.RetryMaxAttempts, err = intEnv("GP_RETRY_MAX_ATTEMPTS", 8); err != nil {
		return nil, err
	}
	if c.ArchiveInterval, err = durationEnv("GP_ARCHIVE_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}

	return c, nil
}

// LedgerConfig is the server-side ledger configuration.
type LedgerConfig struct {
	DatabaseURL string // GP_DATABASE_URL (required)
	HTTPAddr    string // GP_HTTP_ADDR (default ":8080")
	AuthToken   string // GP_AUTH_TOKEN (optional, empty = auth disabled)
}

// LoadLedger reads the ledger configuration from the environment.
func LoadLedger() (*LedgerConfig, error) {
	c := &LedgerConfig{
		DatabaseURL: os.Getenv("GP_DATABASE_URL"),
		HTTPAddr:    envOrDefault("GP_HTTP_ADDR", ":8080"),
		AuthToken:   os.Getenv("GP_AUTH_TOKEN"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("GP_DATABASE_URL is required")
	}
	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
