// Package config loads application configuration from environment variables,
// with file-based overrides for secrets mounted into the container.
package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "teskit.db"
	defaultBackend           = "batch"
	defaultStorageContainer  = "tes"
	defaultReconcileInterval = 30 * time.Second

	envListenAddr        = "TESKIT_LISTEN_ADDR"
	envDBPath            = "TESKIT_DB_PATH"
	envLogLevel          = "TESKIT_LOG_LEVEL"
	envBackend           = "TESKIT_BACKEND"
	envSecretsDir        = "TESKIT_SECRETS_DIR"
	envReconcileInterval = "TESKIT_RECONCILE_INTERVAL"

	envStorageAccount   = "TESKIT_STORAGE_ACCOUNT_NAME"
	envStorageKey       = "TESKIT_STORAGE_ACCOUNT_KEY"
	envStorageContainer = "TESKIT_STORAGE_CONTAINER"

	envBatchAccountName = "TESKIT_BATCH_ACCOUNT_NAME"
	envBatchAccountKey  = "TESKIT_BATCH_ACCOUNT_KEY"
	envBatchAccountURL  = "TESKIT_BATCH_ACCOUNT_URL"
	envBatchPoolID      = "TESKIT_BATCH_POOL_ID"
	envBatchNodes       = "TESKIT_BATCH_DEDICATED_NODES"
	envBatchLowPrio     = "TESKIT_BATCH_LOW_PRIORITY_NODES"
	envFileshareName    = "TESKIT_FILESHARE_NAME"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr        string
	DBPath            string
	LogLevel          slog.Level
	Backend           string
	ReconcileInterval time.Duration

	StorageAccountName string
	StorageAccountKey  string
	StorageContainer   string

	BatchAccountName      string
	BatchAccountKey       string
	BatchAccountURL       string
	BatchPoolID           string
	BatchDedicatedNodes   int
	BatchLowPriorityNodes int
	FileshareName         string
}

// Load reads configuration from environment variables with sensible
// defaults. When TESKIT_SECRETS_DIR is set, a file named after a variable
// with dashes in place of underscores (e.g. TESKIT-STORAGE-ACCOUNT-KEY)
// overrides that variable; this is how mounted secret volumes deliver
// credentials without exposing them in the environment.
func Load() Config {
	secretsDir := os.Getenv(envSecretsDir)
	get := func(key string) string {
		if secretsDir != "" {
			name := strings.ReplaceAll(key, "_", "-")
			if data, err := os.ReadFile(filepath.Join(secretsDir, name)); err == nil {
				return strings.TrimSpace(string(data))
			}
		}
		return os.Getenv(key)
	}

	cfg := Config{
		ListenAddr:          defaultListenAddr,
		DBPath:              defaultDBPath,
		LogLevel:            slog.LevelInfo,
		Backend:             defaultBackend,
		ReconcileInterval:   defaultReconcileInterval,
		StorageContainer:    defaultStorageContainer,
		BatchDedicatedNodes: 1,
	}

	if v := get(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := get(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := get(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := get(envBackend); v != "" {
		cfg.Backend = v
	}
	if v := get(envReconcileInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ReconcileInterval = d
		}
	}

	cfg.StorageAccountName = get(envStorageAccount)
	cfg.StorageAccountKey = get(envStorageKey)
	if v := get(envStorageContainer); v != "" {
		cfg.StorageContainer = v
	}

	cfg.BatchAccountName = get(envBatchAccountName)
	cfg.BatchAccountKey = get(envBatchAccountKey)
	cfg.BatchAccountURL = get(envBatchAccountURL)
	cfg.BatchPoolID = get(envBatchPoolID)
	if v := get(envBatchNodes); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.BatchDedicatedNodes = n
		}
	}
	if v := get(envBatchLowPrio); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.BatchLowPriorityNodes = n
		}
	}
	cfg.FileshareName = get(envFileshareName)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
