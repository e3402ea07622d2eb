package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.Backend != defaultBackend {
		t.Errorf("Backend = %q, want %q", cfg.Backend, defaultBackend)
	}
	if cfg.ReconcileInterval != defaultReconcileInterval {
		t.Errorf("ReconcileInterval = %v, want %v", cfg.ReconcileInterval, defaultReconcileInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envBackend, "aks")
	t.Setenv(envReconcileInterval, "5s")
	t.Setenv(envStorageAccount, "acct")
	t.Setenv(envBatchNodes, "3")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.Backend != "aks" {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.ReconcileInterval != 5*time.Second {
		t.Errorf("ReconcileInterval = %v", cfg.ReconcileInterval)
	}
	if cfg.StorageAccountName != "acct" {
		t.Errorf("StorageAccountName = %q", cfg.StorageAccountName)
	}
	if cfg.BatchDedicatedNodes != 3 {
		t.Errorf("BatchDedicatedNodes = %d", cfg.BatchDedicatedNodes)
	}
}

func TestSecretsDirOverridesEnvironment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "TESKIT-STORAGE-ACCOUNT-KEY"), []byte("file-secret\n"), 0o600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}

	t.Setenv(envSecretsDir, dir)
	t.Setenv(envStorageKey, "env-secret")
	t.Setenv(envStorageAccount, "acct")

	cfg := Load()

	if cfg.StorageAccountKey != "file-secret" {
		t.Errorf("StorageAccountKey = %q, want file override", cfg.StorageAccountKey)
	}
	// Variables without a secret file still come from the environment.
	if cfg.StorageAccountName != "acct" {
		t.Errorf("StorageAccountName = %q", cfg.StorageAccountName)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLogLevel(input); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
