package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/filecore")
	t.Setenv("SECRETS_MASTER_KEY", testKey)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "postgres", cfg.MetadataBackend)
	assert.Equal(t, "local", cfg.StorageBackend)
	assert.Equal(t, "./storage", cfg.LocalStoragePath)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxUploadSize)
	assert.Equal(t, 10, cfg.MaxVersionsPerFile)
	assert.Equal(t, 6*time.Hour, cfg.SweepInterval)
	assert.Equal(t, 30, cfg.DefaultRetentionDays)
	assert.Equal(t, "us-east-1", cfg.S3Region)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("METADATA_BACKEND", "badger")
	t.Setenv("BADGER_PATH", "/tmp/meta")
	t.Setenv("SECRETS_MASTER_KEY", testKey)
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("MAX_VERSIONS_PER_FILE", "3")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.MetadataBackend)
	assert.Equal(t, "/tmp/meta", cfg.BadgerPath)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 3, cfg.MaxVersionsPerFile)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filecore.yaml")
	content := []byte("metadata_backend: badger\nbadger_path: /srv/meta\nstorage_backend: hybrid\nuploads_per_minute: 60\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("SECRETS_MASTER_KEY", testKey)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/meta", cfg.BadgerPath)
	assert.Equal(t, "hybrid", cfg.StorageBackend)
	assert.Equal(t, 60, cfg.UploadsPerMinute)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database url", map[string]string{"SECRETS_MASTER_KEY": testKey}},
		{"missing master key", map[string]string{"DATABASE_URL": "postgres://x"}},
		{"bad storage backend", map[string]string{"DATABASE_URL": "postgres://x", "SECRETS_MASTER_KEY": testKey, "STORAGE_BACKEND": "ftp"}},
		{"s3 without bucket", map[string]string{"DATABASE_URL": "postgres://x", "SECRETS_MASTER_KEY": testKey, "STORAGE_BACKEND": "s3"}},
		{"bad log level", map[string]string{"DATABASE_URL": "postgres://x", "SECRETS_MASTER_KEY": testKey, "LOG_LEVEL": "verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
