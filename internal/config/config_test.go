package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageFilesystem, cfg.Storage.Driver)
	assert.Equal(t, 5, cfg.Backup.Retain)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.DataDir, "profiles"), cfg.Storage.RecordsDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "history"), cfg.Storage.HistoryDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "backups"), cfg.Blob.Root)
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "circlereports.yaml")
	yamlDoc := "data_dir: " + dir + "\nstorage:\n  driver: sqlite\nbackup:\n  retain: 3\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	t.Setenv("CIRCLEREPORTS_BACKUP_RETAIN", "7")
	t.Setenv("CIRCLEREPORTS_METRICS", "prometheus")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, 7, cfg.Backup.Retain)
	assert.Equal(t, "prometheus", cfg.Metrics.Driver)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	assert.Equal(t, filepath.Join(dir, "circlereports.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, 4, cfg.Report.Concurrency, "unset yaml keys keep defaults")
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown driver":  "storage:\n  driver: mongo\n",
		"negative keep":   "backup:\n  retain: -1\n",
		"s3 no bucket":    "blob:\n  driver: s3\n",
		"bad yaml":        "storage: [",
		"postgres no dsn": "storage:\n  driver: postgres\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "cfg.yaml")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnvParsesNumbersAndFlags(t *testing.T) {
	env := map[string]string{
		"CIRCLEREPORTS_BLOB_S3_PATH_STYLE": "TRUE",
		"CIRCLEREPORTS_REPORT_CONCURRENCY": "8",
		"CIRCLEREPORTS_BLOB_S3_BUCKET":     "archives",
		"CIRCLEREPORTS_STORAGE_DRIVER":     "badger",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.True(t, cfg.Blob.S3.PathStyle)
	assert.Equal(t, 8, cfg.Report.Concurrency)
	assert.Equal(t, "archives", cfg.Blob.S3.Bucket)
	assert.Equal(t, StorageBadger, cfg.Storage.Driver)

	env["CIRCLEREPORTS_BACKUP_RETAIN"] = "many"
	assert.Error(t, cfg.ApplyEnv(lookup))
}

func TestLoadWithLookupAnchorsPaths(t *testing.T) {
	dir := t.TempDir()
	lookup := func(key string) (string, bool) {
		if key == "CIRCLEREPORTS_DATA_DIR" {
			return dir, true
		}
		return "", false
	}
	cfg, err := LoadWith("", lookup)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "profiles"), cfg.Storage.RecordsDir)
	assert.Equal(t, filepath.Join(dir, "badger"), cfg.Storage.BadgerPath)
}
