package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("HUME_API_KEY", "test-key")
	t.Setenv("DATA_DIR", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://api.hume.ai/v0", cfg.Hume.APIURL)
	assert.Equal(t, 10, cfg.Tracker.BatchSize)
	assert.Equal(t, 1, cfg.Tracker.Workers)
	assert.Equal(t, time.Second, cfg.Tracker.PollInterval)
	assert.Equal(t, 120, cfg.Tracker.PollMaxAttempts)
	assert.Zero(t, cfg.Tracker.SubmitRetries)
	assert.False(t, cfg.Tracker.RequeueOnTimeout)
	assert.Equal(t, "127.0.0.1:8787", cfg.HTTP.Addr)
	assert.Equal(t, filepath.Join("data", "vibetracker.db"), cfg.DBPath())
}

func TestNewFromEnv_FromEnv(t *testing.T) {
	t.Setenv("HUME_API_KEY", "test-key")
	t.Setenv("BATCH_SIZE", "4")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("REQUEUE_ON_TIMEOUT", "true")
	t.Setenv("DATA_DIR", "/tmp/vibe-data")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Tracker.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracker.PollInterval)
	assert.True(t, cfg.Tracker.RequeueOnTimeout)
	assert.Equal(t, "/tmp/vibe-data/vibetracker.db", cfg.DBPath())
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "/tmp/vibe-data/summary-2024-03-09.json", cfg.RolloverPath(day))
}

func TestNewFromEnv_Validation(t *testing.T) {
	t.Setenv("HUME_API_KEY", "")
	_, err := NewFromEnv()
	require.Error(t, err)

	t.Setenv("HUME_API_KEY", "test-key")
	t.Setenv("ROLLOVER_CRON", "not a cron")
	_, err = NewFromEnv()
	require.Error(t, err)

	t.Setenv("ROLLOVER_CRON", "")
	t.Setenv("BATCH_SIZE", "0")
	_, err = NewFromEnv()
	require.Error(t, err)
}

func TestHumeConfig_StringMasksKey(t *testing.T) {
	cfg := HumeConfig{APIKey: "abcdefgh", APIURL: "https://example.test"}
	assert.NotContains(t, cfg.String(), "abcdefgh")
	assert.Contains(t, cfg.String(), "ab****gh")
}

func TestWithFileSettings_OverridesEnv(t *testing.T) {
	t.Setenv("HUME_API_KEY", "env-key")
	t.Setenv("BATCH_SIZE", "10")

	cfg, err := NewFromEnv(WithFileSettings(FileSettings{
		HumeAPIKey:    "file-key",
		HumeAPISecret: "file-secret",
		HumeAPIURL:    "https://file.example/v0",
		BatchSize:     2,
	}))
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.Hume.APIKey)
	assert.Equal(t, "file-secret", cfg.Hume.SecretKey)
	assert.Equal(t, "https://file.example/v0", cfg.Hume.APIURL)
	assert.Equal(t, 2, cfg.Tracker.BatchSize)
}

func TestLoad_ReadsSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vibetracker.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"humeApiKey":"k-file","humeApiSecret":"s","batchSize":3}`), 0o600))
	t.Setenv("SETTINGS_FILE", path)
	t.Setenv("HUME_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "k-file", cfg.Hume.APIKey)
	assert.Equal(t, 3, cfg.Tracker.BatchSize)
	assert.Equal(t, path, cfg.System.SettingsFile)
}

func TestLoad_MissingSettingsFileFallsBackToEnv(t *testing.T) {
	t.Setenv("SETTINGS_FILE", filepath.Join(t.TempDir(), "absent.json"))
	t.Setenv("HUME_API_KEY", "env-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Hume.APIKey)
}

func TestLoad_InvalidSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vibetracker.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	t.Setenv("SETTINGS_FILE", path)

	_, err := Load()
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"humeApiSecret":"only-secret"}`), 0o600))
	_, err = Load()
	require.Error(t, err)
}

func TestNewFromEnv_RolloverCanBeDisabled(t *testing.T) {
	t.Setenv("HUME_API_KEY", "test-key")
	t.Setenv("ROLLOVER_CRON", "off")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.System.RolloverCron)
}
