package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "01:00", cfg.Scheduler.DailyReportTime)
	assert.Equal(t, 3, cfg.Grace.DefaultGraceDays)

	// File should now exist and round-trip.
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Grace.DefaultGraceDays = 7
	cfg.AutoApprove.GlobalEnabled = true
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Grace.DefaultGraceDays)
	assert.True(t, loaded.AutoApprove.GlobalEnabled)
}

func TestStoreReloadNotifiesCallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, Default()))

	s, err := NewStore(path)
	require.NoError(t, err)

	var seen *Config
	s.OnReload(func(c *Config) { seen = c })

	cfg := Default()
	cfg.Grace.DefaultGraceDays = 10
	require.NoError(t, Save(path, cfg))

	_, err = s.Reload()
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, 10, seen.Grace.DefaultGraceDays)
	assert.Equal(t, 10, s.Current().Grace.DefaultGraceDays)
}
