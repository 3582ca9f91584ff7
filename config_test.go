package orderproc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("should write defaults on first run", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "orderproc")

		cfg, err := LoadConfig(dir)
		require.NoError(t, err)

		assert.FileExists(t, filepath.Join(dir, "config.yaml"))
		assert.Equal(t, "127.0.0.1", cfg.Server.Address)
		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		assert.Zero(t, cfg.Server.WriteTimeout)
		assert.True(t, cfg.Server.Compression)
		assert.Equal(t, filepath.Join(dir, "orders.db"), cfg.Database.Path)
		assert.Equal(t, 10000, cfg.Stress.MaxOrders)
		assert.Equal(t, 100, cfg.Stress.DefaultBatchSize)
		assert.Equal(t, 24, cfg.Analytics.WindowHours)
		assert.Equal(t, "http://localhost:3000", cfg.CORS.AllowedOrigin)
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("should read values from the file", func(t *testing.T) {
		dir := t.TempDir()
		content := "server:\n  port: \"9090\"\nstress:\n  max_orders: 500\nlog:\n  level: debug\n  format: json\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))

		cfg, err := LoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, "9090", cfg.Server.Port)
		assert.Equal(t, 500, cfg.Stress.MaxOrders)
		assert.Equal(t, 100, cfg.Stress.DefaultBatchSize)

		level, err := cfg.LogLevel()
		require.NoError(t, err)
		assert.Equal(t, "DEBUG", level.String())
	})

	t.Run("should let the environment override the file", func(t *testing.T) {
		t.Setenv("ORDERPROC_SERVER_PORT", "7070")

		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "7070", cfg.Server.Port)
	})

	t.Run("should reject half configured tls", func(t *testing.T) {
		dir := t.TempDir()
		content := "server:\n  tls_cert: /tmp/cert.pem\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))

		_, err := LoadConfig(dir)
		require.Error(t, err)
	})

	t.Run("should reject unknown log formats", func(t *testing.T) {
		t.Setenv("ORDERPROC_LOG_FORMAT", "xml")

		_, err := LoadConfig(t.TempDir())
		require.Error(t, err)
	})
}

func TestConfigSet(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.NoError(t, cfg.Set("cache.size", 64))
	assert.Equal(t, 64, cfg.Cache.Size)

	reloaded, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 64, reloaded.Cache.Size)
}

func TestConfigSetRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	t.Run("should keep the file loadable", func(t *testing.T) {
		require.Error(t, cfg.Set("log.format", "xml"))
		assert.Equal(t, "text", cfg.Log.Format)

		reloaded, err := LoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, "text", reloaded.Log.Format)
	})

	t.Run("should accept a valid value afterwards", func(t *testing.T) {
		require.NoError(t, cfg.Set("log.format", "json"))

		reloaded, err := LoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, "json", reloaded.Log.Format)
	})

	t.Run("should reject values of the wrong type", func(t *testing.T) {
		require.Error(t, cfg.Set("cache.size", "lots"))

		reloaded, err := LoadConfig(dir)
		require.NoError(t, err)
		assert.Equal(t, 1024, reloaded.Cache.Size)
	})
}
