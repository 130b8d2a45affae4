package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 7200, cfg.Track.RetentionSeconds)
	assert.Equal(t, "UTC", cfg.Cron.DefaultTimezone)
	assert.Equal(t, 300, cfg.Cron.DefaultTimeoutSeconds)
	assert.Equal(t, 1, cfg.Queue.Workers)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quarters.toml")
	content := `
[queue]
workers = 4
database_path = ":memory:"

[cron]
default_timezone = "Europe/Amsterdam"

[track]
retention_seconds = 600
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, ":memory:", cfg.Queue.DatabasePath)
	assert.Equal(t, "Europe/Amsterdam", cfg.Cron.DefaultTimezone)
	assert.Equal(t, 600, cfg.Track.RetentionSeconds)
	// Unset sections keep defaults
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestResetClearsCache(t *testing.T) {
	Reset()
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again)

	Reset()
	third, err := Load()
	require.NoError(t, err)
	assert.NotSame(t, cfg, third)
}
