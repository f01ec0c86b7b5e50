package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, "30s", cfg.Metrics.Interval)
	assert.Equal(t, "UTC", cfg.Calendar.Timezone)
	assert.False(t, cfg.Dispatch.Disabled)

	policy, err := cfg.Dispatch.Policy()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, policy.Interval)
	assert.Equal(t, 30*time.Second, policy.PublishTimeout)
	assert.Equal(t, time.Hour, policy.MaxDelay)
	assert.Equal(t, 5, policy.PlatformConcurrency)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
dispatch:
  interval: 15s
  max_retries: 5
  base_delay: 2s
publishers:
  tiktok:
    enabled: true
    endpoint: http://gateway/tiktok
campaigns:
  static:
    - id: camp-1
      name: Spring launch
      launch_instant: "2024-01-15T14:00:00Z"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	policy, err := cfg.Dispatch.Policy()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, policy.Interval)
	assert.Equal(t, 5, policy.MaxRetries)
	assert.Equal(t, 2*time.Second, policy.BaseDelay)
	assert.True(t, cfg.Publishers.TikTok.Enabled)
	assert.Equal(t, "http://gateway/tiktok", cfg.Publishers.TikTok.Endpoint)
	require.Len(t, cfg.Campaigns.Static, 1)
	assert.Equal(t, "Spring launch", cfg.Campaigns.Static[0].Name)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "dispatch:\n  interval: soon\n")

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "dispatch.interval")
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("nope", time.Minute))
	assert.Equal(t, time.Minute, Duration("-1s", time.Minute))
}
