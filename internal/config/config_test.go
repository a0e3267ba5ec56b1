package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JOB_TIMEOUT_SECONDS", "")
	t.Setenv("OUTPUT_DIR", "")
	t.Setenv("GIN_MODE", "")
	t.Setenv("APP_USERNAME", "")
	t.Setenv("API_TOKEN", "")
	t.Setenv("REPLAY_FEED_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "replay_feed.csv", cfg.ReplayFeedPath)
	require.Equal(t, "scraper_outputs", cfg.OutputDir)
	require.Equal(t, 900*time.Second, cfg.JobTimeout())
	require.Equal(t, 72*time.Hour, cfg.ArtifactRetention())
	require.Equal(t, time.Hour, cfg.SweepInterval())
	require.False(t, cfg.AuthEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JOB_TIMEOUT_SECONDS", "30")
	t.Setenv("SWEEP_INTERVAL_MINUTES", "5")
	t.Setenv("API_TOKEN", "secret")
	t.Setenv("GIN_MODE", "release")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.JobTimeout())
	require.Equal(t, 5*time.Minute, cfg.SweepInterval())
	require.True(t, cfg.AuthEnabled())
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	t.Setenv("JOB_TIMEOUT_SECONDS", "abc")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 900, cfg.JobTimeoutSec)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			OutputDir:              "out",
			JobTimeoutSec:          900,
			ArtifactRetentionHours: 72,
			SweepIntervalMinutes:   60,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "zero timeout", mutate: func(c *Config) { c.JobTimeoutSec = 0 }, wantErr: true},
		{name: "negative retention", mutate: func(c *Config) { c.ArtifactRetentionHours = -1 }, wantErr: true},
		{name: "username without hash", mutate: func(c *Config) { c.AppUsername = "admin" }, wantErr: true},
		{name: "release without auth", mutate: func(c *Config) { c.GinMode = "release" }, wantErr: true},
		{name: "release with token", mutate: func(c *Config) {
			c.GinMode = "release"
			c.APIToken = "t"
		}},
		{name: "empty output dir", mutate: func(c *Config) { c.OutputDir = " " }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
