package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "GEMA Sync Agent", cfg.AppName)
	require.Equal(t, ":8090", cfg.HTTPAddress())
	require.Equal(t, "pebble", cfg.QueueDriver)
	require.Equal(t, 3, cfg.SyncMaxRetries)
	require.Equal(t, 30*time.Second, cfg.SyncInterval)
	require.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, time.Minute, cfg.RateLimitDefaultWindow)
	require.Equal(t, "gema.sync", cfg.NATSSubject)
	require.Empty(t, cfg.RateLimitPolicies)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_QUEUE_DRIVER", "SQLite")
	t.Setenv("GEMA_SYNC_MAX_RETRIES", "5")
	t.Setenv("GEMA_SYNC_INTERVAL", "2m")
	t.Setenv("GEMA_APP_PORT", ":9000")
	t.Setenv("GEMA_RATELIMIT_POLICIES", "ai_generation=5/1m, sync_now=2/30s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.QueueDriver)
	require.Equal(t, 5, cfg.SyncMaxRetries)
	require.Equal(t, 2*time.Minute, cfg.SyncInterval)
	require.Equal(t, ":9000", cfg.HTTPAddress())
	require.Equal(t, map[string]RateLimitPolicy{
		"ai_generation": {MaxRequests: 5, Window: time.Minute},
		"sync_now":      {MaxRequests: 2, Window: 30 * time.Second},
	}, cfg.RateLimitPolicies)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":  {},
		"bad duration":    {"GEMA_JWT_SECRET": "s", "GEMA_SYNC_INTERVAL": "soon"},
		"unknown driver":  {"GEMA_JWT_SECRET": "s", "GEMA_QUEUE_DRIVER": "bolt"},
		"redis needs url": {"GEMA_JWT_SECRET": "s", "GEMA_QUEUE_DRIVER": "redis"},
		"policy format":   {"GEMA_JWT_SECRET": "s", "GEMA_RATELIMIT_POLICIES": "sync_now=2"},
		"policy budget":   {"GEMA_JWT_SECRET": "s", "GEMA_RATELIMIT_POLICIES": "sync_now=0/1m"},
		"policy window":   {"GEMA_JWT_SECRET": "s", "GEMA_RATELIMIT_POLICIES": "sync_now=2/never"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("GEMA_JWT_SECRET", "")
			for key, value := range env {
				t.Setenv(key, value)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
