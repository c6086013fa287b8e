package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, []string{"localhost:9042"}, cfg.ScyllaHosts)
	require.Equal(t, "dhuan", cfg.Keyspace)
	require.Equal(t, "chat-events", cfg.KafkaTopic)
	require.Equal(t, 1000, cfg.MaxContentRunes)
	require.Equal(t, "0 * * * *", cfg.SweepCron)
	require.Equal(t, 5*time.Second, cfg.ResyncInterval)
	require.Equal(t, 60*time.Second, cfg.LocalSweepInterval)
	require.Equal(t, 24, cfg.EstimatedTTLHours)
	require.Equal(t, 6, cfg.MaxSubscribeTry)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DHUAN_SCYLLA_HOSTS", "db1:9042, db2:9042")
	t.Setenv("DHUAN_ESTIMATED_TTL_HOURS", "48")
	t.Setenv("DHUAN_RESYNC_INTERVAL", "2s")
	t.Setenv("DHUAN_SWEEP_CRON", "*/5 * * * *")

	cfg := Load()
	require.Equal(t, []string{"db1:9042", "db2:9042"}, cfg.ScyllaHosts)
	require.Equal(t, 48, cfg.EstimatedTTLHours)
	require.Equal(t, 2*time.Second, cfg.ResyncInterval)
	require.Equal(t, "*/5 * * * *", cfg.SweepCron)
}

func TestLoadIgnoresBadValues(t *testing.T) {
	t.Setenv("DHUAN_MAX_CONTENT_RUNES", "-5")
	t.Setenv("DHUAN_SEND_TIMEOUT", "soon")
	t.Setenv("DHUAN_ESTIMATED_TTL_HOURS", "nope")

	cfg := Load()
	require.Equal(t, 1000, cfg.MaxContentRunes)
	require.Equal(t, 10*time.Second, cfg.SendTimeout)
	require.Equal(t, 24, cfg.EstimatedTTLHours)
}
