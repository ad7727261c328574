package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRACKING_API_TOKEN", "pk_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://a.klaviyo.com/api/track", cfg.Tracking.Endpoint)
	assert.Equal(t, 15*time.Second, cfg.Tracking.Timeout)
	assert.Equal(t, SchedulerBackendPostgres, cfg.Scheduler.Backend)
	assert.Equal(t, "tracking_events", cfg.Scheduler.Group)
	assert.Equal(t, 10, cfg.Scheduler.BatchSize)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
}

func TestLoad_RequiresToken(t *testing.T) {
	t.Setenv("TRACKING_API_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRACKING_API_TOKEN")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRACKING_API_TOKEN", "pk_test")
	t.Setenv("TRACKING_TIMEOUT", "3s")
	t.Setenv("SCHEDULER_BACKEND", SchedulerBackendMemory)
	t.Setenv("SCHEDULER_CONCURRENCY", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Tracking.Timeout)
	assert.Equal(t, SchedulerBackendMemory, cfg.Scheduler.Backend)
	assert.Equal(t, 8, cfg.Scheduler.Concurrency)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("TRACKING_API_TOKEN", "pk_test")

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("SCHEDULER_BACKEND", "kafka")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("TRACKING_TIMEOUT", "soon")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestDatabaseConfig_URL(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", db.URL())
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", db.DSN())
}
