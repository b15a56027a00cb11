package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/inkwell_test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "inkwell-notifyd", cfg.Service)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Queue.Enabled)
	assert.Equal(t, "UTC", cfg.Queue.Timezone)
	assert.Equal(t, 20, cfg.Queue.BatchSize)
	assert.Equal(t, time.Second, cfg.Queue.BatchDelay)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Queue.DispatchInterval)
	assert.Equal(t, 5*time.Minute, cfg.Queue.HourlyTolerance)
	assert.Equal(t, 720*time.Hour, cfg.Queue.Retention)
	assert.Equal(t, 15*time.Minute, cfg.Queue.ClaimStaleAfter)
	assert.Equal(t, "digest@inkwell.app", cfg.Email.FromAddress)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QUEUE_TIMEZONE", "America/New_York")
	t.Setenv("QUEUE_BATCH_SIZE", "50")
	t.Setenv("QUEUE_DISPATCH_INTERVAL", "30s")
	t.Setenv("QUEUE_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", cfg.Queue.Timezone)
	assert.Equal(t, 50, cfg.Queue.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Queue.DispatchInterval)
	assert.False(t, cfg.Queue.Enabled)
	assert.Equal(t, "America/New_York", cfg.Location().String())
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "sandbox")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("QUEUE_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_TIMEZONE")
}

func TestLoad_ProductionRequiresAdminToken(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "prod")
	t.Setenv("ADMIN_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_TOKEN")

	t.Setenv("ADMIN_TOKEN", "token-123")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProductionLike())
}

func TestIsProductionLike(t *testing.T) {
	assert.False(t, (&Config{Environment: "local"}).IsProductionLike())
	assert.False(t, (&Config{Environment: "dev"}).IsProductionLike())
	assert.True(t, (&Config{Environment: "staging"}).IsProductionLike())
	assert.True(t, (&Config{Environment: "prod"}).IsProductionLike())
}
