package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.SchedulerCheckIntervalS)
	assert.Equal(t, 10, cfg.SchedulerJitterS)
	assert.Equal(t, 3600, cfg.PipelineDefaultTimeoutS)
	assert.Equal(t, 3, cfg.PipelineDefaultMaxRetries)
	assert.Equal(t, 3, cfg.ShutdownLBDrainS)
	assert.Equal(t, 2, cfg.ShutdownTaskDrainS)
	assert.Equal(t, 10, cfg.ShutdownPoolCloseTimeoutS)
	assert.Equal(t, int32(1), cfg.AdvisoryLockNamespaceScheduler)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCHEDULER_CHECK_INTERVAL_S", "5")
	t.Setenv("SCHEDULER_JITTER_S", "0")
	t.Setenv("PIPELINE_DEFAULT_MAX_RETRIES", "7")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("SMTP_HOST", "smtp.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.SchedulerCheckIntervalS)
	assert.Equal(t, 0, cfg.SchedulerJitterS)
	assert.Equal(t, 7, cfg.PipelineDefaultMaxRetries)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "smtp.example.com", cfg.SMTPHost)
	assert.Equal(t, "587", cfg.SMTPPort)
	assert.Equal(t, 5*time.Second, cfg.SchedulerCheckInterval())
}

func TestDurationAccessors(t *testing.T) {
	cfg := &Config{
		SchedulerCheckIntervalS:   60,
		SchedulerJitterS:          10,
		PipelineDefaultTimeoutS:   3600,
		ShutdownLBDrainS:          3,
		ShutdownTaskDrainS:        2,
		ShutdownPoolCloseTimeoutS: 10,
		CancelDrainS:              5,
	}

	assert.Equal(t, time.Minute, cfg.SchedulerCheckInterval())
	assert.Equal(t, 10*time.Second, cfg.SchedulerJitter())
	assert.Equal(t, time.Hour, cfg.PipelineDefaultTimeout())
	assert.Equal(t, 3*time.Second, cfg.ShutdownLBDrain())
	assert.Equal(t, 2*time.Second, cfg.ShutdownTaskDrain())
	assert.Equal(t, 10*time.Second, cfg.ShutdownPoolCloseTimeout())
	assert.Equal(t, 5*time.Second, cfg.CancelDrain())
}
