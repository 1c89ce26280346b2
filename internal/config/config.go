package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the runtime configuration of the orchestration core.
// All values are bound to environment variables; a .env file in the
// working directory is loaded first when present.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	DatabaseURL string `mapstructure:"databaseURL"`
	RedisURL    string `mapstructure:"redisURL"`
	SlackToken  string `mapstructure:"slackToken"`

	SMTPHost     string `mapstructure:"smtpHost"`
	SMTPPort     string `mapstructure:"smtpPort"`
	SMTPUsername string `mapstructure:"smtpUsername"`
	SMTPPassword string `mapstructure:"smtpPassword"`
	SMTPFrom     string `mapstructure:"smtpFrom"`

	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"logFormat"`

	SchedulerCheckIntervalS int `mapstructure:"schedulerCheckIntervalS"`
	SchedulerJitterS        int `mapstructure:"schedulerJitterS"`

	PipelineDefaultTimeoutS   int `mapstructure:"pipelineDefaultTimeoutS"`
	PipelineDefaultMaxRetries int `mapstructure:"pipelineDefaultMaxRetries"`

	ShutdownLBDrainS          int `mapstructure:"shutdownLBDrainS"`
	ShutdownTaskDrainS        int `mapstructure:"shutdownTaskDrainS"`
	ShutdownPoolCloseTimeoutS int `mapstructure:"shutdownPoolCloseTimeoutS"`

	CancelDrainS int `mapstructure:"cancelDrainS"`

	AdvisoryLockNamespaceScheduler int32 `mapstructure:"advisoryLockNamespaceScheduler"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	_ = v.BindEnv("host", "SERVER_HOST")
	_ = v.BindEnv("port", "SERVER_PORT")
	_ = v.BindEnv("databaseURL", "DATABASE_URL")
	_ = v.BindEnv("redisURL", "REDIS_URL")
	_ = v.BindEnv("slackToken", "SLACK_TOKEN")
	_ = v.BindEnv("smtpHost", "SMTP_HOST")
	_ = v.BindEnv("smtpPort", "SMTP_PORT")
	_ = v.BindEnv("smtpUsername", "SMTP_USERNAME")
	_ = v.BindEnv("smtpPassword", "SMTP_PASSWORD")
	_ = v.BindEnv("smtpFrom", "SMTP_FROM")
	_ = v.BindEnv("debug", "DEBUG")
	_ = v.BindEnv("logFormat", "LOG_FORMAT")
	_ = v.BindEnv("schedulerCheckIntervalS", "SCHEDULER_CHECK_INTERVAL_S")
	_ = v.BindEnv("schedulerJitterS", "SCHEDULER_JITTER_S")
	_ = v.BindEnv("pipelineDefaultTimeoutS", "PIPELINE_DEFAULT_TIMEOUT_S")
	_ = v.BindEnv("pipelineDefaultMaxRetries", "PIPELINE_DEFAULT_MAX_RETRIES")
	_ = v.BindEnv("shutdownLBDrainS", "SHUTDOWN_LB_DRAIN_S")
	_ = v.BindEnv("shutdownTaskDrainS", "SHUTDOWN_TASK_DRAIN_S")
	_ = v.BindEnv("shutdownPoolCloseTimeoutS", "SHUTDOWN_POOL_CLOSE_TIMEOUT_S")
	_ = v.BindEnv("cancelDrainS", "CANCEL_DRAIN_S")
	_ = v.BindEnv("advisoryLockNamespaceScheduler", "ADVISORY_LOCK_NAMESPACE_SCHEDULER")

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8080)
	v.SetDefault("databaseURL", "")
	v.SetDefault("redisURL", "")
	v.SetDefault("slackToken", "")
	v.SetDefault("smtpHost", "")
	v.SetDefault("smtpPort", "587")
	v.SetDefault("smtpUsername", "")
	v.SetDefault("smtpPassword", "")
	v.SetDefault("smtpFrom", "")
	v.SetDefault("debug", false)
	v.SetDefault("logFormat", "text")
	v.SetDefault("schedulerCheckIntervalS", 60)
	v.SetDefault("schedulerJitterS", 10)
	v.SetDefault("pipelineDefaultTimeoutS", 3600)
	v.SetDefault("pipelineDefaultMaxRetries", 3)
	v.SetDefault("shutdownLBDrainS", 3)
	v.SetDefault("shutdownTaskDrainS", 2)
	v.SetDefault("shutdownPoolCloseTimeoutS", 10)
	v.SetDefault("cancelDrainS", 5)
	v.SetDefault("advisoryLockNamespaceScheduler", 1)

	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// SchedulerCheckInterval returns the scheduler tick interval.
func (c *Config) SchedulerCheckInterval() time.Duration {
	return time.Duration(c.SchedulerCheckIntervalS) * time.Second
}

// SchedulerJitter returns the maximum random delay added to each tick.
func (c *Config) SchedulerJitter() time.Duration {
	return time.Duration(c.SchedulerJitterS) * time.Second
}

// PipelineDefaultTimeout returns the default per-run timeout.
func (c *Config) PipelineDefaultTimeout() time.Duration {
	return time.Duration(c.PipelineDefaultTimeoutS) * time.Second
}

// ShutdownLBDrain returns the load-balancer drain window.
func (c *Config) ShutdownLBDrain() time.Duration {
	return time.Duration(c.ShutdownLBDrainS) * time.Second
}

// ShutdownTaskDrain returns the in-flight task drain window.
func (c *Config) ShutdownTaskDrain() time.Duration {
	return time.Duration(c.ShutdownTaskDrainS) * time.Second
}

// ShutdownPoolCloseTimeout returns the bound on closing the store pool.
func (c *Config) ShutdownPoolCloseTimeout() time.Duration {
	return time.Duration(c.ShutdownPoolCloseTimeoutS) * time.Second
}

// CancelDrain returns the window between cooperative and forced
// cancellation of a pipeline run.
func (c *Config) CancelDrain() time.Duration {
	return time.Duration(c.CancelDrainS) * time.Second
}
