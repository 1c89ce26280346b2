package cmd

import (
	"context"
	"fmt"

	"github.com/loomcloud/loom/internal/config"
	"github.com/loomcloud/loom/internal/digraph"
	"github.com/loomcloud/loom/internal/events"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
	"github.com/loomcloud/loom/internal/notify"
	"github.com/loomcloud/loom/internal/persistence"
	"github.com/loomcloud/loom/internal/persistence/postgres"
)

// setupContext loads the configuration and installs the process logger
// on the returned context. Every command goes through here first. The
// definition-parse defaults are bound to the loaded configuration so
// PIPELINE_DEFAULT_TIMEOUT_S and PIPELINE_DEFAULT_MAX_RETRIES apply to
// every definition parsed afterwards.
func setupContext(ctx context.Context) (context.Context, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, nil, err
	}

	var opts []logger.Option
	if cfg.Debug {
		opts = append(opts, logger.WithDebug())
	}
	if cfg.LogFormat != "" {
		opts = append(opts, logger.WithFormat(cfg.LogFormat))
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	digraph.Tuning.Timeout = cfg.PipelineDefaultTimeout()
	digraph.Tuning.MaxRetriesPerNode = cfg.PipelineDefaultMaxRetries
	return ctx, cfg, nil
}

// openStore connects to Postgres when DATABASE_URL is set and falls
// back to the in-memory store otherwise. The fallback keeps local
// development working without a database, at the cost of durability.
func openStore(ctx context.Context, cfg *config.Config) (persistence.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn(ctx, "DATABASE_URL not set, falling back to in-memory store")
		return persistence.NewMemory(), nil
	}
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// buildSink assembles the event fan-out. Events always reach the log;
// they are additionally published to Redis when REDIS_URL is set. The
// returned cleanup closes the Redis connection and is safe to call
// when no Redis sink was built.
func buildSink(ctx context.Context, cfg *config.Config) (events.Sink, func()) {
	sinks := events.Multi{events.LogSink{}}
	cleanup := func() {}

	if cfg.RedisURL != "" {
		rs, err := events.NewRedisSink(cfg.RedisURL, "")
		if err != nil {
			logger.Warn(ctx, "Redis event sink disabled", tag.Error(err))
		} else {
			sinks = append(sinks, rs)
			cleanup = func() {
				if err := rs.Close(); err != nil {
					logger.Warn(ctx, "Failed to close Redis event sink", tag.Error(err))
				}
			}
		}
	}
	return sinks, cleanup
}

// buildNotifier wires notification channels from the configuration.
// Without a Slack token or SMTP host the router has no real channels
// and every notification lands in the log via the fallback sender.
func buildNotifier(ctx context.Context, cfg *config.Config) *notify.Router {
	router := notify.NewRouter()
	if cfg.SlackToken != "" {
		router.Register("slack", notify.NewSlackSender(cfg.SlackToken))
		logger.Info(ctx, "Notification channel registered", tag.Channel("slack"))
	}
	if cfg.SMTPHost != "" {
		router.Register("email", notify.NewEmailSender(notify.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
		logger.Info(ctx, "Notification channel registered", tag.Channel("email"))
	}
	return router
}
