package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loomcloud/loom/internal/config"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/pipeline"
	"github.com/loomcloud/loom/internal/runtime"
	"github.com/loomcloud/loom/internal/scheduler"
	"github.com/loomcloud/loom/internal/shutdown"
)

func schedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Start the scheduler loop without the HTTP frontend",
		Long: `Start a headless instance that only polls for due actions and
dispatches them. Useful for running extra dispatch capacity next to a
full server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := setupContext(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runScheduler(ctx, cfg)
		},
	}
}

func runScheduler(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	sink, closeSink := buildSink(ctx, cfg)
	defer closeSink()

	notifier := buildNotifier(ctx, cfg)
	nodes := runtime.NewDispatcher(runtime.WithNotifier(notifier))
	manager := pipeline.NewManager(pipeline.WithCancelDrain(cfg.CancelDrain()))

	dispatcher := scheduler.NewActionDispatcher(
		scheduler.WithStore(store),
		scheduler.WithSink(sink),
		scheduler.WithNotifier(notifier),
		scheduler.WithRunManager(manager),
		scheduler.WithNodeDispatcher(nodes),
	)
	sched := scheduler.New(store, dispatcher,
		scheduler.WithCheckInterval(cfg.SchedulerCheckInterval()),
		scheduler.WithJitter(cfg.SchedulerJitter()),
		scheduler.WithLockNamespace(cfg.AdvisoryLockNamespaceScheduler),
	)

	// No HTTP surface to drain, so the LB window is skipped and the
	// teardown order is scheduler, in-flight drain, executor, store.
	ctrl := shutdown.NewController(
		shutdown.WithScheduler(sched),
		shutdown.WithRunManager(manager),
		shutdown.WithStore(store),
		shutdown.WithLBDrain(0),
		shutdown.WithTaskDrain(cfg.ShutdownTaskDrain()),
	)

	runCtx := context.WithoutCancel(ctx)
	go sched.Start(runCtx)

	logger.Info(ctx, "Scheduler started")
	<-ctx.Done()

	logger.Info(runCtx, "Shutdown signal received")
	ctrl.Shutdown(runCtx)
	return nil
}
