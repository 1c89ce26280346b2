package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loomcloud/loom/internal/build"
	"github.com/loomcloud/loom/internal/config"
	"github.com/loomcloud/loom/internal/frontend"
	"github.com/loomcloud/loom/internal/logger"
	"github.com/loomcloud/loom/internal/logger/tag"
	"github.com/loomcloud/loom/internal/metrics"
	"github.com/loomcloud/loom/internal/pipeline"
	"github.com/loomcloud/loom/internal/runtime"
	"github.com/loomcloud/loom/internal/scheduler"
	"github.com/loomcloud/loom/internal/shutdown"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the orchestration server",
		Long:  `Start the scheduler loop and the operational HTTP endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := setupContext(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runStart(ctx, cfg)
		},
	}
}

// schedulerHandle defers the scheduler reference so the metrics
// registry can be assembled before the dispatcher that feeds it.
type schedulerHandle struct {
	s *scheduler.Scheduler
}

func (h *schedulerHandle) Running() bool {
	return h.s != nil && h.s.Running()
}

func (h *schedulerHandle) InFlight() int {
	if h.s == nil {
		return 0
	}
	return h.s.InFlight()
}

func runStart(ctx context.Context, cfg *config.Config) error {
	logger.Info(ctx, "Server initializing", tag.String("version", build.Version))

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	sink, closeSink := buildSink(ctx, cfg)
	defer closeSink()

	notifier := buildNotifier(ctx, cfg)
	nodes := runtime.NewDispatcher(runtime.WithNotifier(notifier))
	manager := pipeline.NewManager(pipeline.WithCancelDrain(cfg.CancelDrain()))

	handle := &schedulerHandle{}
	collector := metrics.NewCollector(build.Version, manager, handle)
	registry := metrics.NewRegistry(collector)
	counted := metrics.NewCountingSink(registry, sink)

	dispatcher := scheduler.NewActionDispatcher(
		scheduler.WithStore(store),
		scheduler.WithSink(counted),
		scheduler.WithNotifier(notifier),
		scheduler.WithRunManager(manager),
		scheduler.WithNodeDispatcher(nodes),
	)
	sched := scheduler.New(store, dispatcher,
		scheduler.WithCheckInterval(cfg.SchedulerCheckInterval()),
		scheduler.WithJitter(cfg.SchedulerJitter()),
		scheduler.WithLockNamespace(cfg.AdvisoryLockNamespaceScheduler),
	)
	handle.s = sched

	var ctrl *shutdown.Controller
	srv := frontend.NewServer(cfg,
		frontend.WithRegistry(registry),
		frontend.WithReadiness(frontend.ReadinessFunc(func() bool {
			return ctrl != nil && ctrl.ShuttingDown()
		})),
	)
	ctrl = shutdown.NewController(
		shutdown.WithServer(srv),
		shutdown.WithScheduler(sched),
		shutdown.WithRunManager(manager),
		shutdown.WithStore(store),
		shutdown.WithLBDrain(cfg.ShutdownLBDrain()),
		shutdown.WithTaskDrain(cfg.ShutdownTaskDrain()),
	)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	// The scheduler must stop through the shutdown controller, not
	// through the signal context, so that readiness flips to 503
	// before dispatching halts.
	runCtx := context.WithoutCancel(ctx)
	go sched.Start(runCtx)

	logger.Info(ctx, "Server started", tag.String("addr", srv.Addr()))
	<-ctx.Done()

	logger.Info(runCtx, "Shutdown signal received")
	ctrl.Shutdown(runCtx)
	return nil
}
