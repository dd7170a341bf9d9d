package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ft54482/owl-workshop/internal/scheduler/allocation"
	"github.com/ft54482/owl-workshop/internal/scheduler/configuration"
	"github.com/ft54482/owl-workshop/internal/scheduler/executor"
	"github.com/ft54482/owl-workshop/internal/scheduler/monitor"
	"github.com/ft54482/owl-workshop/internal/scheduler/prober"
	"github.com/ft54482/owl-workshop/internal/scheduler/reconciler"
	"github.com/ft54482/owl-workshop/internal/scheduler/repository"
	"github.com/ft54482/owl-workshop/internal/scheduler/supervisor"
)

type App struct {
	Config *configuration.SchedulerConfiguration
}

func New(config *configuration.SchedulerConfiguration) *App {
	return &App{Config: config}
}

// CheckConfig fills in defaults for misconfigured values. Returns a
// non-nil error if the configuration is unrecoverable.
func CheckConfig(config *configuration.SchedulerConfiguration) error {
	logger := log.WithField("service", "CheckConfig")

	if config.SchedulingInterval <= 0 {
		defaultInterval := 15 * time.Second
		logger.WithFields(log.Fields{
			"default":    defaultInterval,
			"configured": config.SchedulingInterval,
		}).Warn("SchedulingInterval invalid, using default instead")
		config.SchedulingInterval = defaultInterval
	}
	if config.WorkerProbeInterval <= 0 {
		defaultInterval := 30 * time.Second
		logger.WithFields(log.Fields{
			"default":    defaultInterval,
			"configured": config.WorkerProbeInterval,
		}).Warn("WorkerProbeInterval invalid, using default instead")
		config.WorkerProbeInterval = defaultInterval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = prober.DefaultProbeTimeout
	}
	return nil
}

// StartUp wires the scheduling core together and runs it until ctx is
// cancelled: the supervisor's backlog loop, the worker probe loop and the
// metrics endpoint, all under a single errgroup.
func (a *App) StartUp(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	logger := log.WithField("service", "Startup")

	if err := CheckConfig(a.Config); err != nil {
		return err
	}

	repo, closer, err := repository.NewSchedulerRepository(a.Config, logger)
	if err != nil {
		return err
	}
	defer closer()
	if err := repo.Setup(ctx); err != nil {
		return err
	}

	rec := reconciler.New(repo)
	liveness := prober.NewTCPProber(a.Config.ProbeTimeout)

	var allocationProber prober.Prober = liveness
	if a.Config.ProbeCacheTTL > 0 {
		allocationProber = prober.NewCachedProber(liveness, a.Config.ProbeCacheTTL)
	}

	registry := allocation.NewResourceRegistry(repo, repo)
	alloc := allocation.NewAllocator(registry, allocationProber)
	engine := executor.NewDefaultEngine()
	sup := supervisor.New(repo, rec, alloc, engine)
	workerMonitor := monitor.NewWorkerMonitor(repo, liveness)

	g.Go(func() error {
		logger.Infof("backlog scheduling every %s", a.Config.SchedulingInterval)
		return sup.Run(ctx, a.Config.SchedulingInterval)
	})
	g.Go(func() error {
		logger.Infof("probing workers every %s", a.Config.WorkerProbeInterval)
		return workerMonitor.Run(ctx, a.Config.WorkerProbeInterval)
	})

	if a.Config.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: fmt.Sprintf(":%d", a.Config.MetricsPort), Handler: mux}
		g.Go(func() error {
			logger.Infof("serving metrics on %s", server.Addr)
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
