package monitor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
	"github.com/ft54482/owl-workshop/internal/scheduler/prober"
	"github.com/ft54482/owl-workshop/internal/scheduler/repository"
)

// WorkerMonitor periodically probes every active worker and persists the
// resulting online/offline status together with the probe time. The prober
// itself stays a pure predicate; this is its status-writing caller.
type WorkerMonitor struct {
	workers repository.WorkerRepository
	prober  prober.Prober
	log     *log.Entry
}

func NewWorkerMonitor(workers repository.WorkerRepository, prober prober.Prober) *WorkerMonitor {
	return &WorkerMonitor{
		workers: workers,
		prober:  prober,
		log:     log.WithField("service", "WorkerMonitor"),
	}
}

// ProbeAll checks every active worker concurrently. Workers parked in
// maintenance are left alone so a probe cannot cut a maintenance window
// short.
func (m *WorkerMonitor) ProbeAll(ctx context.Context) error {
	workers, err := m.workers.ListActiveWorkers(ctx)
	if err != nil {
		return errors.Wrap(err, "error listing workers to probe")
	}

	g, ctx := errgroup.WithContext(ctx)
	online := 0
	results := make([]bool, len(workers))
	for i, worker := range workers {
		if worker.Status == domain.WorkerMaintenance {
			continue
		}
		i, worker := i, worker
		g.Go(func() error {
			reachable := m.prober.Probe(ctx, worker)
			results[i] = reachable

			status := domain.WorkerOffline
			if reachable {
				status = domain.WorkerOnline
			}
			now := time.Now().UTC()
			if err := m.workers.UpdateWorkerStatus(ctx, worker.ID, status, &now); err != nil {
				m.log.WithField("worker", worker.Name).Errorf("failed to persist probe result: %v", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, reachable := range results {
		if reachable {
			online++
		}
	}
	m.log.Infof("worker probe sweep complete: %d/%d online", online, len(workers))
	return nil
}

// Run probes all workers on a fixed interval until ctx is done.
func (m *WorkerMonitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.ProbeAll(ctx); err != nil {
				m.log.Errorf("probe sweep failed: %v", err)
			}
		}
	}
}

// ScheduleMaintenance parks a worker in maintenance for the given window
// and then brings it back online. Cancelling ctx ends the window early but
// still restores the worker.
func (m *WorkerMonitor) ScheduleMaintenance(ctx context.Context, workerID string, window time.Duration) error {
	logger := m.log.WithField("workerId", workerID)
	logger.Infof("starting maintenance window of %s", window)

	if err := m.workers.UpdateWorkerStatus(ctx, workerID, domain.WorkerMaintenance, nil); err != nil {
		return errors.Wrapf(err, "error marking worker %s for maintenance", workerID)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		logger.Warn("maintenance window interrupted")
	case <-timer.C:
	}

	if err := m.workers.UpdateWorkerStatus(context.Background(), workerID, domain.WorkerOnline, nil); err != nil {
		return errors.Wrapf(err, "error restoring worker %s after maintenance", workerID)
	}
	logger.Info("maintenance window complete")
	return nil
}
