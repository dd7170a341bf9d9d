package allocation

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
	"github.com/ft54482/owl-workshop/internal/scheduler/metrics"
	"github.com/ft54482/owl-workshop/internal/scheduler/prober"
)

// Allocator picks a worker for a pending job: first fit over active
// workers in registration order. The capacity check runs before the probe
// because probing is the expensive step; a saturated worker is skipped
// without ever being dialled.
type Allocator struct {
	registry *ResourceRegistry
	prober   prober.Prober
	log      *log.Entry
}

func NewAllocator(registry *ResourceRegistry, prober prober.Prober) *Allocator {
	return &Allocator{
		registry: registry,
		prober:   prober,
		log:      log.WithField("service", "Allocator"),
	}
}

// SelectWorker returns the first active worker that is both under capacity
// and reachable, or nil if there is none. A nil result means "retry
// later", not an error.
func (a *Allocator) SelectWorker(ctx context.Context) (*domain.Worker, error) {
	workers, err := a.registry.ListActiveWorkers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error listing active workers")
	}

	for _, worker := range workers {
		occupancy, err := a.registry.Occupancy(ctx, worker.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading occupancy of worker %s", worker.ID)
		}
		if occupancy >= worker.SlotCount {
			continue
		}
		if !a.prober.Probe(ctx, worker) {
			a.log.WithField("worker", worker.Name).Debug("worker under capacity but unreachable, skipping")
			continue
		}
		metrics.RecordAllocation("allocated")
		return worker, nil
	}

	metrics.RecordAllocation("unavailable")
	a.log.Debug("no eligible worker found")
	return nil, nil
}
