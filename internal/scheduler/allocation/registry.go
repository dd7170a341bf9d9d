package allocation

import (
	"context"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
	"github.com/ft54482/owl-workshop/internal/scheduler/repository"
)

// ResourceRegistry is a read-only view of the worker fleet and its load.
// Occupancy is computed from durable job state on every call rather than
// cached, so concurrent allocation attempts see the freshest count the
// store can give them.
type ResourceRegistry struct {
	workers repository.WorkerRepository
	jobs    repository.JobRepository
}

func NewResourceRegistry(workers repository.WorkerRepository, jobs repository.JobRepository) *ResourceRegistry {
	return &ResourceRegistry{workers: workers, jobs: jobs}
}

// ListActiveWorkers returns administratively enabled workers in
// registration order.
func (r *ResourceRegistry) ListActiveWorkers(ctx context.Context) ([]*domain.Worker, error) {
	return r.workers.ListActiveWorkers(ctx)
}

// Occupancy counts the jobs currently running on a worker.
func (r *ResourceRegistry) Occupancy(ctx context.Context, workerID string) (int, error) {
	return r.jobs.CountWorkerJobs(ctx, workerID, domain.JobRunning)
}
