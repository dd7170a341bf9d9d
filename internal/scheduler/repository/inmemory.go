package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
)

// InMemoryRepository keeps jobs and workers in maps guarded by a single
// mutex. It backs tests and is the reference for the conditional-update
// semantics the SQL repositories implement.
type InMemoryRepository struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	workers map[string]*domain.Worker
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		jobs:    map[string]*domain.Job{},
		workers: map[string]*domain.Worker{},
	}
}

func (r *InMemoryRepository) Setup(ctx context.Context) error { return nil }

func (r *InMemoryRepository) HealthCheck(ctx context.Context) (bool, error) { return true, nil }

func (r *InMemoryRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *InMemoryRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *InMemoryRepository) GetJobForOwner(ctx context.Context, id string, ownerID string) (*domain.Job, error) {
	job, err := r.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (r *InMemoryRepository) ListJobsByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.Job
	for _, job := range r.jobs {
		if job.Status == status {
			copied := *job
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *InMemoryRepository) CountWorkerJobs(ctx context.Context, workerID string, status domain.JobStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, job := range r.jobs {
		if job.WorkerID == workerID && job.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) CountOwnerJobs(ctx context.Context, ownerID string, status domain.JobStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, job := range r.jobs {
		if job.OwnerID == ownerID && job.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryRepository) UpdateJob(ctx context.Context, id string, update JobUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if len(update.ExpectStatus) > 0 {
		matched := false
		for _, status := range update.ExpectStatus {
			if job.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	applyJobUpdate(job, update)
	return true, nil
}

func applyJobUpdate(job *domain.Job, update JobUpdate) {
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.WorkerID != nil {
		job.WorkerID = *update.WorkerID
	}
	if update.ClearWorker {
		job.WorkerID = ""
	}
	if update.StartedAt != nil {
		t := *update.StartedAt
		job.StartedAt = &t
	}
	if update.ClearStartedAt {
		job.StartedAt = nil
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		job.CompletedAt = &t
	}
	if update.ClearCompletedAt {
		job.CompletedAt = nil
	}
	if update.Result != nil {
		job.Result = update.Result
	}
	if update.ClearResult {
		job.Result = nil
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = *update.ErrorMessage
	}
	if update.ClearError {
		job.ErrorMessage = ""
	}
}

func (r *InMemoryRepository) DeleteJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(r.jobs, id)
	return nil
}

func (r *InMemoryRepository) CreateWorker(ctx context.Context, worker *domain.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *worker
	r.workers[worker.ID] = &copied
	return nil
}

func (r *InMemoryRepository) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	worker, ok := r.workers[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *worker
	return &copied, nil
}

func (r *InMemoryRepository) ListActiveWorkers(ctx context.Context) ([]*domain.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*domain.Worker
	for _, worker := range r.workers {
		if worker.Active {
			copied := *worker
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *InMemoryRepository) UpdateWorkerStatus(ctx context.Context, id string, status domain.WorkerStatus, probedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	worker, ok := r.workers[id]
	if !ok {
		return ErrNotFound
	}
	worker.Status = status
	if probedAt != nil {
		t := *probedAt
		worker.LastProbedAt = &t
	}
	return nil
}
