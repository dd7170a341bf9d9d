package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
)

var ErrNotFound = errors.New("record not found")

// JobUpdate is a partial update of a job record. Nil fields are left
// untouched; the Clear flags reset a field to its zero value. When
// ExpectStatus is non-empty the update only applies if the job's current
// status is in the set, and the whole check-and-write is atomic.
type JobUpdate struct {
	ExpectStatus []domain.JobStatus

	Status   *domain.JobStatus
	Progress *float64

	WorkerID    *string
	ClearWorker bool

	StartedAt      *time.Time
	ClearStartedAt bool

	CompletedAt      *time.Time
	ClearCompletedAt bool

	Result      map[string]interface{}
	ClearResult bool

	ErrorMessage *string
	ClearError   bool
}

type JobRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetJobForOwner(ctx context.Context, id string, ownerID string) (*domain.Job, error)
	// ListJobsByStatus returns jobs in the given status, oldest first.
	ListJobsByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error)
	CountWorkerJobs(ctx context.Context, workerID string, status domain.JobStatus) (int, error)
	CountOwnerJobs(ctx context.Context, ownerID string, status domain.JobStatus) (int, error)
	// UpdateJob applies a partial update, returning whether it was applied.
	// A false return with a nil error means an ExpectStatus precondition
	// did not hold.
	UpdateJob(ctx context.Context, id string, update JobUpdate) (bool, error)
	DeleteJob(ctx context.Context, id string) error
}

type WorkerRepository interface {
	CreateWorker(ctx context.Context, worker *domain.Worker) error
	GetWorker(ctx context.Context, id string) (*domain.Worker, error)
	// ListActiveWorkers returns administratively enabled workers in
	// registration order.
	ListActiveWorkers(ctx context.Context) ([]*domain.Worker, error)
	// UpdateWorkerStatus sets a worker's status. probedAt, when non-nil,
	// records the time of the liveness check that produced the status.
	UpdateWorkerStatus(ctx context.Context, id string, status domain.WorkerStatus, probedAt *time.Time) error
}
