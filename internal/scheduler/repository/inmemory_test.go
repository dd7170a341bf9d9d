package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
)

func TestInMemoryJobRoundTrip(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	job := domain.NewJob("user-1", "job", "training", 1, map[string]interface{}{"steps": 5})
	require.NoError(t, repo.CreateJob(ctx, job))

	loaded, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, domain.JobPending, loaded.Status)

	_, err = repo.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryGetJobForOwner(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	job := domain.NewJob("user-1", "job", "training", 1, nil)
	require.NoError(t, repo.CreateJob(ctx, job))

	_, err := repo.GetJobForOwner(ctx, job.ID, "user-1")
	assert.NoError(t, err)
	_, err = repo.GetJobForOwner(ctx, job.ID, "someone-else")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryUpdatePrecondition(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	job := domain.NewJob("user-1", "job", "training", 1, nil)
	require.NoError(t, repo.CreateJob(ctx, job))

	running := domain.JobRunning
	applied, err := repo.UpdateJob(ctx, job.ID, JobUpdate{
		ExpectStatus: []domain.JobStatus{domain.JobPending},
		Status:       &running,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	// Same precondition no longer holds.
	applied, err = repo.UpdateJob(ctx, job.ID, JobUpdate{
		ExpectStatus: []domain.JobStatus{domain.JobPending},
		Status:       &running,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = repo.UpdateJob(ctx, "missing", JobUpdate{Status: &running})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryUpdateClearsFields(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	now := time.Now().UTC()
	workerID := "worker-1"
	message := "boom"
	job := domain.NewJob("user-1", "job", "training", 1, nil)
	require.NoError(t, repo.CreateJob(ctx, job))

	failed := domain.JobFailed
	_, err := repo.UpdateJob(ctx, job.ID, JobUpdate{
		Status:       &failed,
		WorkerID:     &workerID,
		StartedAt:    &now,
		CompletedAt:  &now,
		ErrorMessage: &message,
	})
	require.NoError(t, err)

	pending := domain.JobPending
	progress := 0.0
	_, err = repo.UpdateJob(ctx, job.ID, JobUpdate{
		Status:           &pending,
		Progress:         &progress,
		ClearWorker:      true,
		ClearStartedAt:   true,
		ClearCompletedAt: true,
		ClearResult:      true,
		ClearError:       true,
	})
	require.NoError(t, err)

	loaded, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, loaded.Status)
	assert.Empty(t, loaded.WorkerID)
	assert.Nil(t, loaded.StartedAt)
	assert.Nil(t, loaded.CompletedAt)
	assert.Empty(t, loaded.ErrorMessage)
	assert.Nil(t, loaded.Result)
}

func TestInMemoryCounts(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := domain.NewJob("user-1", "job", "training", 1, nil)
		job.Status = domain.JobRunning
		job.WorkerID = "worker-1"
		require.NoError(t, repo.CreateJob(ctx, job))
	}
	other := domain.NewJob("user-2", "job", "training", 1, nil)
	require.NoError(t, repo.CreateJob(ctx, other))

	count, err := repo.CountWorkerJobs(ctx, "worker-1", domain.JobRunning)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.CountOwnerJobs(ctx, "user-1", domain.JobRunning)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.CountOwnerJobs(ctx, "user-2", domain.JobRunning)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestInMemoryListJobsByStatusOldestFirst(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	base := time.Now().UTC()
	newest := domain.NewJob("user-1", "newest", "training", 1, nil)
	newest.CreatedAt = base.Add(time.Minute)
	oldest := domain.NewJob("user-1", "oldest", "training", 1, nil)
	oldest.CreatedAt = base
	require.NoError(t, repo.CreateJob(ctx, newest))
	require.NoError(t, repo.CreateJob(ctx, oldest))

	jobs, err := repo.ListJobsByStatus(ctx, domain.JobPending)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "oldest", jobs[0].Title)
	assert.Equal(t, "newest", jobs[1].Title)
}

func TestInMemoryListActiveWorkersRegistrationOrder(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	base := time.Now().UTC()
	second := domain.NewWorker("gpu-02", "10.0.0.2", 22, 2)
	second.CreatedAt = base.Add(time.Second)
	first := domain.NewWorker("gpu-01", "10.0.0.1", 22, 1)
	first.CreatedAt = base
	disabled := domain.NewWorker("gpu-03", "10.0.0.3", 22, 4)
	disabled.Active = false
	disabled.CreatedAt = base.Add(2 * time.Second)

	require.NoError(t, repo.CreateWorker(ctx, second))
	require.NoError(t, repo.CreateWorker(ctx, first))
	require.NoError(t, repo.CreateWorker(ctx, disabled))

	workers, err := repo.ListActiveWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "gpu-01", workers[0].Name)
	assert.Equal(t, "gpu-02", workers[1].Name)
}

func TestInMemoryUpdateWorkerStatus(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	worker := domain.NewWorker("gpu-01", "10.0.0.1", 22, 1)
	require.NoError(t, repo.CreateWorker(ctx, worker))

	now := time.Now().UTC()
	require.NoError(t, repo.UpdateWorkerStatus(ctx, worker.ID, domain.WorkerOnline, &now))

	loaded, err := repo.GetWorker(ctx, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerOnline, loaded.Status)
	require.NotNil(t, loaded.LastProbedAt)
	assert.Equal(t, now, *loaded.LastProbedAt)

	assert.ErrorIs(t, repo.UpdateWorkerStatus(ctx, "missing", domain.WorkerOnline, nil), ErrNotFound)
}
