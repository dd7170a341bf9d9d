package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
)

func withSQLiteRepo(t *testing.T, fn func(repo *SQLiteRepository)) {
	t.Helper()
	repo, closer, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	defer closer()
	require.NoError(t, repo.Setup(context.Background()))
	fn(repo)
}

func TestSQLiteHealthCheck(t *testing.T) {
	withSQLiteRepo(t, func(repo *SQLiteRepository) {
		ok, err := repo.HealthCheck(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestSQLiteJobRoundTrip(t *testing.T) {
	withSQLiteRepo(t, func(repo *SQLiteRepository) {
		ctx := context.Background()

		job := domain.NewJob("user-1", "train resnet", "training", 3, map[string]interface{}{"steps": 5.0})
		require.NoError(t, repo.CreateJob(ctx, job))

		loaded, err := repo.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, loaded.ID)
		assert.Equal(t, "user-1", loaded.OwnerID)
		assert.Equal(t, "train resnet", loaded.Title)
		assert.Equal(t, domain.JobPending, loaded.Status)
		assert.Equal(t, map[string]interface{}{"steps": 5.0}, loaded.Config)
		assert.Equal(t, job.CreatedAt.UnixNano(), loaded.CreatedAt.UnixNano())
		assert.Nil(t, loaded.StartedAt)

		_, err = repo.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteUpdateJobPrecondition(t *testing.T) {
	withSQLiteRepo(t, func(repo *SQLiteRepository) {
		ctx := context.Background()

		job := domain.NewJob("user-1", "job", "training", 1, nil)
		require.NoError(t, repo.CreateJob(ctx, job))

		now := time.Now().UTC()
		workerID := "worker-1"
		running := domain.JobRunning
		applied, err := repo.UpdateJob(ctx, job.ID, JobUpdate{
			ExpectStatus: []domain.JobStatus{domain.JobPending},
			Status:       &running,
			WorkerID:     &workerID,
			StartedAt:    &now,
		})
		require.NoError(t, err)
		assert.True(t, applied)

		loaded, err := repo.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobRunning, loaded.Status)
		assert.Equal(t, "worker-1", loaded.WorkerID)
		require.NotNil(t, loaded.StartedAt)
		assert.Equal(t, now.UnixNano(), loaded.StartedAt.UnixNano())

		// Precondition no longer holds.
		applied, err = repo.UpdateJob(ctx, job.ID, JobUpdate{
			ExpectStatus: []domain.JobStatus{domain.JobPending},
			Status:       &running,
		})
		require.NoError(t, err)
		assert.False(t, applied)

		_, err = repo.UpdateJob(ctx, "missing", JobUpdate{Status: &running})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteUpdateJobClearsFields(t *testing.T) {
	withSQLiteRepo(t, func(repo *SQLiteRepository) {
		ctx := context.Background()

		job := domain.NewJob("user-1", "job", "training", 1, nil)
		job.Status = domain.JobFailed
		job.WorkerID = "worker-1"
		job.ErrorMessage = "boom"
		now := time.Now().UTC()
		job.StartedAt = &now
		job.CompletedAt = &now
		require.NoError(t, repo.CreateJob(ctx, job))

		pending := domain.JobPending
		progress := 0.0
		applied, err := repo.UpdateJob(ctx, job.ID, JobUpdate{
			ExpectStatus:     []domain.JobStatus{domain.JobFailed, domain.JobCancelled},
			Status:           &pending,
			Progress:         &progress,
			ClearWorker:      true,
			ClearStartedAt:   true,
			ClearCompletedAt: true,
			ClearResult:      true,
			ClearError:       true,
		})
		require.NoError(t, err)
		assert.True(t, applied)

		loaded, err := repo.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobPending, loaded.Status)
		assert.Equal(t, 0.0, loaded.Progress)
		assert.Empty(t, loaded.WorkerID)
		assert.Nil(t, loaded.StartedAt)
		assert.Nil(t, loaded.CompletedAt)
		assert.Empty(t, loaded.ErrorMessage)
		assert.Nil(t, loaded.Result)
	})
}

func TestSQLiteCountsAndListing(t *testing.T) {
	withSQLiteRepo(t, func(repo *SQLiteRepository) {
		ctx := context.Background()

		base := time.Now().UTC()
		for i := 0; i < 2; i++ {
			job := domain.NewJob("user-1", "running", "training", 1, nil)
			job.Status = domain.JobRunning
			job.WorkerID = "worker-1"
			require.NoError(t, repo.CreateJob(ctx, job))
		}
		oldest := domain.NewJob("user-2", "oldest", "training", 1, nil)
		oldest.CreatedAt = base.Add(-time.Hour)
		require.NoError(t, repo.CreateJob(ctx, oldest))
		newest := domain.NewJob("user-2", "newest", "training", 1, nil)
		newest.CreatedAt = base
		require.NoError(t, repo.CreateJob(ctx, newest))

		count, err := repo.CountWorkerJobs(ctx, "worker-1", domain.JobRunning)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		count, err = repo.CountOwnerJobs(ctx, "user-1", domain.JobRunning)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		pending, err := repo.ListJobsByStatus(ctx, domain.JobPending)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "oldest", pending[0].Title)
		assert.Equal(t, "newest", pending[1].Title)
	})
}

func TestSQLiteWorkers(t *testing.T) {
	withSQLiteRepo(t, func(repo *SQLiteRepository) {
		ctx := context.Background()

		base := time.Now().UTC()
		first := domain.NewWorker("gpu-01", "10.0.0.1", 22, 2)
		first.CreatedAt = base
		second := domain.NewWorker("gpu-02", "10.0.0.2", 22, 4)
		second.CreatedAt = base.Add(time.Second)
		disabled := domain.NewWorker("gpu-03", "10.0.0.3", 22, 4)
		disabled.Active = false
		require.NoError(t, repo.CreateWorker(ctx, second))
		require.NoError(t, repo.CreateWorker(ctx, first))
		require.NoError(t, repo.CreateWorker(ctx, disabled))

		workers, err := repo.ListActiveWorkers(ctx)
		require.NoError(t, err)
		require.Len(t, workers, 2)
		assert.Equal(t, "gpu-01", workers[0].Name)
		assert.Equal(t, "gpu-02", workers[1].Name)

		now := time.Now().UTC()
		require.NoError(t, repo.UpdateWorkerStatus(ctx, first.ID, domain.WorkerOnline, &now))
		loaded, err := repo.GetWorker(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkerOnline, loaded.Status)
		require.NotNil(t, loaded.LastProbedAt)
		assert.Equal(t, now.UnixNano(), loaded.LastProbedAt.UnixNano())
	})
}

func TestSQLiteDeleteJob(t *testing.T) {
	withSQLiteRepo(t, func(repo *SQLiteRepository) {
		ctx := context.Background()

		job := domain.NewJob("user-1", "job", "training", 1, nil)
		require.NoError(t, repo.CreateJob(ctx, job))
		require.NoError(t, repo.DeleteJob(ctx, job.ID))

		_, err := repo.GetJob(ctx, job.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.DeleteJob(ctx, job.ID), ErrNotFound)
	})
}
