package reconciler

import (
	"context"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
	"github.com/ft54482/owl-workshop/internal/scheduler/repository"
)

const defaultWriteAttempts = 3

// Reconciler is the only writer of durable job state. Every transition is a
// conditional partial update: a write that would move a job out of a
// terminal state does not apply and is dropped with a warning, so a late
// progress update or a duplicate terminal write can never resurrect a
// finished job. Retry is the single sanctioned exit from a terminal state.
type Reconciler struct {
	repo     repository.JobRepository
	attempts uint
	log      *log.Entry
}

func New(repo repository.JobRepository) *Reconciler {
	return &Reconciler{
		repo:     repo,
		attempts: defaultWriteAttempts,
		log:      log.WithField("service", "Reconciler"),
	}
}

// MarkRunning records the allocation outcome: status, assigned worker and
// start time. It must land before execution starts.
func (r *Reconciler) MarkRunning(ctx context.Context, jobID string, workerID string) error {
	now := time.Now().UTC()
	status := domain.JobRunning
	applied, err := r.write(ctx, jobID, repository.JobUpdate{
		ExpectStatus: []domain.JobStatus{domain.JobPending},
		Status:       &status,
		WorkerID:     &workerID,
		StartedAt:    &now,
	})
	if err != nil {
		return err
	}
	if !applied {
		return errors.Errorf("job %s is no longer pending", jobID)
	}
	return nil
}

// RecordProgress writes a progress percentage. It only applies while the
// job is running; a late write racing a terminal transition is a no-op.
func (r *Reconciler) RecordProgress(ctx context.Context, jobID string, progress float64) error {
	applied, err := r.write(ctx, jobID, repository.JobUpdate{
		ExpectStatus: []domain.JobStatus{domain.JobRunning},
		Progress:     &progress,
	})
	if err != nil {
		return err
	}
	if !applied {
		r.log.WithField("jobId", jobID).Debug("dropping progress update for job no longer running")
	}
	return nil
}

func (r *Reconciler) MarkCompleted(ctx context.Context, jobID string, result map[string]interface{}) error {
	now := time.Now().UTC()
	status := domain.JobCompleted
	progress := 100.0
	return r.terminal(ctx, jobID, repository.JobUpdate{
		ExpectStatus: []domain.JobStatus{domain.JobRunning},
		Status:       &status,
		Progress:     &progress,
		CompletedAt:  &now,
		Result:       result,
	})
}

func (r *Reconciler) MarkFailed(ctx context.Context, jobID string, message string) error {
	now := time.Now().UTC()
	status := domain.JobFailed
	return r.terminal(ctx, jobID, repository.JobUpdate{
		ExpectStatus: []domain.JobStatus{domain.JobRunning},
		Status:       &status,
		ErrorMessage: &message,
		CompletedAt:  &now,
	})
}

// MarkCancelled records that a running job's cancellation signal was
// observed. The worker assignment is cleared; only running, completed and
// failed jobs carry one.
func (r *Reconciler) MarkCancelled(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	status := domain.JobCancelled
	return r.terminal(ctx, jobID, repository.JobUpdate{
		ExpectStatus: []domain.JobStatus{domain.JobRunning},
		Status:       &status,
		CompletedAt:  &now,
		ClearWorker:  true,
	})
}

// CancelPending cancels a job that never started. It reports whether the
// job was still pending; a false return means a concurrent transition won
// and the caller must re-check what the job became.
func (r *Reconciler) CancelPending(ctx context.Context, jobID string) (bool, error) {
	now := time.Now().UTC()
	status := domain.JobCancelled
	return r.write(ctx, jobID, repository.JobUpdate{
		ExpectStatus: []domain.JobStatus{domain.JobPending},
		Status:       &status,
		CompletedAt:  &now,
	})
}

func (r *Reconciler) terminal(ctx context.Context, jobID string, update repository.JobUpdate) error {
	applied, err := r.write(ctx, jobID, update)
	if err != nil {
		return err
	}
	if !applied {
		r.log.WithFields(log.Fields{"jobId": jobID, "status": *update.Status}).
			Warn("refusing transition out of terminal state")
	}
	return nil
}

// Retry resets a failed or cancelled job back to pending, clearing every
// field the previous execution attempt set. It reports whether the reset
// applied; completed jobs are not retryable.
func (r *Reconciler) Retry(ctx context.Context, jobID string) (bool, error) {
	status := domain.JobPending
	progress := 0.0
	applied, err := r.write(ctx, jobID, repository.JobUpdate{
		ExpectStatus:     []domain.JobStatus{domain.JobFailed, domain.JobCancelled},
		Status:           &status,
		Progress:         &progress,
		ClearWorker:      true,
		ClearStartedAt:   true,
		ClearCompletedAt: true,
		ClearResult:      true,
		ClearError:       true,
	})
	if err != nil {
		return false, err
	}
	if !applied {
		r.log.WithField("jobId", jobID).Warn("refusing retry of job that is not failed or cancelled")
	}
	return applied, nil
}

// write pushes an update with bounded retries, so a transient store failure
// does not drop a lifecycle transition.
func (r *Reconciler) write(ctx context.Context, jobID string, update repository.JobUpdate) (bool, error) {
	var applied bool
	err := retry.Do(
		func() error {
			var err error
			applied, err = r.repo.UpdateJob(ctx, jobID, update)
			return err
		},
		retry.Attempts(r.attempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, repository.ErrNotFound) && ctx.Err() == nil
		}),
	)
	if err != nil {
		return false, errors.Wrapf(err, "error writing transition for job %s", jobID)
	}
	return applied, nil
}
