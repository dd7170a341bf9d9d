package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ft54482/owl-workshop/internal/scheduler/allocation"
	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
	"github.com/ft54482/owl-workshop/internal/scheduler/executor"
	"github.com/ft54482/owl-workshop/internal/scheduler/metrics"
	"github.com/ft54482/owl-workshop/internal/scheduler/reconciler"
	"github.com/ft54482/owl-workshop/internal/scheduler/repository"
)

// jobHandle is the in-memory record that a job is truly executing right
// now, decoupled from its possibly stale durable status. It exists from
// just before the running transition lands until the execution goroutine
// unwinds.
type jobHandle struct {
	jobID  string
	cancel context.CancelFunc
}

// Supervisor owns the set of actively executing jobs. It is the only
// component that starts, tracks and cancels executions, and it funnels
// every resulting state transition through the reconciler. Multiple
// independent supervisors can coexist; there is no shared global state.
type Supervisor struct {
	jobs       repository.JobRepository
	reconciler *reconciler.Reconciler
	allocator  *allocation.Allocator
	engine     *executor.Engine
	log        *log.Entry

	mu           sync.Mutex
	active       map[string]*jobHandle
	shuttingDown bool
	wg           sync.WaitGroup
}

func New(
	jobs repository.JobRepository,
	reconciler *reconciler.Reconciler,
	allocator *allocation.Allocator,
	engine *executor.Engine,
) *Supervisor {
	return &Supervisor{
		jobs:       jobs,
		reconciler: reconciler,
		allocator:  allocator,
		engine:     engine,
		log:        log.WithField("service", "Supervisor"),
		active:     map[string]*jobHandle{},
	}
}

// Submit accepts a pending job and returns immediately; scheduling and
// execution happen asynchronously. If no worker is available the job stays
// pending and a later backlog sweep picks it up again.
func (s *Supervisor) Submit(job *domain.Job) {
	if job.Status != domain.JobPending {
		s.log.WithField("jobId", job.ID).Warnf("refusing to submit job in status %s", job.Status)
		return
	}

	// The Add must happen under the same lock that Shutdown uses to set
	// shuttingDown, or it could race the Wait on an empty group.
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		s.log.WithField("jobId", job.ID).Warn("refusing to submit job while shutting down")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	metrics.RecordJobSubmitted()

	go func() {
		defer s.wg.Done()
		s.schedule(job)
	}()
}

func (s *Supervisor) schedule(job *domain.Job) {
	logger := s.log.WithField("jobId", job.ID)

	// A failure inside one job's execution must never escape into the
	// supervisor's control loop; it becomes a failed transition instead.
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("execution panicked: %v", r)
			s.removeHandle(job.ID)
			if err := s.reconciler.MarkFailed(context.Background(), job.ID, errors.Errorf("execution panicked: %v", r).Error()); err != nil {
				logger.Errorf("failed to record panic outcome: %v", err)
			}
			metrics.RecordJobFinished("failed")
		}
	}()

	s.mu.Lock()
	_, alreadyActive := s.active[job.ID]
	draining := s.shuttingDown
	s.mu.Unlock()
	if alreadyActive || draining {
		return
	}

	ctx := context.Background()
	worker, err := s.allocator.SelectWorker(ctx)
	if err != nil {
		logger.Errorf("allocation failed: %v", err)
		return
	}
	if worker == nil {
		logger.Debug("no worker available, job stays pending")
		return
	}

	// Reserve the handle before touching durable state so a concurrent
	// submit of the same job id cannot start a second execution.
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if _, exists := s.active[job.ID]; exists || s.shuttingDown {
		s.mu.Unlock()
		cancel()
		return
	}
	s.active[job.ID] = &jobHandle{jobID: job.ID, cancel: cancel}
	s.mu.Unlock()
	metrics.IncActiveJobs()

	// The running transition lands before execution starts, so a crash in
	// between never leaves a job executing with no durable record of the
	// attempt.
	if err := s.reconciler.MarkRunning(ctx, job.ID, worker.ID); err != nil {
		logger.Warnf("not starting execution: %v", err)
		s.removeHandle(job.ID)
		cancel()
		return
	}
	logger.WithField("worker", worker.Name).Info("job started")

	result, execErr := s.engine.Run(runCtx, job, worker, func(progress float64) {
		if err := s.reconciler.RecordProgress(ctx, job.ID, progress); err != nil {
			logger.Warnf("failed to record progress: %v", err)
		}
	})
	cancel()
	s.removeHandle(job.ID)

	switch {
	case execErr == nil:
		if err := s.reconciler.MarkCompleted(ctx, job.ID, result); err != nil {
			logger.Errorf("failed to record completion: %v", err)
		}
		logger.Info("job completed")
		metrics.RecordJobFinished("completed")
	case errors.Is(execErr, context.Canceled):
		if err := s.reconciler.MarkCancelled(ctx, job.ID); err != nil {
			logger.Errorf("failed to record cancellation: %v", err)
		}
		logger.Info("job cancelled")
		metrics.RecordJobFinished("cancelled")
	default:
		if err := s.reconciler.MarkFailed(ctx, job.ID, execErr.Error()); err != nil {
			logger.Errorf("failed to record failure: %v", err)
		}
		logger.Warnf("job failed: %v", execErr)
		metrics.RecordJobFinished("failed")
	}
}

func (s *Supervisor) removeHandle(jobID string) {
	s.mu.Lock()
	_, exists := s.active[jobID]
	delete(s.active, jobID)
	s.mu.Unlock()
	if exists {
		metrics.DecActiveJobs()
	}
}

// Cancel requests cancellation of a job. For an executing job it raises
// the cancellation signal and returns true immediately; the job stops at
// its next step boundary and callers needing confirmation must poll
// status. A still-pending job is transitioned straight to cancelled.
// Terminal and unknown jobs are left untouched. The return value reports
// whether an executing job was signalled.
func (s *Supervisor) Cancel(ctx context.Context, jobID string) bool {
	s.mu.Lock()
	handle := s.active[jobID]
	s.mu.Unlock()
	if handle != nil {
		handle.cancel()
		s.log.WithField("jobId", jobID).Info("cancellation requested")
		return true
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.WithField("jobId", jobID).Errorf("cancel lookup failed: %v", err)
		}
		return false
	}
	if job.Status == domain.JobPending {
		applied, err := s.reconciler.CancelPending(ctx, jobID)
		if err != nil {
			s.log.WithField("jobId", jobID).Errorf("failed to cancel pending job: %v", err)
			return false
		}
		if !applied {
			// A concurrent schedule won the race and started the job
			// between the lookup and the write. Signal it instead.
			s.mu.Lock()
			handle = s.active[jobID]
			s.mu.Unlock()
			if handle != nil {
				handle.cancel()
				s.log.WithField("jobId", jobID).Info("cancellation requested")
				return true
			}
		}
	}
	return false
}

// Retry resets a failed or cancelled job to pending and resubmits it. It
// reports whether the reset applied.
func (s *Supervisor) Retry(ctx context.Context, jobID string) (bool, error) {
	applied, err := s.reconciler.Retry(ctx, jobID)
	if err != nil || !applied {
		return false, err
	}
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return true, errors.Wrapf(err, "error reloading job %s after retry reset", jobID)
	}
	s.Submit(job)
	return true, nil
}

// ActiveJobIDs returns a sorted snapshot of the jobs currently executing.
func (s *Supervisor) ActiveJobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ScheduleBacklog submits every pending job, oldest first. Jobs that are
// already executing are skipped by the handle check in schedule, so
// sweeping the backlog repeatedly is safe.
func (s *Supervisor) ScheduleBacklog(ctx context.Context) error {
	pending, err := s.jobs.ListJobsByStatus(ctx, domain.JobPending)
	if err != nil {
		return errors.Wrap(err, "error listing pending jobs")
	}
	for _, job := range pending {
		s.Submit(job)
	}
	return nil
}

// Run sweeps the pending backlog on a fixed interval until ctx is done,
// then drains all active executions before returning.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			if err := s.ScheduleBacklog(ctx); err != nil {
				s.log.Errorf("backlog sweep failed: %v", err)
			}
		}
	}
}

// Shutdown raises the cancellation signal on every active job and waits
// for all execution goroutines to unwind, so no orphaned execution
// survives process teardown.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.shuttingDown = true
	handles := make([]*jobHandle, 0, len(s.active))
	for _, handle := range s.active {
		handles = append(handles, handle)
	}
	s.mu.Unlock()

	for _, handle := range handles {
		handle.cancel()
	}
	s.wg.Wait()
	s.log.Info("all active jobs drained")
}
