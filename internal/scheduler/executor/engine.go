package executor

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
)

// ProgressFunc receives progress percentages in [0, 100] as a routine
// completes its steps.
type ProgressFunc func(progress float64)

// Result is the payload a routine produces on success.
type Result map[string]interface{}

// Routine executes one job type. It must check ctx at every step boundary
// and return ctx.Err() when cancelled, so cancellation is distinguishable
// from failure.
type Routine func(ctx context.Context, job *domain.Job, worker *domain.Worker, report ProgressFunc) (Result, error)

// Engine dispatches jobs to the routine registered for their type. Adding
// a job type is a Register call, not a change to the engine itself.
type Engine struct {
	mu       sync.RWMutex
	routines map[string]Routine
}

func NewEngine() *Engine {
	return &Engine{routines: map[string]Routine{}}
}

func (e *Engine) Register(jobType string, routine Routine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routines[jobType] = routine
}

func (e *Engine) Run(ctx context.Context, job *domain.Job, worker *domain.Worker, report ProgressFunc) (Result, error) {
	e.mu.RLock()
	routine, ok := e.routines[job.JobType]
	e.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unsupported job type: %s", job.JobType)
	}
	return routine(ctx, job, worker, report)
}
