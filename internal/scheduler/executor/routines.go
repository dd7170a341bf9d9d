package executor

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/ft54482/owl-workshop/internal/scheduler/domain"
)

const (
	JobTypeTraining       = "training"
	JobTypeInference      = "inference"
	JobTypeDataProcessing = "data_processing"
)

// stagedParams are the per-job overrides a job's config payload may carry.
type stagedParams struct {
	Steps      int `mapstructure:"steps"`
	StepMillis int `mapstructure:"step_millis"`
}

// StagedRoutine returns a routine that performs a bounded number of
// discrete steps. Each step does bounded work and then yields; the
// cancellation signal is observed at every step boundary, so cancellation
// latency is bounded by the cost of the single in-flight step. Progress is
// reported as completedSteps/totalSteps x 100 after each step.
func StagedRoutine(defaultSteps int, defaultStepTime time.Duration) Routine {
	return func(ctx context.Context, job *domain.Job, worker *domain.Worker, report ProgressFunc) (Result, error) {
		steps := defaultSteps
		stepTime := defaultStepTime
		if job.Config != nil {
			var params stagedParams
			if err := mapstructure.Decode(job.Config, &params); err != nil {
				return nil, errors.Wrap(err, "invalid job config")
			}
			if params.Steps > 0 {
				steps = params.Steps
			}
			if params.StepMillis > 0 {
				stepTime = time.Duration(params.StepMillis) * time.Millisecond
			}
		}

		for step := 0; step < steps; step++ {
			timer := time.NewTimer(stepTime)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			report(float64(step+1) / float64(steps) * 100)
		}

		return Result{
			"steps_completed": steps,
			"worker":          worker.Name,
		}, nil
	}
}

// NewDefaultEngine returns an engine with the built-in job types
// registered: a long staged computation, a shorter one, and a
// file-enumeration style batch pass.
func NewDefaultEngine() *Engine {
	engine := NewEngine()
	engine.Register(JobTypeTraining, StagedRoutine(100, 100*time.Millisecond))
	engine.Register(JobTypeInference, StagedRoutine(50, 50*time.Millisecond))
	engine.Register(JobTypeDataProcessing, StagedRoutine(20, 200*time.Millisecond))
	return engine
}
