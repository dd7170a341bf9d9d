package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status has finished its lifecycle.
// Terminal jobs are never mutated again except by an explicit retry.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// IsRetryable reports whether a job in this status may be reset to pending.
// Completed jobs are not retryable.
func (s JobStatus) IsRetryable() bool {
	return s == JobFailed || s == JobCancelled
}

// Job is the unit of scheduled work.
//
// Progress is a percentage in [0, 100] and is monotonically non-decreasing
// while the job is running. WorkerID is set when the job transitions to
// running and cleared again on retry. Result and ErrorMessage are mutually
// exclusive: exactly one is populated once the job reaches a terminal state.
type Job struct {
	ID      string
	OwnerID string

	Title    string
	JobType  string
	Priority int
	Config   map[string]interface{}

	Status   JobStatus
	Progress float64
	WorkerID string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Result       map[string]interface{}
	ErrorMessage string
}

// NewJob returns a pending job owned by ownerID. Priority is expected to be
// in [1, 5]; enforcing that bound is the submission layer's concern.
func NewJob(ownerID string, title string, jobType string, priority int, config map[string]interface{}) *Job {
	return &Job{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		JobType:   jobType,
		Priority:  priority,
		Config:    config,
		Status:    JobPending,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}
}
