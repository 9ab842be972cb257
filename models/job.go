package models

import (
	"time"
)

// JobState represents the current state of a conversion job in the system
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateTimedOut   JobState = "timed_out"
)

// Terminal reports whether the state is final. No transition leaves a
// terminal state.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// ErrorKind classifies job and orchestrator failures
type ErrorKind string

const (
	ErrInvalidInput     ErrorKind = "invalid_input"
	ErrNotFound         ErrorKind = "not_found"
	ErrNotReady         ErrorKind = "not_ready"
	ErrExtractionFailed ErrorKind = "extraction_failed"
	ErrTimedOut         ErrorKind = "timed_out"
	ErrOverloaded       ErrorKind = "overloaded"
	ErrCanceled         ErrorKind = "canceled"
	ErrInternal         ErrorKind = "internal_failure"
)

// JobError is an error carrying an orchestrator-level kind
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// NewJobError creates a JobError with the given kind and message
func NewJobError(kind ErrorKind, message string) *JobError {
	return &JobError{Kind: kind, Message: message}
}

// ConversionJob represents one tracked PDF to Markdown conversion request.
// It is mutated only by the single worker that dequeued it; all other
// access goes through queue snapshots.
type ConversionJob struct {
	ID          string    `json:"id"`
	SourceName  string    `json:"source_name"`
	Source      []byte    `json:"-"`
	State       JobState  `json:"state"`
	Progress    float64   `json:"progress"`
	Result      string    `json:"-"`
	Err         *JobError `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// StatusSnapshot is the read-side view of a job published to status
// queries and WebSocket clients. State, progress and error are copied
// together under the queue lock so readers never observe a torn update.
type StatusSnapshot struct {
	JobID    string   `json:"job_id"`
	State    JobState `json:"state"`
	Progress float64  `json:"progress"`
	Error    string   `json:"error,omitempty"`
}
