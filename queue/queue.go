// Package queue implements the job table and admission control for
// conversion jobs. The queue owns every state transition; workers and
// the HTTP layer only see snapshots.
package queue

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hagyro/paper-md/models"
	"github.com/hagyro/paper-md/store"
)

var pdfMagic = []byte("%PDF-")

// ConversionQueue tracks all jobs by ID and hands pending jobs to
// workers over a bounded channel. When the backlog channel is full a
// submission is rejected instead of queued, which keeps latency bounded
// under overload.
type ConversionQueue struct {
	mu      sync.RWMutex
	jobs    map[string]*models.ConversionJob
	cancels map[string]context.CancelFunc

	pending chan *models.ConversionJob
	updates chan models.StatusSnapshot

	store          store.JobStore
	logger         *logrus.Logger
	maxUploadBytes int64
}

// NewConversionQueue creates a queue whose backlog holds up to
// maxConcurrent*backlogFactor pending jobs.
func NewConversionQueue(maxConcurrent, backlogFactor int, maxUploadBytes int64, st store.JobStore, logger *logrus.Logger) *ConversionQueue {
	if st == nil {
		st = store.NoopStore{}
	}
	return &ConversionQueue{
		jobs:           make(map[string]*models.ConversionJob),
		cancels:        make(map[string]context.CancelFunc),
		pending:        make(chan *models.ConversionJob, maxConcurrent*backlogFactor),
		updates:        make(chan models.StatusSnapshot, 100),
		store:          st,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Submit validates the upload and enqueues a new job. It returns the
// job ID, or a JobError of kind invalid_input or overloaded.
func (q *ConversionQueue) Submit(sourceName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", models.NewJobError(models.ErrInvalidInput, "empty upload")
	}
	if int64(len(data)) > q.maxUploadBytes {
		return "", models.NewJobError(models.ErrInvalidInput,
			fmt.Sprintf("upload of %d bytes exceeds limit of %d bytes", len(data), q.maxUploadBytes))
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return "", models.NewJobError(models.ErrInvalidInput, "upload is not a PDF document")
	}

	job := &models.ConversionJob{
		ID:         uuid.New().String(),
		SourceName: sourceName,
		Source:     data,
		State:      models.StatePending,
		CreatedAt:  time.Now(),
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	select {
	case q.pending <- job:
	default:
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return "", models.NewJobError(models.ErrOverloaded, "conversion backlog is full, retry later")
	}

	q.persist(job)
	q.logger.WithFields(logrus.Fields{"job_id": job.ID, "source": sourceName, "bytes": len(data)}).Info("Job enqueued")
	return job.ID, nil
}

// persist hands the store a copy of the job taken under the lock. The
// live job may be mutated by a worker at any point after Submit enqueues
// it, so the store must never read its fields directly.
func (q *ConversionQueue) persist(job *models.ConversionJob) {
	q.mu.RLock()
	rec := *job
	q.mu.RUnlock()
	q.store.SaveJob(context.Background(), &rec)
}

// Pending returns the channel workers dequeue from. Jobs read from it
// may already be terminal when Cancel raced the dequeue; workers must
// check before processing.
func (q *ConversionQueue) Pending() <-chan *models.ConversionJob {
	return q.pending
}

// Updates returns the stream of status snapshots published on every
// transition. Publishing never blocks a worker: if the broadcast
// buffer is full the update is dropped and clients catch up on the
// next one.
func (q *ConversionQueue) Updates() <-chan models.StatusSnapshot {
	return q.updates
}

// Start marks a pending job as processing and registers the worker's
// cancel func so Cancel can interrupt the run. Starting a terminal job
// is a no-op so a canceled job dequeued later is simply skipped.
func (q *ConversionQueue) Start(jobID string, cancel context.CancelFunc) bool {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok || job.State != models.StatePending {
		q.mu.Unlock()
		return false
	}
	job.State = models.StateProcessing
	job.StartedAt = time.Now()
	if cancel != nil {
		q.cancels[jobID] = cancel
	}
	snap := snapshot(job)
	q.mu.Unlock()

	q.publish(snap)
	q.persist(job)
	return true
}

// SetProgress advances a processing job's progress. Regressions and
// updates to terminal jobs are ignored, so observed progress is
// monotonic for the job's lifetime.
func (q *ConversionQueue) SetProgress(jobID string, progress float64) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok || job.State.Terminal() || progress <= job.Progress {
		q.mu.Unlock()
		return
	}
	if progress > 1.0 {
		progress = 1.0
	}
	job.Progress = progress
	snap := snapshot(job)
	q.mu.Unlock()

	q.publish(snap)
}

// Complete finalizes a job with its rendered Markdown.
func (q *ConversionQueue) Complete(jobID, markdown string) {
	q.finalize(jobID, func(job *models.ConversionJob) {
		job.State = models.StateCompleted
		job.Progress = 1.0
		job.Result = markdown
	})
}

// Fail finalizes a job with an error. A timed_out kind lands in the
// timed_out state, every other kind in failed.
func (q *ConversionQueue) Fail(jobID string, jobErr *models.JobError) {
	q.finalize(jobID, func(job *models.ConversionJob) {
		if jobErr.Kind == models.ErrTimedOut {
			job.State = models.StateTimedOut
		} else {
			job.State = models.StateFailed
		}
		job.Err = jobErr
	})
}

// Cancel stops a job that has not reached a terminal state. A pending
// job fails immediately. A processing job gets its context canceled and
// fails at the worker's next stage boundary. Terminal jobs are left
// untouched.
func (q *ConversionQueue) Cancel(jobID string) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return models.NewJobError(models.ErrNotFound, "no such job: "+jobID)
	}
	if job.State.Terminal() {
		q.mu.Unlock()
		return models.NewJobError(models.ErrInvalidInput, "job already finished")
	}
	if job.State == models.StateProcessing {
		cancel := q.cancels[jobID]
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}
	q.mu.Unlock()

	q.finalize(jobID, func(job *models.ConversionJob) {
		job.State = models.StateFailed
		job.Err = models.NewJobError(models.ErrCanceled, "canceled before processing")
	})
	return nil
}

func (q *ConversionQueue) finalize(jobID string, apply func(*models.ConversionJob)) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok || job.State.Terminal() {
		q.mu.Unlock()
		return
	}
	apply(job)
	job.CompletedAt = time.Now()
	job.Source = nil // source bytes are not needed past a terminal state
	delete(q.cancels, jobID)
	snap := snapshot(job)
	q.mu.Unlock()

	q.publish(snap)
	q.persist(job)
	q.logger.WithFields(logrus.Fields{"job_id": jobID, "state": snap.State}).Info("Job finished")
}

// Status returns the job's current snapshot.
func (q *ConversionQueue) Status(jobID string) (models.StatusSnapshot, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return models.StatusSnapshot{}, models.NewJobError(models.ErrNotFound, "no such job: "+jobID)
	}
	return snapshot(job), nil
}

// Result returns the rendered Markdown of a completed job. A job still
// in flight yields not_ready; a failed or timed out job yields its
// recorded error.
func (q *ConversionQueue) Result(jobID string) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return "", models.NewJobError(models.ErrNotFound, "no such job: "+jobID)
	}
	switch {
	case !job.State.Terminal():
		return "", models.NewJobError(models.ErrNotReady, "job is still "+string(job.State))
	case job.State == models.StateCompleted:
		return job.Result, nil
	default:
		return "", job.Err
	}
}

// Counts reports how many jobs sit in each state, for the health
// endpoint.
func (q *ConversionQueue) Counts() map[models.JobState]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts := make(map[models.JobState]int, 5)
	for _, job := range q.jobs {
		counts[job.State]++
	}
	return counts
}

func (q *ConversionQueue) publish(snap models.StatusSnapshot) {
	select {
	case q.updates <- snap:
	default:
		q.logger.WithField("job_id", snap.JobID).Debug("Dropped status update, broadcast buffer full")
	}
}

// snapshot copies the fields readers may see. Caller holds at least the
// read lock.
func snapshot(job *models.ConversionJob) models.StatusSnapshot {
	snap := models.StatusSnapshot{
		JobID:    job.ID,
		State:    job.State,
		Progress: job.Progress,
	}
	if job.Err != nil {
		snap.Error = job.Err.Error()
	}
	return snap
}
