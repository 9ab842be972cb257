// Package worker runs the conversion pipeline. A pool of workers
// consumes pending jobs from the queue, each job bounded by a deadline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hagyro/paper-md/extract"
	"github.com/hagyro/paper-md/markdown"
	"github.com/hagyro/paper-md/metadata"
	"github.com/hagyro/paper-md/models"
	"github.com/hagyro/paper-md/queue"
	"github.com/hagyro/paper-md/structure"
	"github.com/hagyro/paper-md/vision"
)

// Progress checkpoints reported after each pipeline stage.
const (
	progressExtracted  = 0.2
	progressStructured = 0.4
	progressMetadata   = 0.5
	progressEnriched   = 0.8
)

// Pipeline bundles the stages shared by all workers in a pool.
type Pipeline struct {
	Extractor extract.Extractor
	Enricher  *vision.Enricher
	Structure structure.Options
}

// Pool consumes pending jobs with a fixed number of workers.
type Pool struct {
	queue    *queue.ConversionQueue
	pipeline Pipeline
	logger   *logrus.Logger
	size     int
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewPool creates a worker pool of the given size. Each job gets its
// own deadline of timeout.
func NewPool(q *queue.ConversionQueue, pipeline Pipeline, size int, timeout time.Duration, logger *logrus.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{queue: q, pipeline: pipeline, logger: logger, size: size, timeout: timeout}
}

// Start launches the workers. They exit when ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, fmt.Sprintf("worker-%d", i+1))
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id string) {
	defer p.wg.Done()
	log := p.logger.WithField("worker", id)
	log.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker stopping")
			return
		case job := <-p.queue.Pending():
			p.process(ctx, log, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, log *logrus.Entry, job *models.ConversionJob) {
	jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Registering cancel with Start lets Cancel interrupt a running job.
	if !p.queue.Start(job.ID, cancel) {
		// canceled while pending
		return
	}

	log = log.WithField("job_id", job.ID)
	log.Info("Processing job")
	started := time.Now()

	result, err := p.convert(jobCtx, job)
	if err != nil {
		p.queue.Fail(job.ID, classifyError(jobCtx, ctx, err))
		return
	}

	p.queue.Complete(job.ID, result)
	log.WithField("duration", time.Since(started).Round(time.Millisecond)).Info("Job completed")
}

// convert runs the five pipeline stages, reporting progress after each.
func (p *Pool) convert(ctx context.Context, job *models.ConversionJob) (string, error) {
	pages, err := p.pipeline.Extractor.Extract(ctx, job.Source)
	if err != nil {
		return "", fmt.Errorf("extracting %q: %w", job.SourceName, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.queue.SetProgress(job.ID, progressExtracted)

	nodes := structure.Analyze(pages, p.pipeline.Structure)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.queue.SetProgress(job.ID, progressStructured)

	meta := metadata.Extract(pages, nodes)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.queue.SetProgress(job.ID, progressMetadata)

	if p.pipeline.Enricher != nil {
		doc := vision.DocumentContext{Title: meta.Title, Abstract: meta.Abstract}
		p.pipeline.Enricher.Enrich(ctx, nodes, pages, doc)
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	p.queue.SetProgress(job.ID, progressEnriched)

	result, err := markdown.Assemble(meta, nodes)
	if err != nil {
		return "", fmt.Errorf("assembling markdown: %w", err)
	}
	return result, nil
}

// classifyError maps a pipeline error to a job error kind. A deadline on
// the job context means timed_out; cancellation of the pool context
// during shutdown and cancellation of the job context by a cancel
// request both mean canceled.
func classifyError(jobCtx, poolCtx context.Context, err error) *models.JobError {
	switch {
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return models.NewJobError(models.ErrTimedOut, "conversion exceeded its deadline")
	case errors.Is(poolCtx.Err(), context.Canceled):
		return models.NewJobError(models.ErrCanceled, "conversion canceled during shutdown")
	case errors.Is(jobCtx.Err(), context.Canceled):
		return models.NewJobError(models.ErrCanceled, "conversion canceled by request")
	case errors.Is(err, extract.ErrCorruptDocument),
		errors.Is(err, extract.ErrEncryptedDocument),
		errors.Is(err, extract.ErrUnsupportedFormat):
		return models.NewJobError(models.ErrExtractionFailed, err.Error())
	default:
		return models.NewJobError(models.ErrInternal, err.Error())
	}
}
