// Package store persists job checkpoints to Postgres. Persistence is
// best effort: the in-memory job table stays authoritative and a
// database outage never fails a conversion.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hagyro/paper-md/models"
)

// JobStore records job state transitions.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.ConversionJob)
	Close()
}

// NoopStore is used when no DATABASE_URL is configured.
type NoopStore struct{}

func (NoopStore) SaveJob(context.Context, *models.ConversionJob) {}
func (NoopStore) Close()                                         {}

const createJobsTable = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	job_id       UUID PRIMARY KEY,
	source_name  TEXT NOT NULL,
	state        TEXT NOT NULL,
	progress     DOUBLE PRECISION NOT NULL,
	result_md    TEXT,
	error_kind   TEXT,
	error_msg    TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
)`

const upsertJob = `
INSERT INTO conversion_jobs
	(job_id, source_name, state, progress, result_md, error_kind, error_msg, created_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (job_id) DO UPDATE SET
	state        = EXCLUDED.state,
	progress     = EXCLUDED.progress,
	result_md    = EXCLUDED.result_md,
	error_kind   = EXCLUDED.error_kind,
	error_msg    = EXCLUDED.error_msg,
	completed_at = EXCLUDED.completed_at`

// PostgresStore mirrors job checkpoints into a conversion_jobs table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgresStore connects to the database and ensures the jobs table
// exists.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *logrus.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createJobsTable); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// SaveJob upserts the job's current checkpoint. Failures are logged and
// swallowed.
func (s *PostgresStore) SaveJob(ctx context.Context, job *models.ConversionJob) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var resultMD, errKind, errMsg *string
	var completedAt *time.Time
	if !job.CompletedAt.IsZero() {
		t := job.CompletedAt
		completedAt = &t
	}
	if job.State == models.StateCompleted && job.Result != "" {
		md := job.Result
		resultMD = &md
	}
	if job.Err != nil {
		kind := string(job.Err.Kind)
		msg := job.Err.Message
		errKind = &kind
		errMsg = &msg
	}

	_, err := s.pool.Exec(ctx, upsertJob,
		job.ID, job.SourceName, string(job.State), job.Progress,
		resultMD, errKind, errMsg, job.CreatedAt, completedAt)
	if err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to persist job checkpoint")
	}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
