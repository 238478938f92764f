package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Steliosgeox/kktires-crm-sub002/internal/delivery/domain"
)

const jobColumns = `
	job_id, campaign_id, sender_id, status, run_at,
	locked_at, locked_by, attempts, max_attempts,
	started_at, completed_at, last_error, created_at, updated_at`

// CreateJob inserts a new queued job.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO campaign_jobs (
			job_id, campaign_id, sender_id, status, run_at,
			attempts, max_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.CampaignID,
		job.SenderID,
		job.Status,
		job.RunAt,
		job.Attempts,
		job.MaxAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by its id.
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM campaign_jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// FindActiveJob returns the campaign's queued or processing job, or
// nil when none exists. The enqueue path uses this to stay idempotent:
// an existing live job is returned instead of creating a duplicate.
func (s *Storage) FindActiveJob(ctx context.Context, campaignID string) (*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM campaign_jobs
		WHERE campaign_id = $1 AND status IN ($2, $3)
		ORDER BY created_at
		LIMIT 1
	`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, campaignID, domain.JobStatusQueued, domain.JobStatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active job: %w", err)
	}

	return &job, nil
}

// ClaimNextDueJob claims one job for the worker as a single atomic
// read-modify-write. Preference order: the oldest queued job whose
// run_at has passed, then the oldest processing job whose lease is
// older than leaseTimeout (recovery from a worker that died mid-run).
// The inner re-check of the status is the compare-and-swap that keeps
// two concurrent claimers from both winning. Returns nil when nothing
// is claimable.
func (s *Storage) ClaimNextDueJob(ctx context.Context, workerID string, leaseTimeout time.Duration) (*domain.Job, error) {
	job, err := s.claimJob(ctx, workerID, `
		UPDATE campaign_jobs
		SET status = $2,
		    locked_at = NOW(),
		    locked_by = $1,
		    started_at = COALESCE(started_at, NOW()),
		    updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM campaign_jobs
			WHERE status = $3 AND run_at <= NOW()
			ORDER BY run_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		  AND status = $3
		RETURNING `+jobColumns,
		workerID, domain.JobStatusProcessing, domain.JobStatusQueued)
	if err != nil || job != nil {
		return job, err
	}

	// Lease recovery: re-claim a processing job abandoned past its lease.
	job, err = s.claimJob(ctx, workerID, `
		UPDATE campaign_jobs
		SET locked_at = NOW(),
		    locked_by = $1,
		    updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM campaign_jobs
			WHERE status = $2 AND locked_at < NOW() - ($3 * INTERVAL '1 second')
			ORDER BY locked_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		  AND status = $2
		  AND locked_at < NOW() - ($3 * INTERVAL '1 second')
		RETURNING `+jobColumns,
		workerID, domain.JobStatusProcessing, leaseTimeout.Seconds())
	if err != nil {
		return nil, err
	}
	if job != nil {
		s.logger.Warn("Reclaimed job with expired lease",
			slog.String("job_id", job.JobID),
			slog.String("worker_id", workerID),
		)
	}

	return job, nil
}

func (s *Storage) claimJob(ctx context.Context, workerID, query string, args ...interface{}) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", job.JobID),
		slog.String("campaign_id", job.CampaignID),
		slog.String("worker_id", workerID),
	)

	return &job, nil
}

// YieldJob re-queues a job that still has pending work, releasing the
// lease so a future tick can resume it. Attempts are left unchanged;
// yielding is budget exhaustion, not failure. The update only applies
// while the caller still holds the lease, so a worker that outlived
// its lease cannot requeue a job another worker has since reclaimed.
func (s *Storage) YieldJob(ctx context.Context, jobID, workerID string, delay time.Duration) error {
	query := `
		UPDATE campaign_jobs
		SET status = $2,
		    run_at = NOW() + ($3 * INTERVAL '1 second'),
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $4 AND locked_by = $5
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusQueued, delay.Seconds(),
		domain.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("failed to yield job: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to yield job: %w", err)
	} else if affected == 0 {
		return domain.ErrJobLeaseLost
	}

	s.logger.Info("Job yielded",
		slog.String("job_id", jobID),
		slog.Duration("delay", delay),
	)

	return nil
}

// CompleteJob marks a job completed and releases its lease. Gated on
// the caller's lease the same way as YieldJob.
func (s *Storage) CompleteJob(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE campaign_jobs
		SET status = $2,
		    completed_at = NOW(),
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $3 AND locked_by = $4
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusCompleted,
		domain.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	} else if affected == 0 {
		return domain.ErrJobLeaseLost
	}

	return nil
}

// FailJob marks a job failed, increments its attempt count, and stores
// the truncated error.
func (s *Storage) FailJob(ctx context.Context, jobID, workerID, errMsg string) error {
	query := `
		UPDATE campaign_jobs
		SET status = $2,
		    attempts = attempts + 1,
		    last_error = $3,
		    completed_at = NOW(),
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $4 AND locked_by = $5
	`

	truncated := domain.TruncateError(errMsg, errDetailLimit)
	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusFailed, truncated,
		domain.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	} else if affected == 0 {
		return domain.ErrJobLeaseLost
	}

	s.logger.Warn("Job failed",
		slog.String("job_id", jobID),
		slog.String("error", truncated),
	)

	return nil
}
