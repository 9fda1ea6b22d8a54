package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

const jobColumns = `
	id, queue_name, type, payload, priority, status, progress, progress_label,
	result, failure_reason, failure_code, attempts, max_attempts, account_id,
	subject_id, cost, debit_state, worker_id, cancel_requested, run_at,
	created_at, started_at, finished_at`

// JobRepository handles generation job persistence in Postgres
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO generation_jobs (
			id, queue_name, type, payload, priority, status, progress, progress_label,
			attempts, max_attempts, account_id, subject_id, cost, debit_state,
			run_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.QueueName,
		job.Type,
		job.Payload,
		job.Priority,
		job.Status,
		job.Progress,
		job.ProgressLabel,
		job.Attempts,
		job.MaxAttempts,
		job.AccountID,
		job.SubjectID,
		job.Cost,
		job.DebitState,
		job.RunAt,
		job.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create job", err)
	}

	return nil
}

// ClaimNext atomically moves the next claimable job of a queue to ACTIVE.
// Concurrent claimers skip rows locked by each other, so each job is handed
// to exactly one caller. Returns nil when nothing is claimable.
func (r *JobRepository) ClaimNext(ctx context.Context, queue types.QueueName, workerID string, now time.Time) (*models.Job, error) {
	query := `
		WITH next AS (
			SELECT id FROM generation_jobs
			WHERE queue_name = $1
			  AND status IN ('WAITING', 'DELAYED')
			  AND run_at <= $3
			ORDER BY priority ASC, created_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE generation_jobs j
		SET status = 'ACTIVE', worker_id = $2, started_at = $3, attempts = j.attempts + 1
		FROM next
		WHERE j.id = next.id
		RETURNING
			j.id, j.queue_name, j.type, j.payload, j.priority, j.status, j.progress, j.progress_label,
			j.result, j.failure_reason, j.failure_code, j.attempts, j.max_attempts, j.account_id,
			j.subject_id, j.cost, j.debit_state, j.worker_id, j.cancel_requested, j.run_at,
			j.created_at, j.started_at, j.finished_at
	`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, queue, workerID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("claim job", err)
	}

	return job, nil
}

// Get retrieves a job by ID
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("job", id)
	}

	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("job", id)
		}
		return nil, apperrors.NewDatabaseError("get job", err)
	}

	return job, nil
}

// UpdateProgress records progress if the claim is still current
func (r *JobRepository) UpdateProgress(ctx context.Context, claim models.Claim, progress int, label string) (bool, error) {
	query := `
		UPDATE generation_jobs
		SET progress = $4, progress_label = $5
		WHERE id = $1 AND status = 'ACTIVE' AND worker_id = $2 AND attempts = $3
	`

	tag, err := r.db.Pool().Exec(ctx, query, claim.JobID, claim.WorkerID, claim.Attempt, progress, label)
	if err != nil {
		return false, apperrors.NewDatabaseError("update progress", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Finish releases a claim with the given outcome. A stale claim is a no-op.
func (r *JobRepository) Finish(ctx context.Context, claim models.Claim, outcome models.Outcome) (bool, error) {
	var finishedAt *time.Time
	runAt := outcome.RunAt
	workerID := &claim.WorkerID
	progress := -1

	switch outcome.Status {
	case types.StatusCompleted:
		finishedAt = &outcome.FinishedAt
		progress = 100
	case types.StatusFailed:
		finishedAt = &outcome.FinishedAt
	case types.StatusDelayed, types.StatusWaiting:
		workerID = nil
	default:
		return false, fmt.Errorf("invalid outcome status: %s", outcome.Status)
	}

	query := `
		UPDATE generation_jobs
		SET status = $4,
			result = $5,
			failure_reason = $6,
			failure_code = $7,
			debit_state = $8,
			run_at = CASE WHEN $4 IN ('DELAYED', 'WAITING') THEN $9 ELSE run_at END,
			finished_at = $10,
			worker_id = $11,
			progress = CASE WHEN $12 >= 0 THEN $12 ELSE progress END
		WHERE id = $1 AND status = 'ACTIVE' AND worker_id = $2 AND attempts = $3
	`

	debitState := outcome.DebitState
	if debitState == "" {
		debitState = types.DebitNotRequired
	}

	tag, err := r.db.Pool().Exec(ctx, query,
		claim.JobID, claim.WorkerID, claim.Attempt,
		outcome.Status,
		outcome.Result,
		outcome.FailureReason,
		outcome.FailureCode,
		debitState,
		runAt,
		finishedAt,
		workerID,
		progress,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("finish job", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Remove deletes a job that has not been claimed yet
func (r *JobRepository) Remove(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, apperrors.NewNotFoundError("job", id)
	}

	tag, err := r.db.Pool().Exec(ctx,
		`DELETE FROM generation_jobs WHERE id = $1 AND status IN ('WAITING', 'DELAYED')`, id)
	if err != nil {
		return false, apperrors.NewDatabaseError("remove job", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// RequestCancel flags an ACTIVE job for cancellation at its next checkpoint
func (r *JobRepository) RequestCancel(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, apperrors.NewNotFoundError("job", id)
	}

	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE generation_jobs SET cancel_requested = TRUE WHERE id = $1 AND status = 'ACTIVE'`, id)
	if err != nil {
		return false, apperrors.NewDatabaseError("request cancel", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CancelRequested reports whether a job carries the cancellation flag
func (r *JobRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, apperrors.NewNotFoundError("job", id)
	}

	var requested bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT cancel_requested FROM generation_jobs WHERE id = $1`, id).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.NewNotFoundError("job", id)
		}
		return false, apperrors.NewDatabaseError("read cancel flag", err)
	}
	return requested, nil
}

// ListByStatus lists jobs of a queue in one status. Pending jobs come back in
// claim order, everything else newest first.
func (r *JobRepository) ListByStatus(ctx context.Context, queue types.QueueName, status types.JobStatus, offset, limit int) ([]*models.Job, error) {
	order := "created_at DESC, seq DESC"
	if status == types.StatusWaiting || status == types.StatusDelayed {
		order = "priority ASC, created_at ASC, seq ASC"
	}

	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE queue_name = $1 AND status = $2
		ORDER BY ` + order + `
		OFFSET $3 LIMIT $4
	`

	rows, err := r.db.Pool().Query(ctx, query, queue, status, offset, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list jobs", err)
	}
	return collectJobs(rows)
}

// LatestBySubject returns the most recent job of a type for a subject
func (r *JobRepository) LatestBySubject(ctx context.Context, jobType types.JobType, subjectID string) (*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE type = $1 AND subject_id = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, jobType, subjectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("job for subject", subjectID)
		}
		return nil, apperrors.NewDatabaseError("latest job by subject", err)
	}
	return job, nil
}

// ListUnsettled returns completed jobs whose debit did not go through
func (r *JobRepository) ListUnsettled(ctx context.Context, limit int) ([]*models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE status = 'COMPLETED' AND debit_state = 'unpaid'
		ORDER BY finished_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list unsettled jobs", err)
	}
	return collectJobs(rows)
}

// SetDebitState records the settlement state of a completed job
func (r *JobRepository) SetDebitState(ctx context.Context, id string, state types.DebitState) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE generation_jobs SET debit_state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return apperrors.NewDatabaseError("set debit state", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("job", id)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID,
		&job.QueueName,
		&job.Type,
		&job.Payload,
		&job.Priority,
		&job.Status,
		&job.Progress,
		&job.ProgressLabel,
		&job.Result,
		&job.FailureReason,
		&job.FailureCode,
		&job.Attempts,
		&job.MaxAttempts,
		&job.AccountID,
		&job.SubjectID,
		&job.Cost,
		&job.DebitState,
		&job.WorkerID,
		&job.CancelRequested,
		&job.RunAt,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}
