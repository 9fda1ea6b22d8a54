// Package queue implements durable priority queues of generation jobs with
// exactly-once claims and bounded retries.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/retry"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// JobStore persists jobs. ClaimNext must be atomic across processes, and
// UpdateProgress and Finish must only apply while the given claim is current.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	ClaimNext(ctx context.Context, queue types.QueueName, workerID string, now time.Time) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	UpdateProgress(ctx context.Context, claim models.Claim, progress int, label string) (bool, error)
	Finish(ctx context.Context, claim models.Claim, outcome models.Outcome) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	RequestCancel(ctx context.Context, id string) (bool, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
	ListByStatus(ctx context.Context, queue types.QueueName, status types.JobStatus, offset, limit int) ([]*models.Job, error)
	LatestBySubject(ctx context.Context, jobType types.JobType, subjectID string) (*models.Job, error)
	ListUnsettled(ctx context.Context, limit int) ([]*models.Job, error)
	SetDebitState(ctx context.Context, id string, state types.DebitState) error
}

// Validator runs a handler's payload schema check
type Validator interface {
	Validate(jobType types.JobType, payload json.RawMessage) error
}

// EnqueueParams describes a new job
type EnqueueParams struct {
	QueueName   types.QueueName
	Type        types.JobType
	Payload     json.RawMessage
	Priority    int
	MaxAttempts int
	AccountID   string
	SubjectID   string
	Cost        int64
}

// Queue is the scheduler side of the job lifecycle
type Queue struct {
	store     JobStore
	validator Validator
	backoff   *retry.RetryConfig
	now       func() time.Time
	logger    *logging.Logger
}

// Option configures a Queue
type Option func(*Queue)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the queue's logger
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue over store
func New(store JobStore, validator Validator, backoff *retry.RetryConfig, opts ...Option) *Queue {
	if backoff == nil {
		backoff = retry.DefaultRetryConfig()
	}

	q := &Queue{
		store:     store,
		validator: validator,
		backoff:   backoff,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Store returns the underlying job store
func (q *Queue) Store() JobStore {
	return q.store
}

// Enqueue validates the payload and inserts a WAITING job
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*models.Job, error) {
	if p.MaxAttempts < 1 {
		return nil, apperrors.NewInvalidPayloadError(p.Type, "maxAttempts must be at least 1")
	}
	if q.validator != nil {
		if err := q.validator.Validate(p.Type, p.Payload); err != nil {
			return nil, err
		}
	}

	now := q.now()
	job := &models.Job{
		ID:          uuid.NewString(),
		QueueName:   p.QueueName,
		Type:        p.Type,
		Payload:     p.Payload,
		Priority:    p.Priority,
		Status:      types.StatusWaiting,
		MaxAttempts: p.MaxAttempts,
		AccountID:   p.AccountID,
		SubjectID:   p.SubjectID,
		Cost:        p.Cost,
		DebitState:  types.DebitNotRequired,
		RunAt:       now,
		CreatedAt:   now,
	}

	if err := q.store.Create(ctx, job); err != nil {
		return nil, err
	}

	q.logger.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"queue":    job.QueueName,
		"type":     job.Type,
		"priority": job.Priority,
	}).Debug("Job enqueued")

	return job, nil
}

// ClaimNext hands the next job of a queue to workerID, or returns nil
func (q *Queue) ClaimNext(ctx context.Context, queueName types.QueueName, workerID string) (*models.Job, error) {
	return q.store.ClaimNext(ctx, queueName, workerID, q.now())
}

// ReportProgress records progress for the job's current claim. Reports from
// a worker that no longer holds the job are dropped.
func (q *Queue) ReportProgress(ctx context.Context, job *models.Job, progress int, label string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	ok, err := q.store.UpdateProgress(ctx, job.Claim(), progress, label)
	if err != nil {
		return err
	}
	if !ok {
		q.logger.WithField("job_id", job.ID).Debug("Dropped progress report from stale claim")
	}
	return nil
}

// Complete marks the job COMPLETED
func (q *Queue) Complete(ctx context.Context, job *models.Job, result *models.JobResult, debitState types.DebitState) (bool, error) {
	return q.store.Finish(ctx, job.Claim(), models.Outcome{
		Status:     types.StatusCompleted,
		Result:     result,
		DebitState: debitState,
		FinishedAt: q.now(),
	})
}

// Fail releases a failed attempt. Retryable errors go back to DELAYED with
// exponential backoff while attempts remain; anything else is FAILED. A job
// flagged for cancellation always fails as CANCELLED. Partial results are
// kept either way.
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause error, partial *models.JobResult) (types.JobStatus, error) {
	if !apperrors.HasCode(cause, apperrors.CodeCancelled) {
		flagged, err := q.store.CancelRequested(ctx, job.ID)
		if err != nil {
			q.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to read cancel flag")
		}
		if flagged {
			cause = apperrors.NewCancelledError(job.ID).WithCause(cause)
		}
	}

	reason := cause.Error()
	code := apperrors.Code(cause)
	now := q.now()

	outcome := models.Outcome{
		Result:        partial,
		FailureReason: &reason,
		FailureCode:   &code,
		FinishedAt:    now,
	}

	if apperrors.IsRetryable(cause) && job.Attempts < job.MaxAttempts {
		outcome.Status = types.StatusDelayed
		outcome.RunAt = now.Add(q.backoff.Delay(job.Attempts))
	} else {
		outcome.Status = types.StatusFailed
	}

	ok, err := q.store.Finish(ctx, job.Claim(), outcome)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperrors.NewConflictError("claim no longer held for job " + job.ID)
	}

	q.logger.WithError(cause).WithFields(map[string]interface{}{
		"job_id":      job.ID,
		"attempt":     job.Attempts,
		"maxAttempts": job.MaxAttempts,
		"status":      outcome.Status,
	}).Warn("Job attempt failed")

	return outcome.Status, nil
}

// Get returns a job by ID
func (q *Queue) Get(ctx context.Context, id string) (*models.Job, error) {
	return q.store.Get(ctx, id)
}

// Remove deletes a job that is still waiting. Returns false if it was
// already claimed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	return q.store.Remove(ctx, id)
}

// RequestCancel flags an ACTIVE job. Returns false if the job is not active.
func (q *Queue) RequestCancel(ctx context.Context, id string) (bool, error) {
	return q.store.RequestCancel(ctx, id)
}

// CancelRequested reports whether a job has been flagged
func (q *Queue) CancelRequested(ctx context.Context, id string) (bool, error) {
	return q.store.CancelRequested(ctx, id)
}

// ListByStatus lists jobs for operator introspection
func (q *Queue) ListByStatus(ctx context.Context, queueName types.QueueName, status types.JobStatus, offset, limit int) ([]*models.Job, error) {
	if !status.Valid() {
		return nil, apperrors.NewInvalidRequestError("unknown job status: " + string(status))
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return q.store.ListByStatus(ctx, queueName, status, offset, limit)
}
