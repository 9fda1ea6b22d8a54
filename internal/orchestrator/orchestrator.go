// Package orchestrator is the public surface of the generation job system:
// admission, submission, status polling, cancellation and settlement.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leandro-br-dev/charhub-sub004/internal/credit"
	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/job"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/queue"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// CancelSignal carries cancellation requests to workers in other processes
type CancelSignal interface {
	Request(ctx context.Context, jobID string) error
	Requested(ctx context.Context, jobID string) (bool, error)
	Clear(ctx context.Context, jobID string) error
}

// Config holds orchestrator settings
type Config struct {
	RetentionWindow    time.Duration
	DefaultMaxAttempts int
	ReconcileBatchSize int
}

// Orchestrator wires admission, the queue and settlement together
type Orchestrator struct {
	queue    *queue.Queue
	registry *job.Registry
	credits  *credit.Service
	signal   CancelSignal
	cfg      Config
	now      func() time.Time
	logger   *logging.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithCancelSignal adds a cross-process cancellation channel
func WithCancelSignal(s CancelSignal) Option {
	return func(o *Orchestrator) { o.signal = s }
}

// WithClock overrides the time source used for retention
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the orchestrator's logger
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator
func New(q *queue.Queue, registry *job.Registry, credits *credit.Service, cfg Config, opts ...Option) *Orchestrator {
	if cfg.DefaultMaxAttempts < 1 {
		cfg.DefaultMaxAttempts = 3
	}
	if cfg.ReconcileBatchSize <= 0 {
		cfg.ReconcileBatchSize = 100
	}

	o := &Orchestrator{
		queue:    q,
		registry: registry,
		credits:  credits,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithField("component", "orchestrator")
	return o
}

// Caller identifies who is acting, as asserted by the upstream auth layer
type Caller struct {
	AccountID string
	Role      types.AccountRole
}

// IsAdmin reports whether the caller has the admin role
func (c Caller) IsAdmin() bool {
	return c.Role == types.RoleAdmin
}

// SubmitRequest describes a new generation job
type SubmitRequest struct {
	Caller      Caller
	QueueName   types.QueueName // defaults to the handler's queue
	Type        types.JobType
	Payload     json.RawMessage
	Priority    *int // defaults to the handler's priority
	MaxAttempts int
}

// Submission is returned once a job is queued
type Submission struct {
	JobID     string                  `json:"jobId"`
	State     types.OrchestratorState `json:"state"`
	QueueName types.QueueName         `json:"queueName"`
	Priority  int                     `json:"priority"`
	Cost      int64                   `json:"cost"`
}

// Submit validates, prices and admits a job, then queues it. When the
// account cannot afford the job nothing is stored.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if req.Caller.AccountID == "" {
		return nil, apperrors.NewInvalidRequestError("account id is required")
	}

	handler, ok := o.registry.Get(req.Type)
	if !ok {
		return nil, apperrors.NewInvalidPayloadError(req.Type, "unknown job type")
	}

	// the population queue carries administrative corrections only
	if handler.Queue() == types.QueueCharacterPopulation && !req.Caller.IsAdmin() {
		return nil, apperrors.NewForbiddenError(string(req.Type) + " jobs require the admin role")
	}

	queueName := req.QueueName
	if queueName == "" {
		queueName = handler.Queue()
	}
	if !queueName.Valid() {
		return nil, apperrors.NewInvalidRequestError("unknown queue: " + string(queueName))
	}
	if queueName != handler.Queue() && !req.Caller.IsAdmin() {
		return nil, apperrors.NewForbiddenError(string(req.Type) + " jobs run on the " + string(handler.Queue()) + " queue")
	}

	priority := handler.DefaultPriority()
	if req.Priority != nil {
		priority = *req.Priority
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = o.cfg.DefaultMaxAttempts
	}

	// SUBMITTED
	info, err := handler.Inspect(req.Payload)
	if err != nil {
		return nil, err
	}

	cost := o.credits.EstimateCost(req.Type, info.Size)
	if err := o.credits.Admit(ctx, req.Caller.AccountID, cost); err != nil {
		o.logger.WithFields(map[string]interface{}{
			"account_id": req.Caller.AccountID,
			"type":       req.Type,
			"cost":       cost,
		}).WithError(err).Info("Submission rejected at admission")
		return nil, err
	}

	// ADMITTED
	j, err := o.queue.Enqueue(ctx, queue.EnqueueParams{
		QueueName:   queueName,
		Type:        req.Type,
		Payload:     req.Payload,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		AccountID:   req.Caller.AccountID,
		SubjectID:   info.SubjectID,
		Cost:        cost,
	})
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(map[string]interface{}{
		"job_id":     j.ID,
		"account_id": j.AccountID,
		"type":       j.Type,
		"queue":      j.QueueName,
		"priority":   j.Priority,
		"cost":       cost,
	}).Info("Job submitted")

	return &Submission{
		JobID:     j.ID,
		State:     types.StateQueued,
		QueueName: j.QueueName,
		Priority:  j.Priority,
		Cost:      cost,
	}, nil
}

// Status is the pollable view of a job
type Status struct {
	JobID         string                  `json:"jobId"`
	AccountID     string                  `json:"accountId"`
	Type          types.JobType           `json:"type"`
	QueueName     types.QueueName         `json:"queueName"`
	State         types.OrchestratorState `json:"state"`
	Status        types.JobStatus         `json:"status"`
	Priority      int                     `json:"priority"`
	Progress      int                     `json:"progress"`
	ProgressLabel string                  `json:"progressLabel,omitempty"`
	Result        *models.JobResult       `json:"result,omitempty"`
	FailureReason *string                 `json:"failureReason,omitempty"`
	FailureCode   *string                 `json:"failureCode,omitempty"`
	Attempts      int                     `json:"attempts"`
	MaxAttempts   int                     `json:"maxAttempts"`
	Cost          int64                   `json:"cost"`
	DebitState    types.DebitState        `json:"debitState"`
	CreatedAt     time.Time               `json:"createdAt"`
	StartedAt     *time.Time              `json:"startedAt,omitempty"`
	FinishedAt    *time.Time              `json:"finishedAt,omitempty"`
}

func statusOf(j *models.Job) *Status {
	return &Status{
		JobID:         j.ID,
		AccountID:     j.AccountID,
		Type:          j.Type,
		QueueName:     j.QueueName,
		State:         types.StateForStatus(j.Status),
		Status:        j.Status,
		Priority:      j.Priority,
		Progress:      j.Progress,
		ProgressLabel: j.ProgressLabel,
		Result:        j.Result,
		FailureReason: j.FailureReason,
		FailureCode:   j.FailureCode,
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		Cost:          j.Cost,
		DebitState:    j.DebitState,
		CreatedAt:     j.CreatedAt,
		StartedAt:     j.StartedAt,
		FinishedAt:    j.FinishedAt,
	}
}

// GetStatus returns a job's state. Finished jobs older than the retention
// window are reported as NotFound.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*Status, error) {
	j, err := o.visibleJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return statusOf(j), nil
}

func (o *Orchestrator) visibleJob(ctx context.Context, jobID string) (*models.Job, error) {
	j, err := o.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if o.cfg.RetentionWindow > 0 && j.FinishedBefore(o.now().Add(-o.cfg.RetentionWindow)) {
		return nil, apperrors.NewNotFoundError("job", jobID)
	}
	return j, nil
}

// CancelResult reports what a cancellation did
type CancelResult struct {
	JobID string `json:"jobId"`
	// Removed means the job was still queued and is gone
	Removed bool `json:"removed"`
	// Flagged means the job is running and will stop at its next checkpoint
	Flagged bool `json:"flagged"`
}

// Cancel removes a queued job, or flags a running one. Single-stage handlers
// do not observe the flag; their attempt runs to completion.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*CancelResult, error) {
	j, err := o.visibleJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return nil, apperrors.NewConflictError("job already finished: " + jobID)
	}

	if j.Status == types.StatusWaiting || j.Status == types.StatusDelayed {
		removed, err := o.queue.Remove(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if removed {
			o.logger.WithField("job_id", jobID).Info("Queued job removed")
			return &CancelResult{JobID: jobID, Removed: true}, nil
		}
		// claimed in the meantime
	}

	flagged, err := o.queue.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !flagged {
		return nil, apperrors.NewConflictError("job finished before it could be cancelled: " + jobID)
	}

	if o.signal != nil {
		if err := o.signal.Request(ctx, jobID); err != nil {
			o.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to publish cancel signal")
		}
	}

	o.logger.WithField("job_id", jobID).Info("Running job flagged for cancellation")
	return &CancelResult{JobID: jobID, Flagged: true}, nil
}

// CancelRequested merges the store flag with the cross-process signal. The
// worker pool polls it between stages.
func (o *Orchestrator) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	if o.signal != nil {
		requested, err := o.signal.Requested(ctx, jobID)
		if err == nil && requested {
			return true, nil
		}
		if err != nil {
			o.logger.WithError(err).Debug("Cancel signal unavailable, using store flag")
		}
	}
	return o.queue.CancelRequested(ctx, jobID)
}

// ListRecent lists jobs of a queue in a status
func (o *Orchestrator) ListRecent(ctx context.Context, queueName types.QueueName, status types.JobStatus, offset, limit int) ([]*Status, error) {
	if !queueName.Valid() {
		return nil, apperrors.NewInvalidRequestError("unknown queue: " + string(queueName))
	}

	jobs, err := o.queue.ListByStatus(ctx, queueName, status, offset, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*Status, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, statusOf(j))
	}
	return out, nil
}
