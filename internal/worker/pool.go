// Package worker runs bounded pools of goroutines that claim and execute
// generation jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leandro-br-dev/charhub-sub004/internal/config"
	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/job"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/queue"
	"github.com/leandro-br-dev/charhub-sub004/internal/ratelimit"
	"github.com/leandro-br-dev/charhub-sub004/internal/retry"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// storeTimeout bounds the bookkeeping writes made after a handler returns
const storeTimeout = 10 * time.Second

// defaultFinishRetry retries the COMPLETED write after a job has been settled
func defaultFinishRetry() *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// Settler charges a successful job before it is marked COMPLETED and
// returns the debit state to record
type Settler interface {
	Settle(ctx context.Context, job *models.Job, result *models.JobResult) types.DebitState
}

// Releaser drops per-job state held outside the store once a job has
// failed for good
type Releaser interface {
	Release(ctx context.Context, job *models.Job)
}

// CancelChecker reports whether a running job should stop at its next checkpoint
type CancelChecker interface {
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}

// PoolConfig holds configuration for a pool
type PoolConfig struct {
	Queue        types.QueueName
	Concurrency  int
	PollInterval time.Duration
	Handlers     config.HandlersConfig
}

// Pool runs Concurrency slots against one queue
type Pool struct {
	queue    *queue.Queue
	registry *job.Registry
	settler  Settler
	cancels  CancelChecker
	finish   *retry.RetryConfig
	cfg      PoolConfig
	workerID string
	logger   *logging.Logger

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// Option configures a Pool
type Option func(*Pool)

// WithCancelChecker replaces the store-backed cancellation check
func WithCancelChecker(c CancelChecker) Option {
	return func(p *Pool) { p.cancels = c }
}

// WithFinishRetry sets the backoff for the COMPLETED write
func WithFinishRetry(rc *retry.RetryConfig) Option {
	return func(p *Pool) {
		if rc != nil && rc.MaxAttempts > 0 {
			p.finish = rc
		}
	}
}

// WithLogger sets the pool's logger
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithWorkerID sets the pool's worker identity prefix
func WithWorkerID(id string) Option {
	return func(p *Pool) { p.workerID = id }
}

// NewPool creates a worker pool
func NewPool(q *queue.Queue, registry *job.Registry, settler Settler, cfg PoolConfig, opts ...Option) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	p := &Pool{
		queue:      q,
		registry:   registry,
		settler:    settler,
		cancels:    q,
		finish:     defaultFinishRetry(),
		cfg:        cfg,
		workerID:   "worker-" + uuid.NewString()[:8],
		logger:     logging.GetGlobalLogger(),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithFields(map[string]interface{}{
		"component": "worker",
		"queue":     cfg.Queue,
		"worker_id": p.workerID,
	})
	return p
}

// WorkerID returns the pool's worker identity prefix
func (p *Pool) WorkerID() string {
	return p.workerID
}

// Start launches the slots. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("worker pool for queue %s is already running", p.cfg.Queue)
	}
	p.running = true

	p.logger.WithFields(map[string]interface{}{
		"concurrency":   p.cfg.Concurrency,
		"poll_interval": p.cfg.PollInterval.String(),
	}).Info("Worker pool starting")

	for i := 0; i < p.cfg.Concurrency; i++ {
		slotID := fmt.Sprintf("%s-%d", p.workerID, i)
		p.wg.Add(1)
		go p.slotLoop(slotID)
	}
	return nil
}

// Stop signals every slot to stop and waits for in-flight handlers. When ctx
// ends first, running handlers are cancelled and then awaited.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
		return ctx.Err()
	}
}

// Active returns the number of jobs currently executing
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

func (p *Pool) slotLoop(slotID string) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		processed, err := p.ProcessNext(context.Background(), slotID)
		if err != nil {
			p.logger.WithError(err).WithField("slot", slotID).Error("Failed to process job")
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-p.stopCh:
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// ProcessNext claims one job for slotID and runs it to completion. It
// reports false when the queue had nothing claimable.
func (p *Pool) ProcessNext(ctx context.Context, slotID string) (bool, error) {
	j, err := p.queue.ClaimNext(ctx, p.cfg.Queue, slotID)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if j == nil {
		return false, nil
	}

	return true, p.execute(ctx, j)
}

func (p *Pool) execute(parent context.Context, j *models.Job) error {
	logger := p.logger.WithFields(map[string]interface{}{
		"job_id":  j.ID,
		"type":    j.Type,
		"attempt": j.Attempts,
	})

	handler, ok := p.registry.Get(j.Type)
	if !ok {
		return p.fail(j, apperrors.NewInvalidPayloadError(j.Type, "no handler registered"), nil, logger)
	}

	timeout := p.cfg.Handlers.TimeoutFor(j.Type)
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityForQueue(p.cfg.Queue))
	p.trackJob(j.ID, cancel)
	defer func() {
		p.untrackJob(j.ID)
		cancel()
	}()

	exec := &job.Execution{
		Job: j,
		Progress: func(ctx context.Context, progress int, label string) error {
			return p.queue.ReportProgress(ctx, j, progress, label)
		},
		Cancelled: func(ctx context.Context) (bool, error) {
			return p.cancels.CancelRequested(ctx, j.ID)
		},
	}

	logger.Debug("Executing job")
	start := time.Now()
	result, err := runHandler(ctx, handler, exec)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !apperrors.HasCode(err, apperrors.CodeCancelled) {
			err = apperrors.NewTimeoutError(j.Type, timeout).WithCause(err)
		}
		return p.fail(j, err, result, logger)
	}

	storeCtx, storeCancel := context.WithTimeout(context.Background(), storeTimeout)
	defer storeCancel()

	debitState := types.DebitNotRequired
	if p.settler != nil {
		debitState = p.settler.Settle(storeCtx, j, result)
	}

	// the job may already be charged; keep trying to deliver the result
	var completed bool
	res := retry.WithExponentialBackoff(logging.WithLogger(storeCtx, logger), p.finish, func(ctx context.Context, _ int) error {
		var err error
		completed, err = p.queue.Complete(ctx, j, result, debitState)
		return err
	})
	if !res.Success {
		logger.WithError(res.LastError).WithFields(map[string]interface{}{
			"attempts":    res.Attempts,
			"debit_state": debitState,
		}).Error("Failed to record completed job")
		return fmt.Errorf("complete job %s: %w", j.ID, res.LastError)
	}
	if !completed {
		logger.Warn("Claim lost before completion, result discarded")
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"duration":    time.Since(start).String(),
		"debit_state": debitState,
	}).Info("Job completed")
	return nil
}

func (p *Pool) fail(j *models.Job, cause error, partial *models.JobResult, logger *logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	status, err := p.queue.Fail(ctx, j, cause, partial)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", j.ID, err)
	}
	if status == types.StatusFailed {
		if r, ok := p.settler.(Releaser); ok {
			r.Release(ctx, j)
		}
	}

	logger.WithError(cause).WithFields(map[string]interface{}{
		"status": status,
		"code":   apperrors.Code(cause),
	}).Info("Job attempt released")
	return nil
}

// runHandler converts a handler panic into a retryable internal error
func runHandler(ctx context.Context, h job.Handler, exec *job.Execution) (result *models.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = apperrors.NewInternalError("handler panicked", fmt.Errorf("%v", r))
		}
	}()
	return h.Handle(ctx, exec)
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, cancel := range p.activeJobs {
		cancel()
	}
}
