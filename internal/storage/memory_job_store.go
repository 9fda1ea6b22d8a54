package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

type memoryJob struct {
	job *models.Job
	seq int64
}

// MemoryJobStore is an in-memory job store with the same claim semantics as
// JobRepository. Safe for concurrent use; used by tests and local runs.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
	seq  int64
}

// NewMemoryJobStore returns an empty store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*memoryJob)}
}

// Create inserts a new job
func (s *MemoryJobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return apperrors.NewConflictError("job already exists: " + job.ID)
	}

	s.seq++
	s.jobs[job.ID] = &memoryJob{job: job.Clone(), seq: s.seq}
	return nil
}

// ClaimNext moves the next claimable job of a queue to ACTIVE
func (s *MemoryJobStore) ClaimNext(_ context.Context, queue types.QueueName, workerID string, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *memoryJob
	for _, mj := range s.jobs {
		j := mj.job
		if j.QueueName != queue || (j.Status != types.StatusWaiting && j.Status != types.StatusDelayed) {
			continue
		}
		if j.RunAt.After(now) {
			continue
		}
		if next == nil || claimsBefore(mj, next) {
			next = mj
		}
	}

	if next == nil {
		return nil, nil
	}

	j := next.job
	j.Status = types.StatusActive
	j.WorkerID = &workerID
	started := now
	j.StartedAt = &started
	j.Attempts++

	return j.Clone(), nil
}

func claimsBefore(a, b *memoryJob) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority < b.job.Priority
	}
	if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.job.CreatedAt.Before(b.job.CreatedAt)
	}
	return a.seq < b.seq
}

// Get retrieves a job by ID
func (s *MemoryJobStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job", id)
	}
	return mj.job.Clone(), nil
}

// held returns the job if claim is its current ACTIVE claim
func (s *MemoryJobStore) held(claim models.Claim) *models.Job {
	mj, ok := s.jobs[claim.JobID]
	if !ok {
		return nil
	}
	j := mj.job
	if j.Status != types.StatusActive || j.WorkerID == nil || *j.WorkerID != claim.WorkerID || j.Attempts != claim.Attempt {
		return nil
	}
	return j
}

// UpdateProgress records progress if the claim is still current
func (s *MemoryJobStore) UpdateProgress(_ context.Context, claim models.Claim, progress int, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.held(claim)
	if j == nil {
		return false, nil
	}
	j.Progress = progress
	j.ProgressLabel = label
	return true, nil
}

// Finish releases a claim with the given outcome. A stale claim is a no-op.
func (s *MemoryJobStore) Finish(_ context.Context, claim models.Claim, outcome models.Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.held(claim)
	if j == nil {
		return false, nil
	}

	j.Status = outcome.Status
	j.Result = outcome.Result.Clone()
	j.FailureReason = cloneStr(outcome.FailureReason)
	j.FailureCode = cloneStr(outcome.FailureCode)
	j.DebitState = outcome.DebitState
	if j.DebitState == "" {
		j.DebitState = types.DebitNotRequired
	}

	switch outcome.Status {
	case types.StatusCompleted:
		j.Progress = 100
		finished := outcome.FinishedAt
		j.FinishedAt = &finished
	case types.StatusFailed:
		finished := outcome.FinishedAt
		j.FinishedAt = &finished
	default:
		j.RunAt = outcome.RunAt
		j.WorkerID = nil
	}

	return true, nil
}

// Remove deletes a job that has not been claimed yet
func (s *MemoryJobStore) Remove(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[id]
	if !ok {
		return false, apperrors.NewNotFoundError("job", id)
	}
	if mj.job.Status != types.StatusWaiting && mj.job.Status != types.StatusDelayed {
		return false, nil
	}

	delete(s.jobs, id)
	return true, nil
}

// RequestCancel flags an ACTIVE job for cancellation
func (s *MemoryJobStore) RequestCancel(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[id]
	if !ok {
		return false, apperrors.NewNotFoundError("job", id)
	}
	if mj.job.Status != types.StatusActive {
		return false, nil
	}

	mj.job.CancelRequested = true
	return true, nil
}

// CancelRequested reports whether a job carries the cancellation flag
func (s *MemoryJobStore) CancelRequested(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[id]
	if !ok {
		return false, apperrors.NewNotFoundError("job", id)
	}
	return mj.job.CancelRequested, nil
}

// ListByStatus lists jobs of a queue in one status
func (s *MemoryJobStore) ListByStatus(_ context.Context, queue types.QueueName, status types.JobStatus, offset, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*memoryJob
	for _, mj := range s.jobs {
		if mj.job.QueueName == queue && mj.job.Status == status {
			matched = append(matched, mj)
		}
	}

	pending := status == types.StatusWaiting || status == types.StatusDelayed
	sort.Slice(matched, func(i, k int) bool {
		if pending {
			return claimsBefore(matched[i], matched[k])
		}
		return newerThan(matched[i], matched[k])
	})

	return page(matched, offset, limit), nil
}

// LatestBySubject returns the most recent job of a type for a subject
func (s *MemoryJobStore) LatestBySubject(_ context.Context, jobType types.JobType, subjectID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *memoryJob
	for _, mj := range s.jobs {
		if mj.job.Type != jobType || mj.job.SubjectID != subjectID {
			continue
		}
		if latest == nil || newerThan(mj, latest) {
			latest = mj
		}
	}

	if latest == nil {
		return nil, apperrors.NewNotFoundError("job for subject", subjectID)
	}
	return latest.job.Clone(), nil
}

// ListUnsettled returns completed jobs whose debit did not go through
func (s *MemoryJobStore) ListUnsettled(_ context.Context, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*memoryJob
	for _, mj := range s.jobs {
		if mj.job.Status == types.StatusCompleted && mj.job.DebitState == types.DebitUnpaid {
			matched = append(matched, mj)
		}
	}
	sort.Slice(matched, func(i, k int) bool { return !newerThan(matched[i], matched[k]) })

	return page(matched, 0, limit), nil
}

// SetDebitState records the settlement state of a completed job
func (s *MemoryJobStore) SetDebitState(_ context.Context, id string, state types.DebitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[id]
	if !ok {
		return apperrors.NewNotFoundError("job", id)
	}
	mj.job.DebitState = state
	return nil
}

// Count returns the number of stored jobs
func (s *MemoryJobStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func newerThan(a, b *memoryJob) bool {
	if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.job.CreatedAt.After(b.job.CreatedAt)
	}
	return a.seq > b.seq
}

func page(matched []*memoryJob, offset, limit int) []*models.Job {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*models.Job{}
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*models.Job, len(matched))
	for i, mj := range matched {
		out[i] = mj.job.Clone()
	}
	return out
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
