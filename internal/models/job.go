package models

import (
	"encoding/json"
	"time"

	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// Job represents a generation job in the database
type Job struct {
	ID              string           `json:"id" db:"id"`
	QueueName       types.QueueName  `json:"queueName" db:"queue_name"`
	Type            types.JobType    `json:"type" db:"type"`
	Payload         json.RawMessage  `json:"payload" db:"payload"`
	Priority        int              `json:"priority" db:"priority"`
	Status          types.JobStatus  `json:"status" db:"status"`
	Progress        int              `json:"progress" db:"progress"`
	ProgressLabel   string           `json:"progressLabel,omitempty" db:"progress_label"`
	Result          *JobResult       `json:"result,omitempty" db:"result"`
	FailureReason   *string          `json:"failureReason,omitempty" db:"failure_reason"`
	FailureCode     *string          `json:"failureCode,omitempty" db:"failure_code"`
	Attempts        int              `json:"attempts" db:"attempts"`
	MaxAttempts     int              `json:"maxAttempts" db:"max_attempts"`
	AccountID       string           `json:"accountId" db:"account_id"`
	SubjectID       string           `json:"subjectId,omitempty" db:"subject_id"`
	Cost            int64            `json:"cost" db:"cost"`
	DebitState      types.DebitState `json:"debitState" db:"debit_state"`
	WorkerID        *string          `json:"workerId,omitempty" db:"worker_id"`
	CancelRequested bool             `json:"cancelRequested" db:"cancel_requested"`
	RunAt           time.Time        `json:"runAt" db:"run_at"`
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
	StartedAt       *time.Time       `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt      *time.Time       `json:"finishedAt,omitempty" db:"finished_at"`
}

// Claim identifies one attempt held by one worker. Writes made under a stale
// claim are ignored by the stores.
type Claim struct {
	JobID    string
	WorkerID string
	Attempt  int
}

// Claim returns the claim a worker holds after claiming j
func (j *Job) Claim() Claim {
	c := Claim{JobID: j.ID, Attempt: j.Attempts}
	if j.WorkerID != nil {
		c.WorkerID = *j.WorkerID
	}
	return c
}

// Clone returns a deep copy of j
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	cp := *j
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	cp.Result = j.Result.Clone()
	cp.FailureReason = cloneString(j.FailureReason)
	cp.FailureCode = cloneString(j.FailureCode)
	cp.WorkerID = cloneString(j.WorkerID)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.FinishedAt = cloneTime(j.FinishedAt)
	return &cp
}

// FinishedBefore reports whether j reached a terminal status before t
func (j *Job) FinishedBefore(t time.Time) bool {
	return j.Status.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(t)
}

// Outcome is what a worker reports when it gives up a claim
type Outcome struct {
	Status        types.JobStatus
	Result        *JobResult
	FailureReason *string
	FailureCode   *string
	DebitState    types.DebitState
	RunAt         time.Time // release time when Status is DELAYED
	FinishedAt    time.Time
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
