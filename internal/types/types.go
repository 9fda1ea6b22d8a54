// Package types provides common type definitions for the generation job orchestrator.
package types

// JobStatus represents the queue-level lifecycle state of a job
type JobStatus string

const (
	// StatusWaiting represents a job ready to be claimed
	StatusWaiting JobStatus = "WAITING"
	// StatusActive represents a job claimed by a worker
	StatusActive JobStatus = "ACTIVE"
	// StatusDelayed represents a job waiting for its retry backoff to elapse
	StatusDelayed JobStatus = "DELAYED"
	// StatusCompleted represents a successfully finished job
	StatusCompleted JobStatus = "COMPLETED"
	// StatusFailed represents a permanently failed job
	StatusFailed JobStatus = "FAILED"
)

// Valid reports whether s is a known job status
func (s JobStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusDelayed, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can happen from s
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseJobStatus parses a status name case-sensitively
func ParseJobStatus(s string) (JobStatus, bool) {
	status := JobStatus(s)
	return status, status.Valid()
}

// OrchestratorState is the caller-facing state of a submission
type OrchestratorState string

const (
	StateSubmitted       OrchestratorState = "SUBMITTED"
	StateAdmitted        OrchestratorState = "ADMITTED"
	StateQueued          OrchestratorState = "QUEUED"
	StateRunning         OrchestratorState = "RUNNING"
	StateSucceeded       OrchestratorState = "SUCCEEDED"
	StateFailedPermanent OrchestratorState = "FAILED_PERMANENT"
)

// StateForStatus maps a queue status onto the orchestrator state machine.
// WAITING and DELAYED are both QUEUED from the caller's point of view.
func StateForStatus(status JobStatus) OrchestratorState {
	switch status {
	case StatusWaiting, StatusDelayed:
		return StateQueued
	case StatusActive:
		return StateRunning
	case StatusCompleted:
		return StateSucceeded
	case StatusFailed:
		return StateFailedPermanent
	default:
		return StateSubmitted
	}
}

// JobType discriminates payload variants and selects the handler
type JobType string

const (
	JobTypeAvatar                     JobType = "avatar"
	JobTypeSticker                    JobType = "sticker"
	JobTypeStickerBulk                JobType = "sticker-bulk"
	JobTypeMultiStageDataset          JobType = "multi-stage-dataset"
	JobTypeAvatarCorrection           JobType = "avatar-correction"
	JobTypeDataCompletenessCorrection JobType = "data-completeness-correction"
)

// QueueName is a logical queue partition
type QueueName string

const (
	// QueueImageGeneration carries interactive and bulk image work
	QueueImageGeneration QueueName = "image-generation"
	// QueueCharacterPopulation carries administrative correction work
	QueueCharacterPopulation QueueName = "character-population"
)

// Valid reports whether q is a queue with a worker pool
func (q QueueName) Valid() bool {
	return q == QueueImageGeneration || q == QueueCharacterPopulation
}

// Platform priorities. Lower values are claimed first.
const (
	PriorityNormal = 5
	PriorityBulk   = 3
)

// ViewName identifies one view of the multi-stage reference dataset
type ViewName string

const (
	ViewFace  ViewName = "face"
	ViewFront ViewName = "front"
	ViewSide  ViewName = "side"
	ViewBack  ViewName = "back"
)

// DefaultViews is the canonical stage order of a reference dataset
var DefaultViews = []ViewName{ViewFace, ViewFront, ViewSide, ViewBack}

// ValidView reports whether v is one of the dataset views
func ValidView(v ViewName) bool {
	for _, known := range DefaultViews {
		if v == known {
			return true
		}
	}
	return false
}

// StageStatus is the outcome of one pipeline stage
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// DebitState tracks whether a completed job has been charged
type DebitState string

const (
	// DebitNotRequired is used for jobs that are not (yet) chargeable
	DebitNotRequired DebitState = "not_required"
	// DebitDebited means exactly one ledger entry exists for the job
	DebitDebited DebitState = "debited"
	// DebitUnpaid means the artifact was delivered but the debit failed
	DebitUnpaid DebitState = "unpaid"
)

// AccountRole is supplied by the upstream auth layer
type AccountRole string

const (
	RoleUser  AccountRole = "user"
	RoleAdmin AccountRole = "admin"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
