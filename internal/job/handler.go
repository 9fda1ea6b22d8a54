// Package job holds one handler per generation job type.
package job

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// PayloadInfo is what admission needs to know about a payload
type PayloadInfo struct {
	SubjectID string
	// Size is the number of billable units, e.g. stickers in a bulk set
	Size int
}

// Execution is the per-attempt context handed to a handler
type Execution struct {
	Job *models.Job
	// Progress records progress for the current claim
	Progress func(ctx context.Context, progress int, label string) error
	// Cancelled reports whether the caller asked to stop the job
	Cancelled func(ctx context.Context) (bool, error)
}

// Handler executes one job type
type Handler interface {
	Type() types.JobType
	Queue() types.QueueName
	DefaultPriority() int
	// Inspect validates the payload and extracts its admission facts
	Inspect(payload json.RawMessage) (PayloadInfo, error)
	// Handle runs one attempt. A non-nil result with an error is a partial result.
	Handle(ctx context.Context, exec *Execution) (*models.JobResult, error)
}

// Registry maps job types to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.JobType]Handler
}

// NewRegistry creates a registry with the given handlers
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[types.JobType]Handler, len(handlers))}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds or replaces the handler of h.Type()
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get returns the handler of a job type
func (r *Registry) Get(jobType types.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job types in name order
func (r *Registry) Types() []types.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Inspect validates a payload with its type's handler
func (r *Registry) Inspect(jobType types.JobType, payload json.RawMessage) (PayloadInfo, error) {
	h, ok := r.Get(jobType)
	if !ok {
		return PayloadInfo{}, apperrors.NewInvalidPayloadError(jobType, "unknown job type")
	}
	return h.Inspect(payload)
}

// Validate implements queue.Validator
func (r *Registry) Validate(jobType types.JobType, payload json.RawMessage) error {
	_, err := r.Inspect(jobType, payload)
	return err
}

// decode unmarshals a payload, reporting malformed JSON as InvalidPayload
func decode(jobType types.JobType, payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return apperrors.NewInvalidPayloadError(jobType, "payload is empty")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return apperrors.NewInvalidPayloadError(jobType, "malformed JSON: "+err.Error())
	}
	return nil
}
