package ratelimit

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
)

// DefaultMaxWait bounds how long a call waits for budget before failing
// as a transient backend error.
const DefaultMaxWait = 30 * time.Second

type priorityKey struct{}

// WithPriority tags ctx with the budget pool its generation calls draw from
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the pool tagged on ctx, defaulting to PriorityLow
func PriorityFrom(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityLow
}

// ThrottledBackend wraps a generation backend so every call first takes one
// unit of budget. Health checks are never throttled.
type ThrottledBackend struct {
	underlying generation.Backend
	pacer      *Pacer
	maxWait    time.Duration
	logger     *logging.Logger
}

var _ generation.Backend = (*ThrottledBackend)(nil)

// NewThrottledBackend wraps backend
func NewThrottledBackend(backend generation.Backend, pacer *Pacer, maxWait time.Duration, logger *logging.Logger) *ThrottledBackend {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ThrottledBackend{underlying: backend, pacer: pacer, maxWait: maxWait, logger: logger}
}

func (b *ThrottledBackend) acquire(ctx context.Context, op string) error {
	priority := PriorityFrom(ctx)
	start := time.Now()

	if err := b.pacer.Wait(ctx, 1, priority, b.maxWait); err != nil {
		b.logger.WithFields(map[string]interface{}{
			"operation": op,
			"priority":  priority.String(),
			"waited":    time.Since(start).String(),
		}).WithError(err).Warn("Generation budget not granted")
		return apperrors.NewTransientBackendError("budget", fmt.Errorf("%s: %w", op, err))
	}

	if waited := time.Since(start); waited > time.Second {
		b.logger.WithFields(map[string]interface{}{
			"operation": op,
			"priority":  priority.String(),
			"waited":    waited.String(),
		}).Debug("Generation call delayed by budget")
	}
	return nil
}

// Invoke implements generation.Backend
func (b *ThrottledBackend) Invoke(ctx context.Context, req generation.Request) (*generation.Artifact, error) {
	if err := b.acquire(ctx, "invoke"); err != nil {
		return nil, err
	}
	return b.underlying.Invoke(ctx, req)
}

// CompleteFields implements generation.Backend
func (b *ThrottledBackend) CompleteFields(ctx context.Context, req generation.FieldsRequest) (map[string]string, error) {
	if err := b.acquire(ctx, "complete"); err != nil {
		return nil, err
	}
	return b.underlying.CompleteFields(ctx, req)
}

// HealthCheck implements generation.Backend
func (b *ThrottledBackend) HealthCheck(ctx context.Context) bool {
	return b.underlying.HealthCheck(ctx)
}
