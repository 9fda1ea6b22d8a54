package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation/generationtest"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
)

func TestThrottledBackend(t *testing.T) {
	tracker, _ := newTestTracker(t, 2, 1)
	fake := generationtest.New()
	backend := NewThrottledBackend(fake, NewPacer(tracker, time.Millisecond, 2*time.Millisecond), 20*time.Millisecond, logging.Nop())

	high := WithPriority(context.Background(), PriorityHigh)
	req := generation.Request{Kind: generation.KindAvatar, Label: "avatar", Prompt: "elf"}

	art, err := backend.Invoke(high, req)
	require.NoError(t, err)
	assert.NotEmpty(t, art.Ref)

	// reserved pool is spent; the call fails before reaching the backend
	_, err = backend.Invoke(high, req)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTransientBackendError))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 1, fake.CallCount("avatar"))

	// the shared pool still has room
	_, err = backend.CompleteFields(context.Background(), generation.FieldsRequest{SubjectID: "c1", Missing: []string{"age"}})
	require.NoError(t, err)

	assert.True(t, backend.HealthCheck(context.Background()))
}

func TestPriorityFrom_DefaultsLow(t *testing.T) {
	assert.Equal(t, PriorityLow, PriorityFrom(context.Background()))
	assert.Equal(t, PriorityHigh, PriorityFrom(WithPriority(context.Background(), PriorityHigh)))
}
