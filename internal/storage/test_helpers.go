package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newTestJob builds a WAITING job in the image-generation queue
func newTestJob(priority int, createdAt time.Time) *models.Job {
	return &models.Job{
		ID:          uuid.NewString(),
		QueueName:   types.QueueImageGeneration,
		Type:        types.JobTypeAvatar,
		Payload:     []byte(`{"characterId":"c1","prompt":"portrait"}`),
		Priority:    priority,
		Status:      types.StatusWaiting,
		MaxAttempts: 3,
		AccountID:   "acct-1",
		SubjectID:   "c1",
		Cost:        8,
		DebitState:  types.DebitNotRequired,
		RunAt:       createdAt,
		CreatedAt:   createdAt,
	}
}
