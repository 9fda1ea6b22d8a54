package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation/generationtest"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

func datasetPlan(views ...string) Plan {
	stages := make([]Stage, 0, len(views))
	for _, v := range views {
		stages = append(stages, Stage{
			Name:    v,
			Request: generation.Request{Kind: generation.KindReferenceView, Label: v, Prompt: "knight, " + v},
		})
	}
	return Plan{Stages: stages, AccumulateReferences: true}
}

type progressRecorder struct {
	values []int
	labels []string
}

func (p *progressRecorder) record(ctx context.Context, progress int, label string) error {
	p.values = append(p.values, progress)
	p.labels = append(p.labels, label)
	return nil
}

func TestCoordinator_AccumulatesReferences(t *testing.T) {
	fake := generationtest.New()
	c := NewCoordinator(fake, logging.Nop())
	rec := &progressRecorder{}

	result, err := c.Run(context.Background(), datasetPlan("face", "front", "side", "back"), Hooks{JobID: "j1", Progress: rec.record})
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 4)
	for i, call := range calls {
		assert.Len(t, call.References, i, "stage %d should see every earlier artifact", i)
	}
	assert.Equal(t, result.Stages[0].ArtifactRef, calls[1].References[0])

	assert.Equal(t, []int{25, 50, 75, 100}, rec.values)
	assert.Equal(t, []string{"face", "front", "side", "back"}, rec.labels)
	assert.Len(t, result.SucceededStages(), 4)
	assert.Equal(t, result.Stages[3].ArtifactRef, result.ArtifactRef)
}

func TestCoordinator_PartialFailurePreserved(t *testing.T) {
	fake := generationtest.New()
	fake.FailOnce("side", generationtest.Permanent("pose rejected"))
	c := NewCoordinator(fake, logging.Nop())

	result, err := c.Run(context.Background(), datasetPlan("face", "front", "side", "back"), Hooks{JobID: "j1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsPermanent(err))
	assert.True(t, strings.Contains(err.Error(), "stage side"))

	require.NotNil(t, result)
	assert.Len(t, result.SucceededStages(), 2)
	failed, ok := result.Stage("side")
	require.True(t, ok)
	assert.Equal(t, types.StageFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)

	_, ok = result.Stage("back")
	assert.False(t, ok, "stages after a failure are not attempted")
	assert.Equal(t, 0, fake.CallCount("back"))
}

func TestCoordinator_SeededReferencesSkipEarlierStages(t *testing.T) {
	fake := generationtest.New()
	c := NewCoordinator(fake, logging.Nop())

	plan := datasetPlan("side", "back")
	plan.References = []string{"artifact://face", "artifact://front"}

	result, err := c.Run(context.Background(), plan, Hooks{JobID: "j2"})
	require.NoError(t, err)

	assert.Equal(t, 0, fake.CallCount("face"))
	assert.Equal(t, 0, fake.CallCount("front"))
	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"artifact://face", "artifact://front"}, calls[0].References)
	assert.Len(t, calls[1].References, 3)
	assert.Len(t, result.Stages, 2)
}

func TestCoordinator_ResumesFromPreviousAttempt(t *testing.T) {
	fake := generationtest.New()
	c := NewCoordinator(fake, logging.Nop())

	previous := &models.JobResult{Stages: []models.StageResult{
		{Name: "face", Status: types.StageSucceeded, ArtifactRef: "artifact://old-face"},
		{Name: "front", Status: types.StageFailed, Error: "busy"},
	}}

	result, err := c.Run(context.Background(), datasetPlan("face", "front"), Hooks{JobID: "j3", Previous: previous})
	require.NoError(t, err)

	assert.Equal(t, 0, fake.CallCount("face"))
	assert.Equal(t, 1, fake.CallCount("front"))
	assert.Equal(t, "artifact://old-face", result.Stages[0].ArtifactRef)
	assert.Equal(t, []string{"artifact://old-face"}, fake.Calls()[0].References)
}

func TestCoordinator_CancelledBetweenStages(t *testing.T) {
	fake := generationtest.New()
	c := NewCoordinator(fake, logging.Nop())

	checks := 0
	cancelled := func(ctx context.Context) (bool, error) {
		checks++
		return checks >= 2, nil
	}

	result, err := c.Run(context.Background(), datasetPlan("face", "front", "side", "back"), Hooks{JobID: "j4", Cancelled: cancelled})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCancelled))
	assert.Len(t, result.SucceededStages(), 2)
	assert.Len(t, fake.Calls(), 2)
}

func TestCoordinator_TransientErrorKeepsClassification(t *testing.T) {
	fake := generationtest.New()
	fake.FailOnce("face", generationtest.Transient("gpu busy"))
	c := NewCoordinator(fake, logging.Nop())

	_, err := c.Run(context.Background(), datasetPlan("face"), Hooks{JobID: "j5"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, apperrors.CodeTransientBackendError, apperrors.Code(err))
}
