// Package pipeline runs multi-stage generation jobs stage by stage.
package pipeline

import (
	"context"
	"fmt"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// Stage is one generation call of a plan
type Stage struct {
	Name    string
	Request generation.Request
}

// Plan is an ordered list of stages for a single job
type Plan struct {
	Stages []Stage
	// AccumulateReferences feeds every produced artifact to the following stages
	AccumulateReferences bool
	// References seed the reference set before the first stage
	References []string
}

// Hooks connect a run to its job
type Hooks struct {
	JobID string
	// Progress is called after every finished stage
	Progress func(ctx context.Context, progress int, label string) error
	// Cancelled is polled before each stage after the first
	Cancelled func(ctx context.Context) (bool, error)
	// Previous holds stages a prior attempt already produced
	Previous *models.JobResult
}

// Coordinator executes plans against a generation backend
type Coordinator struct {
	backend generation.Backend
	logger  *logging.Logger
}

// NewCoordinator creates a coordinator
func NewCoordinator(backend generation.Backend, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Coordinator{
		backend: backend,
		logger:  logger.WithField("component", "pipeline"),
	}
}

// Run executes the plan's stages strictly in order. On failure it returns the
// stage results collected so far together with the error; stages after the
// failing one are not attempted.
func (c *Coordinator) Run(ctx context.Context, plan Plan, hooks Hooks) (*models.JobResult, error) {
	total := len(plan.Stages)
	result := &models.JobResult{Stages: make([]models.StageResult, 0, total)}
	refs := append([]string(nil), plan.References...)

	logger := c.logger.WithFields(map[string]interface{}{
		"job_id": hooks.JobID,
		"stages": total,
	})

	for i, stage := range plan.Stages {
		if i > 0 && hooks.Cancelled != nil {
			cancelled, err := hooks.Cancelled(ctx)
			if err != nil {
				logger.WithError(err).Warn("Cancellation check failed, continuing")
			} else if cancelled {
				logger.WithField("next_stage", stage.Name).Info("Pipeline cancelled between stages")
				return result, apperrors.NewCancelledError(hooks.JobID)
			}
		}

		if prev, ok := hooks.Previous.Stage(stage.Name); ok && prev.Status == types.StageSucceeded && prev.ArtifactRef != "" {
			logger.WithField("stage", stage.Name).Debug("Reusing artifact from previous attempt")
			result.Stages = append(result.Stages, prev)
			result.ArtifactRef = prev.ArtifactRef
			if plan.AccumulateReferences {
				refs = append(refs, prev.ArtifactRef)
			}
			c.progress(ctx, hooks, i+1, total, stage.Name)
			continue
		}

		req := stage.Request
		if plan.AccumulateReferences {
			req.References = append(append([]string(nil), req.References...), refs...)
		}

		artifact, err := c.backend.Invoke(ctx, req)
		if err != nil {
			result.Stages = append(result.Stages, models.StageResult{
				Name:   stage.Name,
				Status: types.StageFailed,
				Error:  err.Error(),
			})
			logger.WithFields(map[string]interface{}{
				"stage":     stage.Name,
				"completed": i,
			}).WithError(err).Warn("Pipeline stage failed, aborting remaining stages")
			return result, fmt.Errorf("stage %s: %w", stage.Name, err)
		}

		result.Stages = append(result.Stages, models.StageResult{
			Name:        stage.Name,
			Status:      types.StageSucceeded,
			ArtifactRef: artifact.Ref,
		})
		result.ArtifactRef = artifact.Ref
		if plan.AccumulateReferences {
			refs = append(refs, artifact.Ref)
		}
		c.progress(ctx, hooks, i+1, total, stage.Name)
	}

	return result, nil
}

func (c *Coordinator) progress(ctx context.Context, hooks Hooks, done, total int, label string) {
	if hooks.Progress == nil || total == 0 {
		return
	}
	if err := hooks.Progress(ctx, done*100/total, label); err != nil {
		c.logger.WithError(err).WithField("job_id", hooks.JobID).Warn("Failed to report progress")
	}
}
