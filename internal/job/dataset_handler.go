package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/pipeline"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

var viewPrompts = map[types.ViewName]string{
	types.ViewFace:  "close-up face portrait, neutral expression",
	types.ViewFront: "full body, front view, T-pose",
	types.ViewSide:  "full body, side view, profile",
	types.ViewBack:  "full body, back view",
}

// DatasetHandler renders the reference views of a character in sequence,
// feeding each finished view to the next
type DatasetHandler struct {
	coordinator *pipeline.Coordinator
}

// NewDatasetHandler creates a multi-stage dataset handler
func NewDatasetHandler(coordinator *pipeline.Coordinator) *DatasetHandler {
	return &DatasetHandler{coordinator: coordinator}
}

func (h *DatasetHandler) Type() types.JobType    { return types.JobTypeMultiStageDataset }
func (h *DatasetHandler) Queue() types.QueueName { return types.QueueImageGeneration }
func (h *DatasetHandler) DefaultPriority() int   { return types.PriorityNormal }

func (h *DatasetHandler) Inspect(payload json.RawMessage) (PayloadInfo, error) {
	var p DatasetPayload
	if err := decode(h.Type(), payload, &p); err != nil {
		return PayloadInfo{}, err
	}
	if err := requireField(h.Type(), "characterId", p.CharacterID); err != nil {
		return PayloadInfo{}, err
	}
	if err := checkPrompt(h.Type(), p.Prompt, true); err != nil {
		return PayloadInfo{}, err
	}

	seen := make(map[types.ViewName]bool, len(p.Views))
	for _, v := range p.Views {
		if !types.ValidView(v) {
			return PayloadInfo{}, apperrors.NewInvalidPayloadError(h.Type(), fmt.Sprintf("unknown view %q", v))
		}
		if seen[v] {
			return PayloadInfo{}, apperrors.NewInvalidPayloadError(h.Type(), fmt.Sprintf("view %q requested twice", v))
		}
		seen[v] = true
	}

	requested := make(map[types.ViewName]bool)
	for _, v := range p.ViewsOrDefault() {
		requested[v] = true
	}
	for _, k := range p.Kept {
		view := types.ViewName(k.Name)
		switch {
		case !types.ValidView(view):
			return PayloadInfo{}, apperrors.NewInvalidPayloadError(h.Type(), fmt.Sprintf("unknown kept view %q", k.Name))
		case requested[view]:
			return PayloadInfo{}, apperrors.NewInvalidPayloadError(h.Type(), fmt.Sprintf("view %q is both kept and requested", k.Name))
		case k.Status != types.StageSucceeded || k.ArtifactRef == "":
			return PayloadInfo{}, apperrors.NewInvalidPayloadError(h.Type(), fmt.Sprintf("kept view %q has no artifact", k.Name))
		}
	}

	return PayloadInfo{SubjectID: p.CharacterID, Size: len(p.ViewsOrDefault())}, nil
}

func (h *DatasetHandler) Handle(ctx context.Context, exec *Execution) (*models.JobResult, error) {
	var p DatasetPayload
	if err := decode(h.Type(), exec.Job.Payload, &p); err != nil {
		return nil, err
	}

	views := p.ViewsOrDefault()
	plan := pipeline.Plan{
		Stages:               make([]pipeline.Stage, 0, len(views)),
		AccumulateReferences: true,
		References:           p.references(),
	}
	for _, view := range views {
		plan.Stages = append(plan.Stages, pipeline.Stage{
			Name: string(view),
			Request: generation.Request{
				Kind:   generation.KindReferenceView,
				Label:  string(view),
				Prompt: fmt.Sprintf("%s, %s", p.Prompt, viewPrompts[view]),
				Style:  p.Style,
				Width:  768,
				Height: 1024,
			},
		})
	}

	result, err := h.coordinator.Run(ctx, plan, hooksFor(exec))
	return withKept(result, p.Kept), err
}

// withKept merges reused views into a run's result in canonical view order
func withKept(result *models.JobResult, kept []models.StageResult) *models.JobResult {
	if result == nil || len(kept) == 0 {
		return result
	}

	stages := append(append([]models.StageResult(nil), kept...), result.Stages...)
	sort.SliceStable(stages, func(i, j int) bool {
		return viewIndex(stages[i].Name) < viewIndex(stages[j].Name)
	})
	result.Stages = stages
	return result
}

func viewIndex(name string) int {
	for i, v := range types.DefaultViews {
		if string(v) == name {
			return i
		}
	}
	return len(types.DefaultViews)
}
