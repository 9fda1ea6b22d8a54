package orchestrator

import (
	"context"
	"encoding/json"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/job"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// RegenerationRequest asks for some views of a dataset to be rendered again.
// Exactly one of JobID and CharacterID identifies the source dataset.
type RegenerationRequest struct {
	Caller      Caller
	JobID       string
	CharacterID string
	// Views to render again. Empty means every view the source did not produce.
	Views []types.ViewName
}

// RequestRegeneration submits a dataset job that renders only the requested
// views and reuses the source's other finished views as references
func (o *Orchestrator) RequestRegeneration(ctx context.Context, req RegenerationRequest) (*Submission, error) {
	source, err := o.regenerationSource(ctx, req)
	if err != nil {
		return nil, err
	}

	var payload job.DatasetPayload
	if err := json.Unmarshal(source.Payload, &payload); err != nil {
		return nil, apperrors.NewInternalError("stored dataset payload is unreadable", err)
	}

	succeeded := make(map[types.ViewName]models.StageResult)
	for _, k := range payload.Kept {
		succeeded[types.ViewName(k.Name)] = k
	}
	for _, s := range source.Result.SucceededStages() {
		succeeded[types.ViewName(s.Name)] = s
	}

	views := req.Views
	if len(views) == 0 {
		for _, v := range types.DefaultViews {
			if _, ok := succeeded[v]; !ok && sourceCovers(&payload, v) {
				views = append(views, v)
			}
		}
	}
	if len(views) == 0 {
		return nil, apperrors.NewConflictError("every view of job " + source.ID + " already succeeded")
	}

	regenerate := make(map[types.ViewName]bool, len(views))
	for _, v := range views {
		if !types.ValidView(v) {
			return nil, apperrors.NewInvalidRequestError("unknown view: " + string(v))
		}
		regenerate[v] = true
	}

	var kept []models.StageResult
	for _, v := range types.DefaultViews {
		if s, ok := succeeded[v]; ok && !regenerate[v] {
			kept = append(kept, s)
		}
	}

	next := job.DatasetPayload{
		CharacterID: payload.CharacterID,
		Prompt:      payload.Prompt,
		Style:       payload.Style,
		Views:       views,
		References:  payload.References,
		Kept:        kept,
		SourceJobID: source.ID,
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode regeneration payload", err)
	}

	sub, err := o.Submit(ctx, SubmitRequest{
		Caller:    req.Caller,
		QueueName: source.QueueName,
		Type:      types.JobTypeMultiStageDataset,
		Payload:   raw,
	})
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(map[string]interface{}{
		"job_id":        sub.JobID,
		"source_job_id": source.ID,
		"views":         views,
		"kept":          len(kept),
	}).Info("Regeneration submitted")
	return sub, nil
}

func (o *Orchestrator) regenerationSource(ctx context.Context, req RegenerationRequest) (*models.Job, error) {
	var (
		source *models.Job
		err    error
	)

	switch {
	case req.JobID != "" && req.CharacterID != "":
		return nil, apperrors.NewInvalidRequestError("give either a job id or a character id, not both")
	case req.JobID != "":
		source, err = o.visibleJob(ctx, req.JobID)
	case req.CharacterID != "":
		source, err = o.queue.Store().LatestBySubject(ctx, types.JobTypeMultiStageDataset, req.CharacterID)
	default:
		return nil, apperrors.NewInvalidRequestError("a job id or a character id is required")
	}
	if err != nil {
		return nil, err
	}

	if !req.Caller.IsAdmin() && source.AccountID != req.Caller.AccountID {
		return nil, apperrors.NewNotFoundError("job", source.ID)
	}
	if source.Type != types.JobTypeMultiStageDataset {
		return nil, apperrors.NewInvalidRequestError("only multi-stage dataset jobs can be regenerated")
	}
	if !source.Status.Terminal() {
		return nil, apperrors.NewConflictError("job " + source.ID + " is still in progress")
	}
	return source, nil
}

// sourceCovers reports whether the source dataset asked for view v
func sourceCovers(p *job.DatasetPayload, v types.ViewName) bool {
	for _, want := range p.ViewsOrDefault() {
		if want == v {
			return true
		}
	}
	for _, k := range p.Kept {
		if types.ViewName(k.Name) == v {
			return true
		}
	}
	return false
}
