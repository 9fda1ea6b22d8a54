package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// AvatarCorrectionHandler regenerates a flawed avatar using it as reference
type AvatarCorrectionHandler struct {
	backend generation.Backend
}

// NewAvatarCorrectionHandler creates an avatar correction handler
func NewAvatarCorrectionHandler(backend generation.Backend) *AvatarCorrectionHandler {
	return &AvatarCorrectionHandler{backend: backend}
}

func (h *AvatarCorrectionHandler) Type() types.JobType    { return types.JobTypeAvatarCorrection }
func (h *AvatarCorrectionHandler) Queue() types.QueueName { return types.QueueCharacterPopulation }
func (h *AvatarCorrectionHandler) DefaultPriority() int   { return types.PriorityBulk }

func (h *AvatarCorrectionHandler) Inspect(payload json.RawMessage) (PayloadInfo, error) {
	var p AvatarCorrectionPayload
	if err := decode(h.Type(), payload, &p); err != nil {
		return PayloadInfo{}, err
	}
	if err := requireField(h.Type(), "characterId", p.CharacterID); err != nil {
		return PayloadInfo{}, err
	}
	if err := requireField(h.Type(), "currentAvatarRef", p.CurrentAvatarRef); err != nil {
		return PayloadInfo{}, err
	}
	if err := checkPrompt(h.Type(), p.Prompt, true); err != nil {
		return PayloadInfo{}, err
	}
	return PayloadInfo{SubjectID: p.CharacterID, Size: 1}, nil
}

func (h *AvatarCorrectionHandler) Handle(ctx context.Context, exec *Execution) (*models.JobResult, error) {
	var p AvatarCorrectionPayload
	if err := decode(h.Type(), exec.Job.Payload, &p); err != nil {
		return nil, err
	}

	prompt := p.Prompt
	if len(p.Issues) > 0 {
		prompt = fmt.Sprintf("%s; fix: %s", prompt, strings.Join(p.Issues, ", "))
	}

	artifact, err := h.backend.Invoke(ctx, generation.Request{
		Kind:       generation.KindCorrection,
		Prompt:     prompt,
		References: []string{p.CurrentAvatarRef},
		Width:      768,
		Height:     768,
	})
	if err != nil {
		return nil, err
	}
	return &models.JobResult{ArtifactRef: artifact.Ref}, nil
}

// DataCompletenessHandler asks the backend for missing character attributes
type DataCompletenessHandler struct {
	backend generation.Backend
}

// NewDataCompletenessHandler creates a data completeness handler
func NewDataCompletenessHandler(backend generation.Backend) *DataCompletenessHandler {
	return &DataCompletenessHandler{backend: backend}
}

func (h *DataCompletenessHandler) Type() types.JobType {
	return types.JobTypeDataCompletenessCorrection
}
func (h *DataCompletenessHandler) Queue() types.QueueName { return types.QueueCharacterPopulation }
func (h *DataCompletenessHandler) DefaultPriority() int   { return types.PriorityBulk }

func (h *DataCompletenessHandler) Inspect(payload json.RawMessage) (PayloadInfo, error) {
	var p DataCompletenessPayload
	if err := decode(h.Type(), payload, &p); err != nil {
		return PayloadInfo{}, err
	}
	if err := requireField(h.Type(), "characterId", p.CharacterID); err != nil {
		return PayloadInfo{}, err
	}
	if len(p.Missing) == 0 {
		return PayloadInfo{}, apperrors.NewInvalidPayloadError(h.Type(), "missing must list at least one field")
	}
	if len(p.Missing) > maxMissingFields {
		return PayloadInfo{}, apperrors.NewInvalidPayloadError(h.Type(), fmt.Sprintf("at most %d fields per request", maxMissingFields))
	}
	if err := distinct(h.Type(), "missing", p.Missing); err != nil {
		return PayloadInfo{}, err
	}
	return PayloadInfo{SubjectID: p.CharacterID, Size: 1}, nil
}

func (h *DataCompletenessHandler) Handle(ctx context.Context, exec *Execution) (*models.JobResult, error) {
	var p DataCompletenessPayload
	if err := decode(h.Type(), exec.Job.Payload, &p); err != nil {
		return nil, err
	}

	fields, err := h.backend.CompleteFields(ctx, generation.FieldsRequest{
		SubjectID: p.CharacterID,
		Known:     p.Known,
		Missing:   p.Missing,
	})
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, apperrors.NewPermanentBackendError("image-synthesis", fmt.Errorf("no values returned for %v", p.Missing))
	}

	if exec.Progress != nil {
		_ = exec.Progress(ctx, 100, "fields")
	}
	return &models.JobResult{Fields: fields}, nil
}
