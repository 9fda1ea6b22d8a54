package job

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/pipeline"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// AvatarHandler generates a single portrait
type AvatarHandler struct {
	backend generation.Backend
}

// NewAvatarHandler creates an avatar handler
func NewAvatarHandler(backend generation.Backend) *AvatarHandler {
	return &AvatarHandler{backend: backend}
}

func (h *AvatarHandler) Type() types.JobType    { return types.JobTypeAvatar }
func (h *AvatarHandler) Queue() types.QueueName { return types.QueueImageGeneration }
func (h *AvatarHandler) DefaultPriority() int   { return types.PriorityNormal }

func (h *AvatarHandler) Inspect(payload json.RawMessage) (PayloadInfo, error) {
	var p AvatarPayload
	if err := decode(h.Type(), payload, &p); err != nil {
		return PayloadInfo{}, err
	}
	if err := requireField(h.Type(), "characterId", p.CharacterID); err != nil {
		return PayloadInfo{}, err
	}
	if err := checkPrompt(h.Type(), p.Prompt, true); err != nil {
		return PayloadInfo{}, err
	}
	return PayloadInfo{SubjectID: p.CharacterID, Size: 1}, nil
}

func (h *AvatarHandler) Handle(ctx context.Context, exec *Execution) (*models.JobResult, error) {
	var p AvatarPayload
	if err := decode(h.Type(), exec.Job.Payload, &p); err != nil {
		return nil, err
	}

	artifact, err := h.backend.Invoke(ctx, generation.Request{
		Kind:           generation.KindAvatar,
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Style:          p.Style,
		References:     p.References,
		Width:          768,
		Height:         768,
	})
	if err != nil {
		return nil, err
	}
	return &models.JobResult{ArtifactRef: artifact.Ref}, nil
}

// StickerHandler generates one emotion sticker
type StickerHandler struct {
	backend generation.Backend
}

// NewStickerHandler creates a sticker handler
func NewStickerHandler(backend generation.Backend) *StickerHandler {
	return &StickerHandler{backend: backend}
}

func (h *StickerHandler) Type() types.JobType    { return types.JobTypeSticker }
func (h *StickerHandler) Queue() types.QueueName { return types.QueueImageGeneration }
func (h *StickerHandler) DefaultPriority() int   { return types.PriorityNormal }

func (h *StickerHandler) Inspect(payload json.RawMessage) (PayloadInfo, error) {
	var p StickerPayload
	if err := decode(h.Type(), payload, &p); err != nil {
		return PayloadInfo{}, err
	}
	if err := requireField(h.Type(), "characterId", p.CharacterID); err != nil {
		return PayloadInfo{}, err
	}
	if err := requireField(h.Type(), "emotion", p.Emotion); err != nil {
		return PayloadInfo{}, err
	}
	if err := checkPrompt(h.Type(), p.Prompt, false); err != nil {
		return PayloadInfo{}, err
	}
	return PayloadInfo{SubjectID: p.CharacterID, Size: 1}, nil
}

func (h *StickerHandler) Handle(ctx context.Context, exec *Execution) (*models.JobResult, error) {
	var p StickerPayload
	if err := decode(h.Type(), exec.Job.Payload, &p); err != nil {
		return nil, err
	}

	artifact, err := h.backend.Invoke(ctx, stickerRequest(p.Emotion, p.Prompt, p.Style, p.ReferenceRef))
	if err != nil {
		return nil, err
	}
	return &models.JobResult{
		ArtifactRef: artifact.Ref,
		Stages: []models.StageResult{
			{Name: p.Emotion, Status: types.StageSucceeded, ArtifactRef: artifact.Ref},
		},
	}, nil
}

// StickerBulkHandler generates a sticker per emotion, one after another
type StickerBulkHandler struct {
	coordinator *pipeline.Coordinator
}

// NewStickerBulkHandler creates a bulk sticker handler
func NewStickerBulkHandler(coordinator *pipeline.Coordinator) *StickerBulkHandler {
	return &StickerBulkHandler{coordinator: coordinator}
}

func (h *StickerBulkHandler) Type() types.JobType    { return types.JobTypeStickerBulk }
func (h *StickerBulkHandler) Queue() types.QueueName { return types.QueueImageGeneration }
func (h *StickerBulkHandler) DefaultPriority() int   { return types.PriorityBulk }

func (h *StickerBulkHandler) Inspect(payload json.RawMessage) (PayloadInfo, error) {
	var p StickerBulkPayload
	if err := decode(h.Type(), payload, &p); err != nil {
		return PayloadInfo{}, err
	}
	if err := requireField(h.Type(), "characterId", p.CharacterID); err != nil {
		return PayloadInfo{}, err
	}
	if len(p.Emotions) == 0 {
		return PayloadInfo{}, apperrors.NewInvalidPayloadError(h.Type(), "emotions must not be empty")
	}
	if len(p.Emotions) > maxBulkEmotions {
		return PayloadInfo{}, apperrors.NewInvalidPayloadError(h.Type(), fmt.Sprintf("at most %d emotions per set", maxBulkEmotions))
	}
	if err := distinct(h.Type(), "emotions", p.Emotions); err != nil {
		return PayloadInfo{}, err
	}
	if err := checkPrompt(h.Type(), p.Prompt, false); err != nil {
		return PayloadInfo{}, err
	}
	return PayloadInfo{SubjectID: p.CharacterID, Size: len(p.Emotions)}, nil
}

func (h *StickerBulkHandler) Handle(ctx context.Context, exec *Execution) (*models.JobResult, error) {
	var p StickerBulkPayload
	if err := decode(h.Type(), exec.Job.Payload, &p); err != nil {
		return nil, err
	}

	plan := pipeline.Plan{Stages: make([]pipeline.Stage, 0, len(p.Emotions))}
	for _, emotion := range p.Emotions {
		plan.Stages = append(plan.Stages, pipeline.Stage{
			Name:    emotion,
			Request: stickerRequest(emotion, p.Prompt, p.Style, p.ReferenceRef),
		})
	}

	return h.coordinator.Run(ctx, plan, hooksFor(exec))
}

func stickerRequest(emotion, prompt, style, reference string) generation.Request {
	req := generation.Request{
		Kind:   generation.KindSticker,
		Label:  emotion,
		Prompt: fmt.Sprintf("%s, %s expression, sticker", prompt, emotion),
		Style:  style,
		Width:  512,
		Height: 512,
	}
	if reference != "" {
		req.References = []string{reference}
	}
	return req
}

func hooksFor(exec *Execution) pipeline.Hooks {
	return pipeline.Hooks{
		JobID:     exec.Job.ID,
		Progress:  exec.Progress,
		Cancelled: exec.Cancelled,
		Previous:  exec.Job.Result,
	}
}
