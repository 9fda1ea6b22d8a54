package job

import (
	"fmt"
	"strings"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

const (
	maxPromptLength  = 2000
	maxBulkEmotions  = 32
	maxMissingFields = 50
)

// AvatarPayload requests a single character portrait
type AvatarPayload struct {
	CharacterID    string   `json:"characterId"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negativePrompt,omitempty"`
	Style          string   `json:"style,omitempty"`
	References     []string `json:"references,omitempty"`
}

// StickerPayload requests one emotion sticker
type StickerPayload struct {
	CharacterID  string `json:"characterId"`
	Emotion      string `json:"emotion"`
	Prompt       string `json:"prompt,omitempty"`
	Style        string `json:"style,omitempty"`
	ReferenceRef string `json:"referenceImage,omitempty"`
}

// StickerBulkPayload requests a set of emotion stickers
type StickerBulkPayload struct {
	CharacterID  string   `json:"characterId"`
	Emotions     []string `json:"emotions"`
	Prompt       string   `json:"prompt,omitempty"`
	Style        string   `json:"style,omitempty"`
	ReferenceRef string   `json:"referenceImage,omitempty"`
}

// DatasetPayload requests the multi-view reference dataset
type DatasetPayload struct {
	CharacterID string           `json:"characterId"`
	Prompt      string           `json:"prompt"`
	Style       string           `json:"style,omitempty"`
	Views       []types.ViewName `json:"views,omitempty"`
	// References are extra input images, e.g. an uploaded avatar
	References []string `json:"references,omitempty"`
	// Kept are views reused from an earlier dataset; they feed the new views
	// and are carried into the result
	Kept        []models.StageResult `json:"kept,omitempty"`
	SourceJobID string               `json:"sourceJobId,omitempty"`
}

// AvatarCorrectionPayload re-renders an existing avatar
type AvatarCorrectionPayload struct {
	CharacterID      string   `json:"characterId"`
	CurrentAvatarRef string   `json:"currentAvatarRef"`
	Prompt           string   `json:"prompt"`
	Issues           []string `json:"issues,omitempty"`
}

// DataCompletenessPayload fills in missing character attributes
type DataCompletenessPayload struct {
	CharacterID string            `json:"characterId"`
	Known       map[string]string `json:"known,omitempty"`
	Missing     []string          `json:"missing"`
}

// ViewsOrDefault returns the requested views or the full default set
func (p *DatasetPayload) ViewsOrDefault() []types.ViewName {
	if len(p.Views) == 0 {
		return types.DefaultViews
	}
	return p.Views
}

// references returns the input references followed by the kept artifacts
func (p *DatasetPayload) references() []string {
	refs := append([]string(nil), p.References...)
	for _, k := range p.Kept {
		refs = append(refs, k.ArtifactRef)
	}
	return refs
}

func requireField(jobType types.JobType, name, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.NewInvalidPayloadError(jobType, name+" is required")
	}
	return nil
}

func checkPrompt(jobType types.JobType, prompt string, required bool) error {
	if required {
		if err := requireField(jobType, "prompt", prompt); err != nil {
			return err
		}
	}
	if len(prompt) > maxPromptLength {
		return apperrors.NewInvalidPayloadError(jobType, fmt.Sprintf("prompt exceeds %d characters", maxPromptLength))
	}
	return nil
}

// distinct rejects empty and repeated entries
func distinct(jobType types.JobType, field string, values []string) error {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			return apperrors.NewInvalidPayloadError(jobType, field+" contains an empty entry")
		}
		if _, dup := seen[v]; dup {
			return apperrors.NewInvalidPayloadError(jobType, fmt.Sprintf("%s contains %q twice", field, v))
		}
		seen[v] = struct{}{}
	}
	return nil
}
