package job

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation/generationtest"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/pipeline"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

func newTestRegistry() (*Registry, *generationtest.Fake) {
	fake := generationtest.New()
	return NewDefaultRegistry(fake, pipeline.NewCoordinator(fake, logging.Nop())), fake
}

func execFor(jobType types.JobType, payload string) *Execution {
	return &Execution{Job: &models.Job{ID: "job-1", Type: jobType, Payload: json.RawMessage(payload)}}
}

func TestRegistry_Inspect(t *testing.T) {
	reg, _ := newTestRegistry()

	tests := []struct {
		name     string
		jobType  types.JobType
		payload  string
		wantSize int
		wantErr  bool
	}{
		{"avatar", types.JobTypeAvatar, `{"characterId":"c1","prompt":"elf ranger"}`, 1, false},
		{"avatar without prompt", types.JobTypeAvatar, `{"characterId":"c1"}`, 0, true},
		{"sticker", types.JobTypeSticker, `{"characterId":"c1","emotion":"happy"}`, 1, false},
		{"sticker without emotion", types.JobTypeSticker, `{"characterId":"c1"}`, 0, true},
		{"bulk", types.JobTypeStickerBulk, `{"characterId":"c1","emotions":["a","b","c","d","e","f","g","h"]}`, 8, false},
		{"bulk empty", types.JobTypeStickerBulk, `{"characterId":"c1","emotions":[]}`, 0, true},
		{"bulk duplicate", types.JobTypeStickerBulk, `{"characterId":"c1","emotions":["sad","sad"]}`, 0, true},
		{"dataset default views", types.JobTypeMultiStageDataset, `{"characterId":"c1","prompt":"knight"}`, 4, false},
		{"dataset subset", types.JobTypeMultiStageDataset, `{"characterId":"c1","prompt":"knight","views":["side","back"]}`, 2, false},
		{"dataset unknown view", types.JobTypeMultiStageDataset, `{"characterId":"c1","prompt":"knight","views":["top"]}`, 0, true},
		{"correction", types.JobTypeAvatarCorrection, `{"characterId":"c1","currentAvatarRef":"a://1","prompt":"fix hands"}`, 1, false},
		{"completeness", types.JobTypeDataCompletenessCorrection, `{"characterId":"c1","missing":["age"]}`, 1, false},
		{"completeness nothing missing", types.JobTypeDataCompletenessCorrection, `{"characterId":"c1","missing":[]}`, 0, true},
		{"malformed", types.JobTypeAvatar, `{"characterId":`, 0, true},
		{"empty", types.JobTypeAvatar, ``, 0, true},
		{"unknown type", types.JobType("video"), `{}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := reg.Inspect(tt.jobType, json.RawMessage(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidPayload))
				assert.Error(t, reg.Validate(tt.jobType, json.RawMessage(tt.payload)))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, info.Size)
			assert.Equal(t, "c1", info.SubjectID)
		})
	}
}

func TestRegistry_QueuesAndPriorities(t *testing.T) {
	reg, _ := newTestRegistry()
	assert.Len(t, reg.Types(), 6)

	bulk, ok := reg.Get(types.JobTypeStickerBulk)
	require.True(t, ok)
	assert.Equal(t, types.PriorityBulk, bulk.DefaultPriority())

	avatar, _ := reg.Get(types.JobTypeAvatar)
	assert.Equal(t, types.PriorityNormal, avatar.DefaultPriority())
	assert.Equal(t, types.QueueImageGeneration, avatar.Queue())

	correction, _ := reg.Get(types.JobTypeAvatarCorrection)
	assert.Equal(t, types.QueueCharacterPopulation, correction.Queue())
}

func TestAvatarHandler_Handle(t *testing.T) {
	reg, fake := newTestRegistry()
	h, _ := reg.Get(types.JobTypeAvatar)

	result, err := h.Handle(context.Background(), execFor(types.JobTypeAvatar, `{"characterId":"c1","prompt":"elf ranger"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, result.ArtifactRef)
	require.Len(t, fake.Calls(), 1)
	assert.Equal(t, generation.KindAvatar, fake.Calls()[0].Kind)
}

func TestStickerBulkHandler_ResumesAfterFailure(t *testing.T) {
	reg, fake := newTestRegistry()
	h, _ := reg.Get(types.JobTypeStickerBulk)
	payload := `{"characterId":"c1","emotions":["happy","sad","angry"],"referenceImage":"a://avatar"}`

	fake.FailOnce("sad", generationtest.Transient("busy"))
	exec := execFor(types.JobTypeStickerBulk, payload)
	partial, err := h.Handle(context.Background(), exec)
	require.Error(t, err)
	assert.Len(t, partial.SucceededStages(), 1)

	exec.Job.Result = partial
	result, err := h.Handle(context.Background(), exec)
	require.NoError(t, err)
	assert.Len(t, result.SucceededStages(), 3)
	assert.Equal(t, 1, fake.CallCount("happy"))
	assert.Equal(t, 2, fake.CallCount("sad"))

	for _, c := range fake.Calls() {
		assert.Equal(t, []string{"a://avatar"}, c.References, "stickers do not feed each other")
	}
}

func TestDatasetHandler_SubsetUsesSeededReferences(t *testing.T) {
	reg, fake := newTestRegistry()
	h, _ := reg.Get(types.JobTypeMultiStageDataset)

	result, err := h.Handle(context.Background(), execFor(types.JobTypeMultiStageDataset,
		`{"characterId":"c1","prompt":"knight","views":["side","back"],"references":["a://face","a://front"]}`))
	require.NoError(t, err)

	assert.Equal(t, 0, fake.CallCount("face"))
	assert.Equal(t, 0, fake.CallCount("front"))
	assert.Len(t, result.Stages, 2)
	assert.Equal(t, []string{"a://face", "a://front"}, fake.Calls()[0].References)
}

func TestDataCompletenessHandler(t *testing.T) {
	reg, fake := newTestRegistry()
	h, _ := reg.Get(types.JobTypeDataCompletenessCorrection)

	fake.SetFields(map[string]string{"age": "31"})
	result, err := h.Handle(context.Background(), execFor(types.JobTypeDataCompletenessCorrection,
		`{"characterId":"c1","missing":["age"]}`))
	require.NoError(t, err)
	assert.Equal(t, "31", result.Fields["age"])

	fake.SetFields(map[string]string{})
	_, err = h.Handle(context.Background(), execFor(types.JobTypeDataCompletenessCorrection,
		`{"characterId":"c1","missing":["age"]}`))
	assert.True(t, apperrors.IsPermanent(err))
}

func TestDatasetHandler_KeptViewsJoinResult(t *testing.T) {
	reg, fake := newTestRegistry()
	h, _ := reg.Get(types.JobTypeMultiStageDataset)
	payload := `{"characterId":"c1","prompt":"knight","views":["side","back"],"kept":[
		{"name":"front","status":"succeeded","artifactRef":"a://front"},
		{"name":"face","status":"succeeded","artifactRef":"a://face"}]}`

	info, err := h.Inspect(json.RawMessage(payload))
	require.NoError(t, err)
	assert.Equal(t, 2, info.Size, "only generated views are billed")

	result, err := h.Handle(context.Background(), execFor(types.JobTypeMultiStageDataset, payload))
	require.NoError(t, err)

	names := make([]string, 0, len(result.Stages))
	for _, s := range result.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"face", "front", "side", "back"}, names)
	assert.Equal(t, []string{"a://front", "a://face"}, fake.Calls()[0].References)
}

func TestDatasetHandler_RejectsOverlappingKeptView(t *testing.T) {
	reg, _ := newTestRegistry()
	_, err := reg.Inspect(types.JobTypeMultiStageDataset, json.RawMessage(
		`{"characterId":"c1","prompt":"knight","views":["face"],"kept":[{"name":"face","status":"succeeded","artifactRef":"a://1"}]}`))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidPayload))
}
