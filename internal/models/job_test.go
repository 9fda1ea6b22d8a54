package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

func TestJob_CloneIsIndependent(t *testing.T) {
	worker := "w-1"
	reason := "boom"
	started := time.Now()
	job := &Job{
		ID:            "j1",
		Payload:       json.RawMessage(`{"prompt":"x"}`),
		WorkerID:      &worker,
		FailureReason: &reason,
		StartedAt:     &started,
		Result: &JobResult{
			Stages: []StageResult{{Name: "face", Status: types.StageSucceeded, ArtifactRef: "a1"}},
			Fields: map[string]string{"age": "20"},
		},
	}

	cp := job.Clone()
	*cp.WorkerID = "w-2"
	cp.Payload[0] = '['
	cp.Result.Stages[0].ArtifactRef = "changed"
	cp.Result.Fields["age"] = "30"

	assert.Equal(t, "w-1", *job.WorkerID)
	assert.Equal(t, byte('{'), job.Payload[0])
	assert.Equal(t, "a1", job.Result.Stages[0].ArtifactRef)
	assert.Equal(t, "20", job.Result.Fields["age"])
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestJob_Claim(t *testing.T) {
	worker := "w-9"
	job := &Job{ID: "j1", Attempts: 2, WorkerID: &worker}
	assert.Equal(t, Claim{JobID: "j1", WorkerID: "w-9", Attempt: 2}, job.Claim())
}

func TestJobResult_SucceededStages(t *testing.T) {
	r := &JobResult{Stages: []StageResult{
		{Name: "face", Status: types.StageSucceeded, ArtifactRef: "a"},
		{Name: "front", Status: types.StageSucceeded, ArtifactRef: "b"},
		{Name: "side", Status: types.StageFailed, Error: "503"},
	}}

	ok := r.SucceededStages()
	assert.Len(t, ok, 2)
	assert.Equal(t, "front", ok[1].Name)

	side, found := r.Stage("side")
	assert.True(t, found)
	assert.Equal(t, types.StageFailed, side.Status)

	_, found = r.Stage("back")
	assert.False(t, found)
	assert.Nil(t, (*JobResult)(nil).SucceededStages())
}
