package models

import (
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// StageResult is one pipeline stage's outcome. Owned by its job's result.
type StageResult struct {
	Name        string            `json:"name"`
	Status      types.StageStatus `json:"status"`
	ArtifactRef string            `json:"artifactRef,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// JobResult is the terminal (or partial) payload of a job
type JobResult struct {
	ArtifactRef string            `json:"artifactRef,omitempty"`
	Stages      []StageResult     `json:"stages,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// SucceededStages returns the stages that produced an artifact, in order
func (r *JobResult) SucceededStages() []StageResult {
	if r == nil {
		return nil
	}

	out := make([]StageResult, 0, len(r.Stages))
	for _, s := range r.Stages {
		if s.Status == types.StageSucceeded {
			out = append(out, s)
		}
	}
	return out
}

// Stage returns the stage with the given name
func (r *JobResult) Stage(name string) (StageResult, bool) {
	if r == nil {
		return StageResult{}, false
	}
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Clone returns a deep copy of r
func (r *JobResult) Clone() *JobResult {
	if r == nil {
		return nil
	}

	cp := &JobResult{ArtifactRef: r.ArtifactRef}
	if r.Stages != nil {
		cp.Stages = append([]StageResult(nil), r.Stages...)
	}
	if r.Fields != nil {
		cp.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			cp.Fields[k] = v
		}
	}
	return cp
}
