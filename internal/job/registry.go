package job

import (
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
	"github.com/leandro-br-dev/charhub-sub004/internal/pipeline"
)

// NewDefaultRegistry wires every built-in handler to backend
func NewDefaultRegistry(backend generation.Backend, coordinator *pipeline.Coordinator) *Registry {
	return NewRegistry(
		NewAvatarHandler(backend),
		NewStickerHandler(backend),
		NewStickerBulkHandler(coordinator),
		NewDatasetHandler(coordinator),
		NewAvatarCorrectionHandler(backend),
		NewDataCompletenessHandler(backend),
	)
}
