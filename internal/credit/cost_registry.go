// Package credit implements credit admission and settlement for generation
// jobs on top of an append-only ledger.
package credit

import (
	"sync"

	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// Default per-unit credit costs. A unit is one image: one sticker of a bulk
// set, one view of a dataset.
const (
	DefaultUnitCost = 8 // unknown job types are priced like an avatar

	CostAvatar                     = 8
	CostSticker                    = 2
	CostStickerPerEmotion          = 2
	CostDatasetPerView             = 5
	CostAvatarCorrection           = 8
	CostDataCompletenessCorrection = 1
)

// CostRegistry maps job types to their per-unit credit cost.
// It is safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[types.JobType]int64
	defaultCost int64
}

// CostRegistryConfig holds configuration for the registry.
type CostRegistryConfig struct {
	// DefaultCost is the unit cost for unknown job types.
	// If zero, uses the package default.
	DefaultCost int64

	// Overrides replaces the built-in cost of specific job types.
	// Zero is allowed and makes a type free.
	Overrides map[types.JobType]int64
}

// NewCostRegistry creates a registry with the platform's default prices.
// If cfg is nil, default configuration is used.
func NewCostRegistry(cfg *CostRegistryConfig) *CostRegistry {
	costs := map[types.JobType]int64{
		types.JobTypeAvatar:                     CostAvatar,
		types.JobTypeSticker:                    CostSticker,
		types.JobTypeStickerBulk:                CostStickerPerEmotion,
		types.JobTypeMultiStageDataset:          CostDatasetPerView,
		types.JobTypeAvatarCorrection:           CostAvatarCorrection,
		types.JobTypeDataCompletenessCorrection: CostDataCompletenessCorrection,
	}

	defaultCost := int64(DefaultUnitCost)

	if cfg != nil {
		if cfg.DefaultCost > 0 {
			defaultCost = cfg.DefaultCost
		}
		for jobType, cost := range cfg.Overrides {
			if cost >= 0 {
				costs[jobType] = cost
			}
		}
	}

	return &CostRegistry{
		costs:       costs,
		defaultCost: defaultCost,
	}
}

// UnitCost returns the per-unit cost of a job type
func (r *CostRegistry) UnitCost(jobType types.JobType) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[jobType]; ok {
		return cost
	}
	return r.defaultCost
}

// Estimate prices a job of sizeHint units. Sizes below one count as one.
func (r *CostRegistry) Estimate(jobType types.JobType, sizeHint int) int64 {
	if sizeHint < 1 {
		sizeHint = 1
	}
	return r.UnitCost(jobType) * int64(sizeHint)
}

// SetCost updates a type's unit cost at runtime. Negative values are ignored.
func (r *CostRegistry) SetCost(jobType types.JobType, cost int64) {
	if cost < 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.costs[jobType] = cost
}
