package credit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

func TestCostRegistry_Estimate(t *testing.T) {
	r := NewCostRegistry(nil)

	tests := []struct {
		name     string
		jobType  types.JobType
		sizeHint int
		want     int64
	}{
		{"avatar", types.JobTypeAvatar, 1, 8},
		{"sticker", types.JobTypeSticker, 1, 2},
		{"eight emotion bulk", types.JobTypeStickerBulk, 8, 16},
		{"full dataset", types.JobTypeMultiStageDataset, 4, 20},
		{"two regenerated views", types.JobTypeMultiStageDataset, 2, 10},
		{"zero size counts as one", types.JobTypeAvatar, 0, 8},
		{"unknown type", types.JobType("video"), 1, DefaultUnitCost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Estimate(tt.jobType, tt.sizeHint))
		})
	}
}

func TestCostRegistry_Overrides(t *testing.T) {
	r := NewCostRegistry(&CostRegistryConfig{
		DefaultCost: 3,
		Overrides: map[types.JobType]int64{
			types.JobTypeSticker:                    4,
			types.JobTypeDataCompletenessCorrection: 0,
		},
	})

	assert.EqualValues(t, 4, r.UnitCost(types.JobTypeSticker))
	assert.EqualValues(t, 0, r.UnitCost(types.JobTypeDataCompletenessCorrection))
	assert.EqualValues(t, 3, r.UnitCost("unknown"))
	assert.EqualValues(t, CostAvatar, r.UnitCost(types.JobTypeAvatar))
}

func TestCostRegistry_ConcurrentSetCost(t *testing.T) {
	r := NewCostRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.SetCost(types.JobTypeSticker, int64(i))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Estimate(types.JobTypeSticker, 3)
		}()
	}
	wg.Wait()

	r.SetCost(types.JobTypeSticker, -1)
	assert.GreaterOrEqual(t, r.UnitCost(types.JobTypeSticker), int64(0))
}
