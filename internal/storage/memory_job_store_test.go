package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

func TestMemoryJobStore_ClaimOrder(t *testing.T) {
	ctx := testContext(t)
	store := NewMemoryJobStore()
	base := time.Now()

	normalOld := newTestJob(types.PriorityNormal, base)
	bulk := newTestJob(types.PriorityBulk, base.Add(time.Second))
	normalNew := newTestJob(types.PriorityNormal, base.Add(2*time.Second))
	for _, j := range []*models.Job{normalNew, bulk, normalOld} {
		require.NoError(t, store.Create(ctx, j))
	}

	now := base.Add(time.Minute)
	var got []string
	for i := 0; i < 3; i++ {
		j, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-1", now)
		require.NoError(t, err)
		require.NotNil(t, j)
		got = append(got, j.ID)
	}

	assert.Equal(t, []string{bulk.ID, normalOld.ID, normalNew.ID}, got)

	j, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-1", now)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestMemoryJobStore_ClaimRecordsHolder(t *testing.T) {
	ctx := testContext(t)
	store := NewMemoryJobStore()
	now := time.Now()
	job := newTestJob(5, now)
	require.NoError(t, store.Create(ctx, job))

	claimed, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-7", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	assert.Equal(t, types.StatusActive, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	require.NotNil(t, claimed.WorkerID)
	assert.Equal(t, "w-7", *claimed.WorkerID)
	require.NotNil(t, claimed.StartedAt)
}

func TestMemoryJobStore_QueuesAreIsolated(t *testing.T) {
	ctx := testContext(t)
	store := NewMemoryJobStore()
	now := time.Now()
	job := newTestJob(5, now)
	job.QueueName = types.QueueCharacterPopulation
	require.NoError(t, store.Create(ctx, job))

	j, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-1", now)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestMemoryJobStore_DelayedNotClaimableUntilRunAt(t *testing.T) {
	ctx := testContext(t)
	store := NewMemoryJobStore()
	now := time.Now()
	require.NoError(t, store.Create(ctx, newTestJob(5, now)))

	claimed, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-1", now)
	require.NoError(t, err)

	ok, err := store.Finish(ctx, claimed.Claim(), models.Outcome{
		Status: types.StatusDelayed,
		RunAt:  now.Add(10 * time.Second),
	})
	require.NoError(t, err)
	require.True(t, ok)

	j, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-2", now.Add(5*time.Second))
	require.NoError(t, err)
	assert.Nil(t, j)

	j, err = store.ClaimNext(ctx, types.QueueImageGeneration, "w-2", now.Add(10*time.Second))
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, 2, j.Attempts)
}

func TestMemoryJobStore_StaleClaimIsNoop(t *testing.T) {
	ctx := testContext(t)
	store := NewMemoryJobStore()
	now := time.Now()
	require.NoError(t, store.Create(ctx, newTestJob(5, now)))

	first, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-1", now)
	require.NoError(t, err)
	stale := first.Claim()

	ok, err := store.Finish(ctx, stale, models.Outcome{Status: types.StatusDelayed, RunAt: now})
	require.NoError(t, err)
	require.True(t, ok)

	second, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-2", now)
	require.NoError(t, err)
	require.NotNil(t, second)

	ok, err = store.UpdateProgress(ctx, stale, 50, "late")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Finish(ctx, stale, models.Outcome{Status: types.StatusCompleted, FinishedAt: now})
	require.NoError(t, err)
	assert.False(t, ok)

	current, err := store.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, current.Status)
	assert.Equal(t, 0, current.Progress)
}

func TestMemoryJobStore_ConcurrentClaimsAreExclusive(t *testing.T) {
	ctx := testContext(t)
	store := NewMemoryJobStore()
	now := time.Now()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		require.NoError(t, store.Create(ctx, newTestJob(5, now.Add(time.Duration(i)*time.Millisecond))))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				j, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w", now.Add(time.Second))
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestMemoryJobStore_RemoveAndCancel(t *testing.T) {
	ctx := testContext(t)
	store := NewMemoryJobStore()
	now := time.Now()
	waiting := newTestJob(5, now)
	active := newTestJob(5, now.Add(time.Second))
	require.NoError(t, store.Create(ctx, waiting))
	require.NoError(t, store.Create(ctx, active))

	// claims the older one first
	claimed, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, waiting.ID, claimed.ID)
	waiting, active = active, waiting

	removed, err := store.Remove(ctx, active.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	flagged, err := store.RequestCancel(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, flagged)
	requested, err := store.CancelRequested(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, requested)

	removed, err = store.Remove(ctx, waiting.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = store.Get(ctx, waiting.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = store.Remove(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestMemoryJobStore_ListByStatusAndSubject(t *testing.T) {
	ctx := testContext(t)
	store := NewMemoryJobStore()
	now := time.Now()

	older := newTestJob(5, now)
	newer := newTestJob(5, now.Add(time.Second))
	other := newTestJob(5, now.Add(2*time.Second))
	other.SubjectID = "c2"
	for _, j := range []*models.Job{older, newer, other} {
		require.NoError(t, store.Create(ctx, j))
	}

	waiting, err := store.ListByStatus(ctx, types.QueueImageGeneration, types.StatusWaiting, 1, 10)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, newer.ID, waiting[0].ID)

	empty, err := store.ListByStatus(ctx, types.QueueImageGeneration, types.StatusWaiting, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	latest, err := store.LatestBySubject(ctx, types.JobTypeAvatar, "c1")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	_, err = store.LatestBySubject(ctx, types.JobTypeMultiStageDataset, "c1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestMemoryJobStore_Unsettled(t *testing.T) {
	ctx := testContext(t)
	store := NewMemoryJobStore()
	now := time.Now()
	require.NoError(t, store.Create(ctx, newTestJob(5, now)))

	claimed, err := store.ClaimNext(ctx, types.QueueImageGeneration, "w-1", now)
	require.NoError(t, err)

	ok, err := store.Finish(ctx, claimed.Claim(), models.Outcome{
		Status:     types.StatusCompleted,
		Result:     &models.JobResult{ArtifactRef: "artifact://1"},
		DebitState: types.DebitUnpaid,
		FinishedAt: now,
	})
	require.NoError(t, err)
	require.True(t, ok)

	unsettled, err := store.ListUnsettled(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, 100, unsettled[0].Progress)

	require.NoError(t, store.SetDebitState(ctx, claimed.ID, types.DebitDebited))
	unsettled, err = store.ListUnsettled(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}
