package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandro-br-dev/charhub-sub004/internal/config"
	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// setupTestPostgres connects to the database named by TEST_POSTGRES_* and
// applies migrations. Tests skip when no database is reachable.
func setupTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           envOr("TEST_POSTGRES_HOST", "localhost"),
		Port:           envOr("TEST_POSTGRES_PORT", "5432"),
		Database:       envOr("TEST_POSTGRES_DB", "charhub_test"),
		User:           envOr("TEST_POSTGRES_USER", "charhub"),
		Password:       envOr("TEST_POSTGRES_PASSWORD", "charhub_dev_password"),
		MaxConnections: 10,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db, err := NewPostgresDB(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	migrations, err := filepath.Abs("../../migrations/postgres")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(cfg.PostgresURL(), migrations))

	_, err = db.Pool().Exec(testContext(t), `TRUNCATE generation_jobs, credit_ledger_entries, credit_accounts`)
	require.NoError(t, err)

	return db
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestJobRepository_ClaimLifecycle(t *testing.T) {
	db := setupTestPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	normal := newTestJob(types.PriorityNormal, now)
	bulk := newTestJob(types.PriorityBulk, now.Add(time.Second))
	require.NoError(t, repo.Create(ctx, normal))
	require.NoError(t, repo.Create(ctx, bulk))

	claimed, err := repo.ClaimNext(ctx, types.QueueImageGeneration, "w-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, bulk.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempts)

	ok, err := repo.UpdateProgress(ctx, claimed.Claim(), 40, "face")
	require.NoError(t, err)
	assert.True(t, ok)

	reason := "TRANSIENT_BACKEND_ERROR: 503"
	ok, err = repo.Finish(ctx, claimed.Claim(), models.Outcome{
		Status:        types.StatusDelayed,
		FailureReason: &reason,
		RunAt:         now.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// stale claim
	ok, err = repo.Finish(ctx, claimed.Claim(), models.Outcome{Status: types.StatusCompleted, FinishedAt: now})
	require.NoError(t, err)
	assert.False(t, ok)

	next, err := repo.ClaimNext(ctx, types.QueueImageGeneration, "w-2", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, normal.ID, next.ID)

	ok, err = repo.Finish(ctx, next.Claim(), models.Outcome{
		Status:     types.StatusCompleted,
		Result:     &models.JobResult{ArtifactRef: "artifact://a"},
		DebitState: types.DebitDebited,
		FinishedAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	done, err := repo.Get(ctx, normal.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "artifact://a", done.Result.ArtifactRef)
	assert.Equal(t, 100, done.Progress)

	_, err = repo.Get(ctx, "not-a-uuid")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestJobRepository_ConcurrentClaimsAreExclusive(t *testing.T) {
	db := setupTestPostgres(t)
	repo := NewJobRepository(db)
	ctx := testContext(t)
	now := time.Now().UTC()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		require.NoError(t, repo.Create(ctx, newTestJob(5, now.Add(time.Duration(i)*time.Millisecond))))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := repo.ClaimNext(ctx, types.QueueImageGeneration, uuid.NewString(), now.Add(time.Second))
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for _, n := range claimed {
		assert.Equal(t, 1, n)
	}
}

func TestLedgerRepository_DebitOncePerJob(t *testing.T) {
	db := setupTestPostgres(t)
	ledger := NewLedgerRepository(db)
	ctx := testContext(t)

	_, err := ledger.Grant(ctx, "acct", 10, "top-up")
	require.NoError(t, err)

	jobID := uuid.NewString()
	entry, err := ledger.Debit(ctx, "acct", 8, "avatar", jobID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, entry.BalanceAfter)

	_, err = ledger.Debit(ctx, "acct", 1, "avatar", jobID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAlreadyDebited))

	_, err = ledger.Debit(ctx, "acct", 8, "avatar", uuid.NewString())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientBalance))

	balance, err := ledger.Balance(ctx, "acct")
	require.NoError(t, err)
	assert.EqualValues(t, 2, balance)

	has, err := ledger.HasDebit(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, has)

	history, err := ledger.History(ctx, "acct", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
