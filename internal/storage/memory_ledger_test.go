package storage

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
)

func TestMemoryLedger_GrantAndDebit(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()

	_, err := ledger.Grant(ctx, "acct", 10, "top-up")
	require.NoError(t, err)

	jobID := uuid.NewString()
	entry, err := ledger.Debit(ctx, "acct", 8, "avatar generation", jobID)
	require.NoError(t, err)
	assert.EqualValues(t, -8, entry.Delta)
	assert.EqualValues(t, 2, entry.BalanceAfter)

	balance, err := ledger.Balance(ctx, "acct")
	require.NoError(t, err)
	assert.EqualValues(t, 2, balance)

	has, err := ledger.HasDebit(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, has)

	history, err := ledger.History(ctx, "acct", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.EqualValues(t, -8, history[0].Delta)
}

func TestMemoryLedger_InsufficientBalance(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()
	_, err := ledger.Grant(ctx, "acct", 1, "top-up")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, "acct", 2, "sticker", uuid.NewString())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientBalance))

	balance, _ := ledger.Balance(ctx, "acct")
	assert.EqualValues(t, 1, balance)
}

func TestMemoryLedger_AtMostOneDebitPerJob(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()
	_, err := ledger.Grant(ctx, "acct", 100, "top-up")
	require.NoError(t, err)

	jobID := uuid.NewString()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.Debit(ctx, "acct", 8, "avatar", jobID)
		}()
	}
	wg.Wait()

	assert.Len(t, ledger.EntriesForJob(jobID), 1)
	balance, _ := ledger.Balance(ctx, "acct")
	assert.EqualValues(t, 92, balance)
}

func TestMemoryLedger_BalanceNeverNegative(t *testing.T) {
	ctx := testContext(t)
	ledger := NewMemoryLedger()
	_, err := ledger.Grant(ctx, "acct", 20, "top-up")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.Debit(ctx, "acct", 8, "avatar", uuid.NewString())
		}()
	}
	wg.Wait()

	balance, _ := ledger.Balance(ctx, "acct")
	assert.EqualValues(t, 4, balance)
}
