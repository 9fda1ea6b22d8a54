package credit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/storage"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

func newTestService(t *testing.T, balance int64) *Service {
	t.Helper()
	ledger := storage.NewMemoryLedger()
	if balance > 0 {
		_, err := ledger.Grant(context.Background(), "acct", balance, "seed")
		require.NoError(t, err)
	}
	return NewService(ledger, nil, logging.Nop())
}

func TestService_AdmitThenDebit(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, 10)

	cost := svc.EstimateCost(types.JobTypeAvatar, 1)
	require.EqualValues(t, 8, cost)

	ok, err := svc.CheckAndReserve(ctx, "acct", cost)
	require.NoError(t, err)
	assert.True(t, ok)

	// advisory: nothing held
	balance, _ := svc.Balance(ctx, "acct")
	assert.EqualValues(t, 10, balance)

	jobID := uuid.NewString()
	entry, err := svc.Debit(ctx, "acct", cost, "avatar", jobID)
	require.NoError(t, err)
	assert.EqualValues(t, -8, entry.Delta)

	balance, _ = svc.Balance(ctx, "acct")
	assert.EqualValues(t, 2, balance)

	has, err := svc.HasDebit(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestService_AdmitInsufficient(t *testing.T) {
	svc := newTestService(t, 1)

	cost := svc.EstimateCost(types.JobTypeStickerBulk, 8)
	require.EqualValues(t, 16, cost)

	err := svc.Admit(context.Background(), "acct", cost)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientCredits))

	cat := apperrors.Categorize(err)
	assert.EqualValues(t, 1, cat.Details["available"])
}

func TestService_ZeroCostAlwaysAdmitted(t *testing.T) {
	svc := newTestService(t, 0)
	ok, err := svc.CheckAndReserve(context.Background(), "acct", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_DebitRechecksBalance(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, 10)

	require.NoError(t, svc.Admit(ctx, "acct", 8))
	require.NoError(t, svc.Admit(ctx, "acct", 8))

	_, err := svc.Debit(ctx, "acct", 8, "avatar", uuid.NewString())
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "acct", 8, "avatar", uuid.NewString())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientBalance))

	history, err := svc.History(ctx, "acct", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
