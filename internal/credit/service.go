package credit

import (
	"context"
	"fmt"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// Ledger is the durable balance store. Debit must re-read the balance and
// append its entry atomically, and must reject a second debit for a job.
type Ledger interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	Grant(ctx context.Context, accountID string, credits int64, reason string) (*models.LedgerEntry, error)
	Debit(ctx context.Context, accountID string, credits int64, reason string, relatedJobID string) (*models.LedgerEntry, error)
	HasDebit(ctx context.Context, relatedJobID string) (bool, error)
	History(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error)
}

// Service prices jobs, admits them against the current balance and charges
// them once they succeed. Admission is advisory; Debit is the enforcement point.
type Service struct {
	ledger Ledger
	costs  *CostRegistry
	logger *logging.Logger
}

// NewService creates a credit service
func NewService(ledger Ledger, costs *CostRegistry, logger *logging.Logger) *Service {
	if costs == nil {
		costs = NewCostRegistry(nil)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{ledger: ledger, costs: costs, logger: logger}
}

// EstimateCost returns the credits a job of the given type and size will cost
func (s *Service) EstimateCost(jobType types.JobType, sizeHint int) int64 {
	return s.costs.Estimate(jobType, sizeHint)
}

// CheckAndReserve reports whether the account can currently afford credits.
// Nothing is held.
func (s *Service) CheckAndReserve(ctx context.Context, accountID string, credits int64) (bool, error) {
	ok, _, err := s.check(ctx, accountID, credits)
	return ok, err
}

// Admit is CheckAndReserve returning InsufficientCredits on a short balance
func (s *Service) Admit(ctx context.Context, accountID string, credits int64) error {
	ok, balance, err := s.check(ctx, accountID, credits)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewInsufficientCreditsError(accountID, credits, balance)
	}
	return nil
}

func (s *Service) check(ctx context.Context, accountID string, credits int64) (bool, int64, error) {
	if credits <= 0 {
		return true, 0, nil
	}

	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance >= credits, balance, nil
}

// Debit charges an account for a completed job
func (s *Service) Debit(ctx context.Context, accountID string, credits int64, reason string, relatedJobID string) (*models.LedgerEntry, error) {
	entry, err := s.ledger.Debit(ctx, accountID, credits, reason, relatedJobID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"job_id":     relatedJobID,
		"credits":    credits,
		"balance":    entry.BalanceAfter,
	}).Info("Credits debited")

	return entry, nil
}

// Grant tops up an account
func (s *Service) Grant(ctx context.Context, accountID string, credits int64, reason string) (*models.LedgerEntry, error) {
	return s.ledger.Grant(ctx, accountID, credits, reason)
}

// Balance returns an account's balance
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.ledger.Balance(ctx, accountID)
}

// History returns an account's recent ledger entries
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.ledger.History(ctx, accountID, limit)
}

// HasDebit reports whether a job has been charged
func (s *Service) HasDebit(ctx context.Context, jobID string) (bool, error) {
	return s.ledger.HasDebit(ctx, jobID)
}
