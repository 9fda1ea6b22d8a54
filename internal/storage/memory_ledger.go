package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
)

// MemoryLedger is an in-memory credit ledger. One mutex serializes every
// balance change together with its entry.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []*models.LedgerEntry
	debits   map[string]struct{}
}

// NewMemoryLedger returns an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]int64),
		debits:   make(map[string]struct{}),
	}
}

// Balance returns the current balance, zero for unknown accounts
func (l *MemoryLedger) Balance(_ context.Context, accountID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountID], nil
}

// Grant adds credits to an account
func (l *MemoryLedger) Grant(_ context.Context, accountID string, credits int64, reason string) (*models.LedgerEntry, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("grant must be positive, got %d", credits)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[accountID] += credits
	return l.append(accountID, credits, reason, nil), nil
}

// Debit charges an account for a job, at most once per job
func (l *MemoryLedger) Debit(_ context.Context, accountID string, credits int64, reason string, relatedJobID string) (*models.LedgerEntry, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("debit must be positive, got %d", credits)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.debits[relatedJobID]; done {
		return nil, apperrors.NewAlreadyDebitedError(relatedJobID)
	}

	balance := l.balances[accountID]
	if balance < credits {
		return nil, apperrors.NewInsufficientBalanceError(accountID, credits, balance)
	}

	l.balances[accountID] = balance - credits
	l.debits[relatedJobID] = struct{}{}
	jobID := relatedJobID
	return l.append(accountID, -credits, reason, &jobID), nil
}

// HasDebit reports whether a debit entry exists for a job
func (l *MemoryLedger) HasDebit(_ context.Context, relatedJobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.debits[relatedJobID]
	return ok, nil
}

// History returns an account's most recent entries, newest first
func (l *MemoryLedger) History(_ context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.LedgerEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].AccountID != accountID {
			continue
		}
		cp := *l.entries[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// EntriesForJob returns every entry related to a job
func (l *MemoryLedger) EntriesForJob(jobID string) []*models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.LedgerEntry
	for _, e := range l.entries {
		if e.RelatedJobID != nil && *e.RelatedJobID == jobID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (l *MemoryLedger) append(accountID string, delta int64, reason string, relatedJobID *string) *models.LedgerEntry {
	entry := &models.LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Delta:        delta,
		BalanceAfter: l.balances[accountID],
		Reason:       reason,
		RelatedJobID: relatedJobID,
		CreatedAt:    time.Now().UTC(),
	}
	l.entries = append(l.entries, entry)

	cp := *entry
	return &cp
}
