package models

import "time"

// LedgerEntry represents an append-only credit balance change
type LedgerEntry struct {
	ID           string    `json:"id" db:"id"`
	AccountID    string    `json:"accountId" db:"account_id"`
	Delta        int64     `json:"delta" db:"delta"`
	BalanceAfter int64     `json:"balanceAfter" db:"balance_after"`
	Reason       string    `json:"reason" db:"reason"`
	RelatedJobID *string   `json:"relatedJobId,omitempty" db:"related_job_id"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// CreditAccount holds the maintained balance of an account
type CreditAccount struct {
	AccountID string    `json:"accountId" db:"account_id"`
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
