package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
)

const uniqueViolation = "23505"

// LedgerRepository stores credit balances and their append-only history.
// Every balance change happens in the same transaction as its ledger entry.
type LedgerRepository struct {
	db  *PostgresDB
	now func() time.Time
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *PostgresDB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// Balance returns the current balance, zero for unknown accounts
func (r *LedgerRepository) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT balance FROM credit_accounts WHERE account_id = $1`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, apperrors.NewDatabaseError("read balance", err)
	}
	return balance, nil
}

// Grant adds credits to an account, creating it if needed
func (r *LedgerRepository) Grant(ctx context.Context, accountID string, credits int64, reason string) (*models.LedgerEntry, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("grant must be positive, got %d", credits)
	}

	var entry *models.LedgerEntry
	err := pgx.BeginFunc(ctx, r.db.Pool(), func(tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx, `
			INSERT INTO credit_accounts (account_id, balance, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_id)
			DO UPDATE SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
			RETURNING balance
		`, accountID, credits, r.now()).Scan(&balance)
		if err != nil {
			return fmt.Errorf("failed to credit account: %w", err)
		}

		entry, err = r.appendEntry(ctx, tx, accountID, credits, balance, reason, nil)
		return err
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("grant credits", err)
	}

	return entry, nil
}

// Debit charges an account for a job. The balance is re-read under a row lock
// so concurrent debits against one account serialize, and the partial unique
// index on related_job_id rejects a second debit for the same job.
func (r *LedgerRepository) Debit(ctx context.Context, accountID string, credits int64, reason string, relatedJobID string) (*models.LedgerEntry, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("debit must be positive, got %d", credits)
	}

	var entry *models.LedgerEntry
	err := pgx.BeginFunc(ctx, r.db.Pool(), func(tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx,
			`SELECT balance FROM credit_accounts WHERE account_id = $1 FOR UPDATE`, accountID).Scan(&balance)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewDatabaseError("lock account", err)
		}

		var debited bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM credit_ledger_entries WHERE related_job_id = $1 AND delta < 0)`,
			relatedJobID).Scan(&debited); err != nil {
			return apperrors.NewDatabaseError("check existing debit", err)
		}
		if debited {
			return apperrors.NewAlreadyDebitedError(relatedJobID)
		}

		if balance < credits {
			return apperrors.NewInsufficientBalanceError(accountID, credits, balance)
		}

		balance -= credits
		if _, err := tx.Exec(ctx,
			`UPDATE credit_accounts SET balance = $2, updated_at = $3 WHERE account_id = $1`,
			accountID, balance, r.now()); err != nil {
			return apperrors.NewDatabaseError("update balance", err)
		}

		entry, err = r.appendEntry(ctx, tx, accountID, -credits, balance, reason, &relatedJobID)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperrors.NewAlreadyDebitedError(relatedJobID)
		}
		var catErr *apperrors.CategorizedError
		if errors.As(err, &catErr) {
			return nil, catErr
		}
		return nil, apperrors.NewDatabaseError("debit credits", err)
	}

	return entry, nil
}

// HasDebit reports whether a debit entry exists for a job
func (r *LedgerRepository) HasDebit(ctx context.Context, relatedJobID string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM credit_ledger_entries WHERE related_job_id = $1 AND delta < 0)`,
		relatedJobID).Scan(&exists)
	if err != nil {
		return false, apperrors.NewDatabaseError("check debit", err)
	}
	return exists, nil
}

// History returns an account's most recent entries, newest first
func (r *LedgerRepository) History(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, account_id, delta, balance_after, reason, related_job_id, created_at
		FROM credit_ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("ledger history", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.BalanceAfter, &e.Reason, &e.RelatedJobID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

func (r *LedgerRepository) appendEntry(ctx context.Context, tx pgx.Tx, accountID string, delta, balanceAfter int64, reason string, relatedJobID *string) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Delta:        delta,
		BalanceAfter: balanceAfter,
		Reason:       reason,
		RelatedJobID: relatedJobID,
		CreatedAt:    r.now(),
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO credit_ledger_entries (id, account_id, delta, balance_after, reason, related_job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.AccountID, entry.Delta, entry.BalanceAfter, entry.Reason, entry.RelatedJobID, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return entry, nil
}
