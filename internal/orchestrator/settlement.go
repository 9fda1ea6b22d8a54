package orchestrator

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// Settle debits a successful job. The artifact is delivered whatever the
// outcome; a failed debit leaves the job unpaid for reconciliation.
func (o *Orchestrator) Settle(ctx context.Context, j *models.Job, result *models.JobResult) types.DebitState {
	o.Release(ctx, j)

	if j.Cost <= 0 {
		return types.DebitNotRequired
	}

	logger := o.logger.WithFields(map[string]interface{}{
		"job_id":     j.ID,
		"account_id": j.AccountID,
		"cost":       j.Cost,
	})

	_, err := o.credits.Debit(ctx, j.AccountID, j.Cost, fmt.Sprintf("generation:%s", j.Type), j.ID)
	switch {
	case err == nil:
		return types.DebitDebited
	case apperrors.HasCode(err, apperrors.CodeAlreadyDebited):
		logger.Warn("Job was already debited")
		return types.DebitDebited
	default:
		logger.WithError(err).Error("Debit failed after successful generation, job flagged unpaid")
		return types.DebitUnpaid
	}
}

// Release clears the cross-process cancel signal of a finished job
func (o *Orchestrator) Release(ctx context.Context, j *models.Job) {
	if o.signal == nil {
		return
	}
	if err := o.signal.Clear(ctx, j.ID); err != nil {
		o.logger.WithError(err).WithField("job_id", j.ID).Debug("Failed to clear cancel signal")
	}
}

// UnpaidJob is a delivered job whose debit never went through
type UnpaidJob struct {
	JobID      string     `json:"jobId"`
	AccountID  string     `json:"accountId"`
	Type       string     `json:"type"`
	Cost       int64      `json:"cost"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// ReconcileReport summarizes one reconciliation sweep
type ReconcileReport struct {
	Scanned     int         `json:"scanned"`
	Settled     int         `json:"settled"`
	Outstanding []UnpaidJob `json:"outstanding"`
}

// Reconcile scans unpaid jobs. Jobs that turn out to have a ledger entry are
// marked debited; the rest are reported for operator review. Debits are never
// retried here.
func (o *Orchestrator) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	jobs, err := o.queue.Store().ListUnsettled(ctx, o.cfg.ReconcileBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list unsettled jobs: %w", err)
	}

	report := &ReconcileReport{Scanned: len(jobs), Outstanding: []UnpaidJob{}}
	for _, j := range jobs {
		debited, err := o.credits.HasDebit(ctx, j.ID)
		if err != nil {
			return report, fmt.Errorf("check debit for job %s: %w", j.ID, err)
		}

		if debited {
			if err := o.queue.Store().SetDebitState(ctx, j.ID, types.DebitDebited); err != nil {
				return report, fmt.Errorf("mark job %s debited: %w", j.ID, err)
			}
			report.Settled++
			continue
		}

		report.Outstanding = append(report.Outstanding, UnpaidJob{
			JobID:      j.ID,
			AccountID:  j.AccountID,
			Type:       string(j.Type),
			Cost:       j.Cost,
			FinishedAt: j.FinishedAt,
		})
		o.logger.WithFields(map[string]interface{}{
			"job_id":     j.ID,
			"account_id": j.AccountID,
			"cost":       j.Cost,
		}).Warn("Unpaid job needs operator review")
	}

	o.logger.WithFields(map[string]interface{}{
		"scanned":     report.Scanned,
		"settled":     report.Settled,
		"outstanding": len(report.Outstanding),
	}).Info("Reconciliation sweep finished")
	return report, nil
}
