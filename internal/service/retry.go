package service

import (
	"context"

	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/logger"
)

// RetryLedger is the ledger surface the retrier drives.
type RetryLedger interface {
	RetryEligible(ctx context.Context, limit int) ([]domain.FailedOperation, error)
	RecordRetryOutcome(ctx context.Context, failureID uint, success bool, newErr error, strategy domain.RetryStrategy) error
	MarkPermanentlyFailed(ctx context.Context, failureID uint, reason string) error
}

// RetryReport summarizes one drain pass.
type RetryReport struct {
	Attempted    int `json:"attempted"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// FailureRetrier re-runs ledgered failures through the same
// single-record path a fresh job takes. Operations that exhaust their
// budget are dead-lettered and left for operator review.
type FailureRetrier struct {
	ledger   RetryLedger
	proc     *RecordProcessor
	strategy domain.RetryStrategy
	log      *logger.Logger
}

// NewFailureRetrier creates a retrier using the given backoff strategy.
func NewFailureRetrier(ledger RetryLedger, proc *RecordProcessor, strategy domain.RetryStrategy, log *logger.Logger) *FailureRetrier {
	if strategy == "" {
		strategy = domain.RetryExponential
	}
	return &FailureRetrier{ledger: ledger, proc: proc, strategy: strategy, log: log}
}

// Drain retries up to limit eligible failures and records each
// outcome. Validation failures are never retried automatically; they
// stay in the ledger until an operator resolves them.
func (r *FailureRetrier) Drain(ctx context.Context, limit int) (*RetryReport, error) {
	ops, err := r.ledger.RetryEligible(ctx, limit)
	if err != nil {
		return nil, err
	}

	report := &RetryReport{}
	for _, op := range ops {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if op.Category == domain.ErrorCategoryValidation {
			continue
		}
		report.Attempted++

		retryErr := r.attempt(ctx, &op)
		if retryErr == nil {
			report.Succeeded++
			if err := r.ledger.RecordRetryOutcome(ctx, op.ID, true, nil, r.strategy); err != nil {
				r.log.WithError(err).WithField("failure_id", op.ID).Error("failed to record retry success")
			}
			continue
		}

		report.Failed++
		if err := r.ledger.RecordRetryOutcome(ctx, op.ID, false, retryErr, r.strategy); err != nil {
			r.log.WithError(err).WithField("failure_id", op.ID).Error("failed to record retry failure")
			continue
		}
		if op.RetryCount+1 >= op.MaxRetries {
			report.DeadLettered++
			r.log.WithFields(logger.Fields{
				"failure_id":  op.ID,
				"provider":    op.Provider,
				"subject_id":  op.SubjectID,
				"operation":   op.OperationType,
				"retry_count": op.RetryCount + 1,
			}).Warn("operation permanently failed after exhausting retries")
		}
	}

	if report.Attempted > 0 {
		r.log.WithFields(logger.Fields{
			"attempted":     report.Attempted,
			"succeeded":     report.Succeeded,
			"failed":        report.Failed,
			"dead_lettered": report.DeadLettered,
		}).Info("retry pass finished")
	}
	return report, nil
}

func (r *FailureRetrier) attempt(ctx context.Context, op *domain.FailedOperation) error {
	switch op.OperationType {
	case domain.OperationDelete:
		return r.proc.DeleteRecord(ctx, op.Provider, op.SubjectID)
	default:
		// sync, update and embedding failures all replay the full
		// index path; a partial failure mid-path is safe to redo.
		return r.proc.SyncRecord(ctx, op.Provider, op.SubjectID)
	}
}
