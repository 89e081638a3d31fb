package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jaehyuksim/catsync/internal/domain"
	"gorm.io/gorm"
)

// FailureRepository persists failed pipeline operations and drives the
// retry/dead-letter lifecycle over the failed_operations table.
type FailureRepository struct {
	db             *gorm.DB
	maxRetries     int
	baseDelay      time.Duration
	commandTimeout time.Duration
	now            func() time.Time
}

// NewFailureRepository creates a new FailureRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - maxRetries: retry budget stamped on new records.
//   - baseDelay: base delay used for next-retry scheduling.
//   - commandTimeout: per-query deadline, 0 disables.
// Returns:
//   - *FailureRepository: repository instance bound to db.
func NewFailureRepository(db *gorm.DB, maxRetries int, baseDelay, commandTimeout time.Duration) *FailureRepository {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &FailureRepository{
		db:             db,
		maxRetries:     maxRetries,
		baseDelay:      baseDelay,
		commandTimeout: commandTimeout,
		now:            time.Now,
	}
}

// session returns a query handle whose context carries the command
// timeout, so no single statement can hang the caller.
func (r *FailureRepository) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if r.commandTimeout > 0 {
		tctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
		return r.db.WithContext(tctx), cancel
	}
	return r.db.WithContext(ctx), func() {}
}

// FailureContext carries the pipeline position a failure happened at.
type FailureContext struct {
	SessionID string `json:"session_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Step      string `json:"step"`
	Batch     int    `json:"batch,omitempty"`
	Extra     any    `json:"extra,omitempty"`
}

// Record inserts a new failure with automatic classification and an
// initial next-retry time one base delay from now.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - op: operation type the failure belongs to.
//   - provider: provider code of the subject.
//   - subjectID: provider-scoped identity of the failed record.
//   - cause: the error that occurred.
//   - fctx: pipeline position context, serialized into error details.
// Returns:
//   - uint: ID of the inserted failure row.
//   - error: non-nil if the insert fails.
func (r *FailureRepository) Record(ctx context.Context, op domain.OperationType, provider, subjectID string, cause error, fctx FailureContext) (uint, error) {
	category, severity := domain.Categorize(cause)

	details, err := json.Marshal(fctx)
	if err != nil {
		details = []byte("{}")
	}

	failed := domain.FailedOperation{
		OperationType: op,
		SubjectID:     subjectID,
		Provider:      provider,
		Category:      category,
		Severity:      severity,
		ErrorMessage:  cause.Error(),
		ErrorDetails:  string(details),
		OperationStep: fctx.Step,
		RetryCount:    0,
		MaxRetries:    r.maxRetries,
		NextRetryAt:   r.now().Add(r.baseDelay),
	}

	db, cancel := r.session(ctx)
	defer cancel()
	if err := db.Create(&failed).Error; err != nil {
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}
	return failed.ID, nil
}

// RetryEligible selects unresolved failures whose retry budget and
// schedule allow another attempt, oldest schedule first.
func (r *FailureRepository) RetryEligible(ctx context.Context, limit int) ([]domain.FailedOperation, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var ops []domain.FailedOperation
	if err := db.
		Where("retry_count < max_retries AND next_retry_at <= ? AND resolved_at IS NULL", r.now()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("failed to query retryable operations: %w", err)
	}
	return ops, nil
}

// RecordRetryOutcome updates a failure after a retry attempt. On success the
// record is resolved; on failure the retry count is bumped and the next
// retry time is computed with the given strategy.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - failureID: failure row to update.
//   - success: whether the retry succeeded.
//   - newErr: the error of the failed retry, nil on success.
//   - strategy: spacing strategy for the next retry time.
// Returns:
//   - error: non-nil if the update fails.
func (r *FailureRepository) RecordRetryOutcome(ctx context.Context, failureID uint, success bool, newErr error, strategy domain.RetryStrategy) error {
	now := r.now()
	db, cancel := r.session(ctx)
	defer cancel()

	if success {
		return db.
			Model(&domain.FailedOperation{}).
			Where("id = ?", failureID).
			Updates(map[string]any{
				"resolved_at":   now,
				"last_retry_at": now,
			}).Error
	}

	var op domain.FailedOperation
	if err := db.First(&op, failureID).Error; err != nil {
		return fmt.Errorf("failed to load failure %d: %w", failureID, err)
	}

	newCount := op.RetryCount + 1
	updates := map[string]any{
		"retry_count":   newCount,
		"next_retry_at": strategy.NextRetryAt(now, r.baseDelay, newCount),
		"last_retry_at": now,
	}
	if newErr != nil {
		updates["error_message"] = newErr.Error()
		category, severity := domain.Categorize(newErr)
		updates["category"] = category
		updates["severity"] = severity
	}

	return db.
		Model(&domain.FailedOperation{}).
		Where("id = ?", failureID).
		Updates(updates).Error
}

// MarkPermanentlyFailed dead-letters a failure: it exhausts the retry
// budget and annotates the message so operators can query what will
// never succeed without intervention.
func (r *FailureRepository) MarkPermanentlyFailed(ctx context.Context, failureID uint, reason string) error {
	db, cancel := r.session(ctx)
	defer cancel()
	return db.
		Model(&domain.FailedOperation{}).
		Where("id = ?", failureID).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("max_retries"),
			"last_retry_at": r.now(),
			"error_message": gorm.Expr("error_message || ' [PERMANENT FAILURE: ' || ? || ']'", reason),
		}).Error
}

// MarkResolved marks a failure as resolved outside the retry loop (e.g.
// an operator fixed the record by hand).
func (r *FailureRepository) MarkResolved(ctx context.Context, failureID uint) error {
	db, cancel := r.session(ctx)
	defer cancel()
	return db.
		Model(&domain.FailedOperation{}).
		Where("id = ?", failureID).
		Update("resolved_at", r.now()).Error
}

// GetByID retrieves one failure row.
func (r *FailureRepository) GetByID(ctx context.Context, failureID uint) (*domain.FailedOperation, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var op domain.FailedOperation
	if err := db.First(&op, failureID).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// List returns failures filtered by category/severity, newest first.
// Empty filter values match everything; unresolvedOnly excludes
// resolved and dead-lettered-then-resolved records.
func (r *FailureRepository) List(ctx context.Context, category domain.ErrorCategory, severity domain.ErrorSeverity, unresolvedOnly bool, limit int) ([]domain.FailedOperation, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	q := db.Model(&domain.FailedOperation{})
	if unresolvedOnly {
		q = q.Where("resolved_at IS NULL")
	}
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if severity != "" {
		q = q.Where("severity = ?", severity)
	}

	var ops []domain.FailedOperation
	if err := q.Order("created_at DESC").Limit(limit).Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	return ops, nil
}

// OperationStats summarizes failures for one operation type.
type OperationStats struct {
	OperationType     domain.OperationType `json:"operation_type"`
	TotalFailures     int64                `json:"total_failures"`
	Resolved          int64                `json:"resolved"`
	PermanentFailures int64                `json:"permanent_failures"`
	PendingRetries    int64                `json:"pending_retries"`
}

// Stats aggregates failure counts per operation type.
func (r *FailureRepository) Stats(ctx context.Context) ([]OperationStats, error) {
	db, cancel := r.session(ctx)
	defer cancel()
	var stats []OperationStats
	err := db.
		Model(&domain.FailedOperation{}).
		Select(`operation_type,
			COUNT(*) AS total_failures,
			COUNT(CASE WHEN resolved_at IS NOT NULL THEN 1 END) AS resolved,
			COUNT(CASE WHEN retry_count >= max_retries AND resolved_at IS NULL THEN 1 END) AS permanent_failures,
			COUNT(CASE WHEN retry_count < max_retries AND resolved_at IS NULL THEN 1 END) AS pending_retries`).
		Group("operation_type").
		Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate failure stats: %w", err)
	}
	return stats, nil
}

// CleanupResolved deletes resolved failures older than the given age.
func (r *FailureRepository) CleanupResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := r.now().Add(-olderThan)
	db, cancel := r.session(ctx)
	defer cancel()
	res := db.
		Where("resolved_at IS NOT NULL AND resolved_at < ?", cutoff).
		Delete(&domain.FailedOperation{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
