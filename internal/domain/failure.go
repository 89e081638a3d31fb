package domain

import (
	"time"
)

// OperationType identifies which pipeline step a failure record
// belongs to.
type OperationType string

const (
	OperationSync      OperationType = "sync"
	OperationUpdate    OperationType = "update"
	OperationDelete    OperationType = "delete"
	OperationEmbedding OperationType = "embedding"
)

// ErrorCategory buckets failures for retry scheduling and alerting.
// Classification is a keyword heuristic and is advisory only: a
// misclassified error changes when it is retried, never whether the
// record is correct.
type ErrorCategory string

const (
	ErrorCategoryDatabase       ErrorCategory = "database"
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryRateLimit      ErrorCategory = "rate_limit"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// ErrorSeverity grades how loudly a failure should be surfaced.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// RetryStrategy selects how the next retry time is spaced out.
type RetryStrategy string

const (
	RetryExponential RetryStrategy = "exponential"
	RetryLinear      RetryStrategy = "linear"
	RetryFixed       RetryStrategy = "fixed"
)

// maxRetryDelay caps exponential growth at one hour.
const maxRetryDelay = time.Hour

// NextRetryAt computes the next retry time for the given attempt
// number (1-based). Exponential doubles from base (60s, 120s, 240s,
// ...) capped at one hour; linear grows by base each attempt; fixed
// always waits base.
func (s RetryStrategy) NextRetryAt(now time.Time, base time.Duration, retryCount int) time.Time {
	if retryCount < 1 {
		retryCount = 1
	}
	var delay time.Duration
	switch s {
	case RetryLinear:
		delay = base * time.Duration(retryCount)
	case RetryFixed:
		delay = base
	default: // exponential
		delay = base << uint(retryCount-1)
		if delay > maxRetryDelay || delay <= 0 {
			delay = maxRetryDelay
		}
	}
	return now.Add(delay)
}

// FailedOperation is a persisted record of a pipeline step that
// failed for one subject. It is created on first failure, mutated by
// retry attempts, and terminal once ResolvedAt is set or RetryCount
// reaches MaxRetries (dead-lettered).
type FailedOperation struct {
	ID            uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	OperationType OperationType `gorm:"type:text;not null;index:idx_failed_ops_type" json:"operation_type"`
	SubjectID     string        `gorm:"type:text;not null;index:idx_failed_ops_subject" json:"subject_id"`
	Provider      string        `gorm:"type:text" json:"provider"`
	Category      ErrorCategory `gorm:"type:text" json:"error_category"`
	Severity      ErrorSeverity `gorm:"type:text" json:"error_severity"`
	ErrorMessage  string        `gorm:"type:text;not null" json:"error_message"`
	ErrorDetails  string        `gorm:"type:text" json:"error_details"`
	OperationStep string        `gorm:"type:text" json:"operation_step"`
	RetryCount    int           `gorm:"default:0;index:idx_failed_ops_retry" json:"retry_count"`
	MaxRetries    int           `gorm:"default:3" json:"max_retries"`
	NextRetryAt   time.Time     `gorm:"index:idx_failed_ops_retry" json:"next_retry_at"`
	CreatedAt     time.Time     `json:"created_at"`
	LastRetryAt   *time.Time    `json:"last_retry_at,omitempty"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}

// TableName returns the database table name for FailedOperation.
func (FailedOperation) TableName() string {
	return "failed_operations"
}

// Exhausted reports whether the record has used up its retry budget
// without being resolved.
func (f *FailedOperation) Exhausted() bool {
	return f.ResolvedAt == nil && f.RetryCount >= f.MaxRetries
}
