package domain

import "time"

// CheckpointStatus is the lifecycle status of a sync session.
// StatusCompleted is terminal; a re-run starts a fresh session.
type CheckpointStatus string

const (
	CheckpointInitialized CheckpointStatus = "initialized"
	CheckpointRunning     CheckpointStatus = "running"
	CheckpointCompleted   CheckpointStatus = "completed"
	CheckpointFailed      CheckpointStatus = "failed"
)

// CheckpointState is the durable progress marker for one sync
// session. Only scalar progress counters are persisted; the change
// set itself is re-derived on every run. ProcessedCount is
// monotonically non-decreasing within a session.
type CheckpointState struct {
	SessionID       string           `json:"session_id"`
	StartedAt       time.Time        `json:"started_at"`
	LastUpdated     time.Time        `json:"last_updated"`
	TotalItems      int              `json:"total_items"`
	BatchSize       int              `json:"batch_size"`
	CurrentBatch    int              `json:"current_batch"`
	TotalBatches    int              `json:"total_batches"`
	ProcessedCount  int              `json:"processed_count"`
	SuccessCount    int              `json:"success_count"`
	ErrorCount      int              `json:"error_count"`
	LastProcessedID string           `json:"last_processed_id"`
	Status          CheckpointStatus `json:"status"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	FailedAt        *time.Time       `json:"failed_at,omitempty"`
}

// Resumable reports whether a loaded checkpoint represents an
// interrupted or failed session that a resume run should continue.
func (s *CheckpointState) Resumable() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case CheckpointRunning, CheckpointInitialized, CheckpointFailed:
		return true
	default:
		return false
	}
}
