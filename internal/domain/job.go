package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobKind is the queue operation discriminator.
type JobKind string

const (
	JobKindSync   JobKind = "sync"
	JobKindUpdate JobKind = "update"
	JobKindDelete JobKind = "delete"
)

// Job is a validated, typed queue message. Each concrete variant
// carries exactly the fields its operation needs, so downstream code
// switches on the variant instead of probing map keys.
type Job interface {
	Kind() JobKind
	JobID() string
	Subject() (provider, externalID string)
}

// SyncJob indexes a brand-new catalog row.
type SyncJob struct {
	ID         string
	Provider   string
	ExternalID string
	EnqueuedAt time.Time
}

func (j SyncJob) Kind() JobKind { return JobKindSync }
func (j SyncJob) JobID() string { return j.ID }
func (j SyncJob) Subject() (string, string) {
	return j.Provider, j.ExternalID
}

// UpdateJob re-indexes a row whose content changed.
type UpdateJob struct {
	ID         string
	Provider   string
	ExternalID string
	EnqueuedAt time.Time
}

func (j UpdateJob) Kind() JobKind { return JobKindUpdate }
func (j UpdateJob) JobID() string { return j.ID }
func (j UpdateJob) Subject() (string, string) {
	return j.Provider, j.ExternalID
}

// DeleteJob removes a row's vector after it went inactive.
type DeleteJob struct {
	ID         string
	Provider   string
	ExternalID string
	EnqueuedAt time.Time
}

func (j DeleteJob) Kind() JobKind { return JobKindDelete }
func (j DeleteJob) JobID() string { return j.ID }
func (j DeleteJob) Subject() (string, string) {
	return j.Provider, j.ExternalID
}

// jobEnvelope is the wire format of a queue message.
type jobEnvelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Provider   string    `json:"provider"`
	ExternalID string    `json:"external_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ParseJob decodes and validates a queue message at the boundary.
// Unknown types and missing identities are validation errors, not
// retryable failures.
func ParseJob(data []byte) (Job, error) {
	var env jobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}
	if env.ExternalID == "" {
		return nil, fmt.Errorf("invalid job %q: external_id is required", env.ID)
	}
	if env.Provider == "" {
		return nil, fmt.Errorf("invalid job %q: provider is required", env.ID)
	}

	switch JobKind(env.Type) {
	case JobKindSync:
		return SyncJob{ID: env.ID, Provider: env.Provider, ExternalID: env.ExternalID, EnqueuedAt: env.EnqueuedAt}, nil
	case JobKindUpdate:
		return UpdateJob{ID: env.ID, Provider: env.Provider, ExternalID: env.ExternalID, EnqueuedAt: env.EnqueuedAt}, nil
	case JobKindDelete:
		return DeleteJob{ID: env.ID, Provider: env.Provider, ExternalID: env.ExternalID, EnqueuedAt: env.EnqueuedAt}, nil
	default:
		return nil, fmt.Errorf("invalid job %q: unsupported type %q", env.ID, env.Type)
	}
}

// EncodeJob serializes a job back into its wire envelope.
func EncodeJob(j Job) ([]byte, error) {
	provider, externalID := j.Subject()
	env := jobEnvelope{
		ID:         j.JobID(),
		Type:       string(j.Kind()),
		Provider:   provider,
		ExternalID: externalID,
		EnqueuedAt: time.Now().UTC(),
	}
	return json.Marshal(env)
}
