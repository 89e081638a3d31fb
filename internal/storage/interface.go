package storage

import "context"

// ArchiveStorage defines the interface for archiving sync artifacts
// (completed checkpoints, dead-letter exports) to object storage.
type ArchiveStorage interface {
	// EnsureBucket creates the archive bucket if it doesn't exist
	EnsureBucket(ctx context.Context) error

	// Put uploads a small in-memory object to storage
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get downloads an object from storage
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}
