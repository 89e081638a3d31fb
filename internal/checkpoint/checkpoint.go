package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/logger"
	"github.com/jaehyuksim/catsync/internal/storage"
)

// Store persists sync session progress to a local JSON file so an
// interrupted run can resume where it stopped. Writes go through a
// temp file and rename, so a crash mid-write never leaves a truncated
// checkpoint behind.
type Store struct {
	path    string
	archive storage.ArchiveStorage // optional, nil disables archiving
	log     *logger.Logger
}

// NewStore creates a checkpoint store writing to path. archive may be
// nil; when set, completed checkpoints are uploaded before local
// cleanup.
func NewStore(path string, archive storage.ArchiveStorage, log *logger.Logger) *Store {
	return &Store{path: path, archive: archive, log: log}
}

// Load reads the current checkpoint. A missing file is not an error;
// it returns (nil, nil) meaning no session is in flight.
func (s *Store) Load() (*domain.CheckpointState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var state domain.CheckpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &state, nil
}

// Save atomically writes the checkpoint state.
func (s *Store) Save(state *domain.CheckpointState) error {
	state.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// MarkCompleted stamps the session terminal, renames the file so the
// next run starts fresh, and archives the completed checkpoint when an
// archive backend is configured.
func (s *Store) MarkCompleted(ctx context.Context, state *domain.CheckpointState) error {
	now := time.Now().UTC()
	state.Status = domain.CheckpointCompleted
	state.CompletedAt = &now

	if err := s.Save(state); err != nil {
		return err
	}

	if s.archive != nil {
		key := fmt.Sprintf("checkpoints/%s/%s.json", now.Format("2006-01-02"), state.SessionID)
		data, err := json.MarshalIndent(state, "", "  ")
		if err == nil {
			if err := s.archive.Put(ctx, key, data, "application/json"); err != nil && s.log != nil {
				// Archiving is best effort; the local file is authoritative.
				s.log.WithError(err).Warn("failed to archive completed checkpoint")
			}
		}
	}

	done := s.path + ".completed"
	if err := os.Rename(s.path, done); err != nil {
		return fmt.Errorf("failed to retire checkpoint: %w", err)
	}
	return nil
}

// MarkFailed stamps the session failed but keeps the file in place so
// a resume run can pick the session back up.
func (s *Store) MarkFailed(state *domain.CheckpointState) error {
	now := time.Now().UTC()
	state.Status = domain.CheckpointFailed
	state.FailedAt = &now
	return s.Save(state)
}

// Clear removes the checkpoint file. Missing file is fine.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
