package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/service"
)

// SessionInfo reads the persisted checkpoint of the most recent sync
// session. Sync runs happen in a different process than the API, so
// the file-backed checkpoint is the cross-process source of truth.
type SessionInfo interface {
	Load() (*domain.CheckpointState, error)
}

// QueueInfo is the queue surface the status endpoint reads.
type QueueInfo interface {
	Length(ctx context.Context) (int64, error)
}

// SourceInfo is the catalog surface the status endpoint reads.
type SourceInfo interface {
	CountUnconverted(ctx context.Context) (int64, error)
}

// VectorInfo is the index surface the status endpoint reads.
type VectorInfo interface {
	Count(ctx context.Context) (uint64, error)
}

// SyncHandler exposes sync session status and queue depth.
type SyncHandler struct {
	pipeline *service.SyncPipeline
	sessions SessionInfo
	queue    QueueInfo
	source   SourceInfo
	vectors  VectorInfo
}

// NewSyncHandler creates a new sync status handler.
// Parameters:
//   - pipeline: in-process pipeline to report on.
//   - sessions: persisted checkpoint reader, may be nil.
//   - queue: queue depth reader, may be nil.
//   - source: unconverted-count reader, may be nil.
//   - vectors: index point-count reader, may be nil.
// Returns:
//   - *SyncHandler: initialized handler.
func NewSyncHandler(pipeline *service.SyncPipeline, sessions SessionInfo, queue QueueInfo, source SourceInfo, vectors VectorInfo) *SyncHandler {
	return &SyncHandler{pipeline: pipeline, sessions: sessions, queue: queue, source: source, vectors: vectors}
}

// Status handles GET /api/v1/sync/status.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SyncHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	state, progress := h.pipeline.Snapshot()

	resp := gin.H{
		"state":    state,
		"progress": progress,
	}

	if h.sessions != nil {
		if cp, err := h.sessions.Load(); err == nil && cp != nil {
			// Bulk runs live in the sync binary; the checkpoint file is
			// what reflects their progress from this process.
			resp["session"] = cp
		}
	}

	if h.queue != nil {
		if n, err := h.queue.Length(ctx); err == nil {
			resp["queue_depth"] = n
		}
	}
	if h.source != nil {
		if n, err := h.source.CountUnconverted(ctx); err == nil {
			resp["unconverted"] = n
		}
	}
	if h.vectors != nil {
		if n, err := h.vectors.Count(ctx); err == nil {
			resp["indexed_points"] = n
		}
	}

	c.JSON(http.StatusOK, resp)
}

// parsePositiveInt reads a positive integer query parameter with a default.
func parsePositiveInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
