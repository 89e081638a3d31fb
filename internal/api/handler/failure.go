package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaehyuksim/catsync/internal/domain"
	"github.com/jaehyuksim/catsync/internal/repository"
	"github.com/jaehyuksim/catsync/internal/service"
)

// FailureHandler exposes the failure ledger for operators: listing,
// stats and manual retry of individual failures.
type FailureHandler struct {
	ledger  *repository.FailureRepository
	retrier *service.FailureRetrier
	proc    *service.RecordProcessor
}

// NewFailureHandler creates a new failure ledger handler.
// Parameters:
//   - ledger: failure repository instance.
//   - retrier: retrier used for drain requests.
//   - proc: single-record processor used for manual retries.
// Returns:
//   - *FailureHandler: initialized handler.
func NewFailureHandler(ledger *repository.FailureRepository, retrier *service.FailureRetrier, proc *service.RecordProcessor) *FailureHandler {
	return &FailureHandler{ledger: ledger, retrier: retrier, proc: proc}
}

// List handles GET /api/v1/failures.
// Query parameters: category, severity, unresolved (default true),
// limit (default 50).
func (h *FailureHandler) List(c *gin.Context) {
	category := domain.ErrorCategory(c.Query("category"))
	severity := domain.ErrorSeverity(c.Query("severity"))
	unresolved := c.DefaultQuery("unresolved", "true") == "true"
	limit := parsePositiveInt(c, "limit", 50)

	ops, err := h.ledger.List(c.Request.Context(), category, severity, unresolved, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list failures: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"failures": ops,
		"count":    len(ops),
	})
}

// Stats handles GET /api/v1/failures/stats.
func (h *FailureHandler) Stats(c *gin.Context) {
	stats, err := h.ledger.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to aggregate stats: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// Retry handles POST /api/v1/failures/:id/retry. It replays one
// failure immediately, regardless of its scheduled next retry time.
func (h *FailureHandler) Retry(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid failure ID",
		})
		return
	}

	ctx := c.Request.Context()
	op, err := h.ledger.GetByID(ctx, uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Failure not found",
		})
		return
	}
	if op.ResolvedAt != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Failure is already resolved",
		})
		return
	}

	var retryErr error
	switch op.OperationType {
	case domain.OperationDelete:
		retryErr = h.proc.DeleteRecord(ctx, op.Provider, op.SubjectID)
	default:
		retryErr = h.proc.SyncRecord(ctx, op.Provider, op.SubjectID)
	}

	if retryErr != nil {
		if err := h.ledger.RecordRetryOutcome(ctx, op.ID, false, retryErr, domain.RetryExponential); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Retry failed and outcome could not be recorded: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Retry failed: " + retryErr.Error(),
			"retried": true,
			"success": false,
		})
		return
	}

	if err := h.ledger.RecordRetryOutcome(ctx, op.ID, true, nil, domain.RetryExponential); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Retry succeeded but outcome could not be recorded: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"retried": true,
		"success": true,
	})
}

// Drain handles POST /api/v1/failures/retry. It runs one retry pass
// over every currently eligible failure.
func (h *FailureHandler) Drain(c *gin.Context) {
	limit := parsePositiveInt(c, "limit", 100)

	report, err := h.retrier.Drain(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Retry pass failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}
