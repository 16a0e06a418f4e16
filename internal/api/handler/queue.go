package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vidkeep/vidkeep/internal/queue"
)

// CapacityKey is the KV key holding the persisted capacity override.
const CapacityKey = "queue:capacity"

// CapacityOverride is the persisted shape of a runtime capacity change.
// Nil fields leave the corresponding channel untouched.
type CapacityOverride struct {
	Credentialed *int `json:"credentialed,omitempty"`
	Anonymous    *int `json:"anonymous,omitempty"`
}

// CapacityStore persists runtime settings across restarts.
type CapacityStore interface {
	SetJSON(ctx context.Context, key string, v interface{}) error
	GetJSON(ctx context.Context, key string, v interface{}) error
}

// QueueHandler exposes the job queue over HTTP.
type QueueHandler struct {
	queue *queue.Queue
	kv    CapacityStore
}

// NewQueueHandler creates a new queue handler.
// Parameters:
//   - q: the job queue.
//   - kv: store for persisting capacity overrides.
// Returns:
//   - *QueueHandler: initialized handler.
func NewQueueHandler(q *queue.Queue, kv CapacityStore) *QueueHandler {
	return &QueueHandler{queue: q, kv: kv}
}

// Stats handles GET /api/v1/queue/stats.
func (h *QueueHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// ListJobs handles GET /api/v1/queue/jobs.
// The optional state query parameter filters by job state.
func (h *QueueHandler) ListJobs(c *gin.Context) {
	jobs := h.queue.List()
	if state := c.Query("state"); state != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.State) == state {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// GetJob handles GET /api/v1/queue/jobs/:id.
func (h *QueueHandler) GetJob(c *gin.Context) {
	job, ok := h.queue.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found: " + c.Param("id"),
		})
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob handles POST /api/v1/queue/jobs/:id/cancel.
func (h *QueueHandler) CancelJob(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for cancellation
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "canceled via api"
	}

	if err := h.queue.Cancel(c.Param("id"), req.Reason); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found: " + c.Param("id"),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Cancel failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

// PrioritizeJob handles POST /api/v1/queue/jobs/:id/prioritize.
func (h *QueueHandler) PrioritizeJob(c *gin.Context) {
	var req struct {
		Priority *int `json:"priority"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.queue.Prioritize(c.Param("id"), req.Priority); err != nil {
		switch {
		case errors.Is(err, queue.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found: " + c.Param("id"),
			})
		case errors.Is(err, queue.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Only queued jobs can be prioritized",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Prioritize failed: " + err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "prioritized"})
}

// Pause handles POST /api/v1/queue/pause.
func (h *QueueHandler) Pause(c *gin.Context) {
	scope, ok := parseScope(c)
	if !ok {
		return
	}
	h.queue.Pause(scope)
	c.JSON(http.StatusOK, gin.H{"status": "paused", "scope": scope})
}

// Resume handles POST /api/v1/queue/resume.
func (h *QueueHandler) Resume(c *gin.Context) {
	scope, ok := parseScope(c)
	if !ok {
		return
	}
	h.queue.Resume(scope)
	c.JSON(http.StatusOK, gin.H{"status": "resumed", "scope": scope})
}

// SetCapacity handles PUT /api/v1/queue/capacity.
// The new capacities take effect immediately and are persisted so they
// survive a restart.
func (h *QueueHandler) SetCapacity(c *gin.Context) {
	var req CapacityOverride
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if req.Credentialed == nil && req.Anonymous == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "At least one of credentialed, anonymous is required",
		})
		return
	}
	if (req.Credentialed != nil && *req.Credentialed < 0) ||
		(req.Anonymous != nil && *req.Anonymous < 0) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Capacity must be non-negative",
		})
		return
	}

	h.queue.SetCapacity(req.Credentialed, req.Anonymous)

	// Merge with the stored override so a partial update does not
	// clear the other channel.
	ctx := c.Request.Context()
	var stored CapacityOverride
	_ = h.kv.GetJSON(ctx, CapacityKey, &stored)
	if req.Credentialed != nil {
		stored.Credentialed = req.Credentialed
	}
	if req.Anonymous != nil {
		stored.Anonymous = req.Anonymous
	}
	if err := h.kv.SetJSON(ctx, CapacityKey, &stored); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Capacity applied but not persisted: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, h.queue.Stats())
}

func parseScope(c *gin.Context) (queue.Scope, bool) {
	raw := c.DefaultQuery("scope", string(queue.ScopeAll))
	switch queue.Scope(raw) {
	case queue.ScopeAll, queue.ScopeCredentialed, queue.ScopeAnonymous:
		return queue.Scope(raw), true
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid scope: " + raw,
		})
		return "", false
	}
}
