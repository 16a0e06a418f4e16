package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/queue"
	"github.com/vidkeep/vidkeep/internal/repository"
	"github.com/vidkeep/vidkeep/internal/syncer"
)

// SubscriptionHandler handles subscription management endpoints.
type SubscriptionHandler struct {
	subs  *repository.SubscriptionRepository
	media *repository.MediaRepository
	sync  *syncer.Service
	queue *queue.Queue
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(
	subs *repository.SubscriptionRepository,
	media *repository.MediaRepository,
	sync *syncer.Service,
	q *queue.Queue,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs:  subs,
		media: media,
		sync:  sync,
		queue: q,
	}
}

type subscriptionRequest struct {
	Name         string `json:"name" binding:"required"`
	URL          string `json:"url" binding:"required"`
	Enabled      *bool  `json:"enabled"`
	RequiresAuth bool   `json:"requires_auth"`
	Incremental  *bool  `json:"incremental"`
}

// Create handles POST /api/v1/subscriptions.
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	sub := &domain.Subscription{
		Name:         req.Name,
		URL:          req.URL,
		Enabled:      true,
		RequiresAuth: req.RequiresAuth,
		Incremental:  req.Incremental,
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}

	if err := h.subs.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Create failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// List handles GET /api/v1/subscriptions.
func (h *SubscriptionHandler) List(c *gin.Context) {
	subs, err := h.subs.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "List failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"total":         len(subs),
	})
}

// Get handles GET /api/v1/subscriptions/:id.
// The response includes the stored sync status and local item count.
func (h *SubscriptionHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sub, err := h.subs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Subscription not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Lookup failed: " + err.Error(),
		})
		return
	}

	count, err := h.media.CountBySubscription(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Lookup failed: " + err.Error(),
		})
		return
	}

	status, err := h.sync.GetStatus(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Lookup failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription": sub,
		"local_items":  count,
		"sync_status":  status,
	})
}

// Update handles PUT /api/v1/subscriptions/:id.
func (h *SubscriptionHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sub, err := h.subs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Subscription not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Lookup failed: " + err.Error(),
		})
		return
	}

	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	sub.Name = req.Name
	sub.URL = req.URL
	sub.RequiresAuth = req.RequiresAuth
	sub.Incremental = req.Incremental
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}

	if err := h.subs.Update(ctx, sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Update failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Delete handles DELETE /api/v1/subscriptions/:id.
func (h *SubscriptionHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.subs.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Delete failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Refresh handles POST /api/v1/subscriptions/:id/refresh.
// It enqueues a catalog listing job for the subscription.
func (h *SubscriptionHandler) Refresh(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sub, err := h.subs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Subscription not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Lookup failed: " + err.Error(),
		})
		return
	}

	jobID := h.queue.Enqueue(queue.EnqueueRequest{
		Kind:               queue.KindListFetch,
		SubscriptionID:     &sub.ID,
		RequiresCredential: sub.RequiresAuth,
	})
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// Items handles GET /api/v1/subscriptions/:id/items.
func (h *SubscriptionHandler) Items(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	items, err := h.media.ListBySubscription(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "List failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid id: " + c.Param("id"),
		})
		return 0, false
	}
	return uint(id), true
}
