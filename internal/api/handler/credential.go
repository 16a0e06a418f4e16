package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vidkeep/vidkeep/internal/credpool"
	"github.com/vidkeep/vidkeep/internal/domain"
	"github.com/vidkeep/vidkeep/internal/repository"
)

// CredentialHandler handles credential pool management endpoints.
type CredentialHandler struct {
	creds *repository.CredentialRepository
	pool  *credpool.Pool
}

// NewCredentialHandler creates a new credential handler.
func NewCredentialHandler(creds *repository.CredentialRepository, pool *credpool.Pool) *CredentialHandler {
	return &CredentialHandler{creds: creds, pool: pool}
}

type credentialRequest struct {
	Label       string `json:"label" binding:"required"`
	CookiesPath string `json:"cookies_path" binding:"required"`
}

// Create handles POST /api/v1/credentials.
func (h *CredentialHandler) Create(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	cred := &domain.Credential{
		Label:       req.Label,
		CookiesPath: req.CookiesPath,
		Active:      true,
	}
	if err := h.creds.Create(c.Request.Context(), cred); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Create failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, cred)
}

// List handles GET /api/v1/credentials.
func (h *CredentialHandler) List(c *gin.Context) {
	creds, err := h.creds.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "List failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credentials": creds,
		"total":       len(creds),
	})
}

// Ban handles POST /api/v1/credentials/:id/ban.
func (h *CredentialHandler) Ban(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "banned via api"
	}

	if err := h.pool.Ban(c.Request.Context(), id, req.Reason); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Credential not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Ban failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "banned"})
}

// Reactivate handles POST /api/v1/credentials/:id/reactivate.
// It re-enables a banned credential and clears its failure history.
func (h *CredentialHandler) Reactivate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.creds.SetActive(ctx, id, true, ""); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Credential not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Reactivate failed: " + err.Error(),
		})
		return
	}
	if err := h.creds.UpdateFailureState(ctx, id, 0, nil); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Reactivate failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}
