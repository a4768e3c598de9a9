package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/errors"
	"github.com/poemonsense/antigravity-router/internal/health"
)

// HealthHandler serves the health matrix and the health configuration
type HealthHandler struct {
	cfg      *config.Config
	registry *account.Registry
	tracker  *health.Tracker
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(cfg *config.Config, registry *account.Registry, tracker *health.Tracker) *HealthHandler {
	return &HealthHandler{
		cfg:      cfg,
		registry: registry,
		tracker:  tracker,
	}
}

// Matrix handles GET /api/health - the accounts x models health view.
// An optional models query parameter (comma-separated) narrows the columns.
func (h *HealthHandler) Matrix(c *gin.Context) {
	var models []string
	if raw := c.Query("models"); raw != "" {
		for _, m := range strings.Split(raw, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
	}

	matrix := h.tracker.BuildHealthMatrix(models)
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"matrix": matrix,
	})
}

// Summary handles GET /api/health/summary
func (h *HealthHandler) Summary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"summary": h.tracker.GetHealthSummary(),
	})
}

// GetConfig handles GET /api/health/config
func (h *HealthHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"config": h.cfg.GetHealth(),
	})
}

// UpdateConfig handles PUT /api/health/config. An invalid patch is rejected
// whole with every failing field listed.
func (h *HealthHandler) UpdateConfig(c *gin.Context) {
	var patch config.HealthConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, errors.NewValidationError([]errors.FieldError{
			{Field: "body", Message: "invalid JSON: " + err.Error()},
		}))
		return
	}

	updated, err := h.cfg.UpdateHealth(patch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"config": updated,
	})
}

// AccountHealth handles GET /api/accounts/:email/health
func (h *HealthHandler) AccountHealth(c *gin.Context) {
	email := c.Param("email")
	acc := h.registry.Get(email)
	if acc == nil {
		respondError(c, errors.NewNotFoundError("Account "+email+" not found"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"email":  email,
		"health": acc.HealthSnapshot(),
	})
}

// toggleRequest is the body of a health toggle call
type toggleRequest struct {
	Model    string `json:"model" binding:"required"`
	Disabled *bool  `json:"disabled" binding:"required"`
	Reason   string `json:"reason"`
}

// Toggle handles POST /api/accounts/:email/health/toggle - the operator
// override for one (account, model) pair
func (h *HealthHandler) Toggle(c *gin.Context) {
	email := c.Param("email")

	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError([]errors.FieldError{
			{Field: "body", Message: "model and disabled are required"},
		}))
		return
	}

	snapshot, err := h.tracker.ToggleModel(email, req.Model, *req.Disabled, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"success": true,
		"email":   email,
		"health":  snapshot,
	})
}

// toggleModelRequest is the body of the per-model toggle route
type toggleModelRequest struct {
	Enabled *bool  `json:"enabled" binding:"required"`
	Reason  string `json:"reason"`
}

// ToggleModel handles POST /api/accounts/:email/models/:modelId/toggle.
// Path-addressed variant of Toggle; enabled=false disables the pair.
func (h *HealthHandler) ToggleModel(c *gin.Context) {
	email := c.Param("email")
	modelID := c.Param("modelId")

	var req toggleModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError([]errors.FieldError{
			{Field: "enabled", Message: "enabled is required"},
		}))
		return
	}

	snapshot, err := h.tracker.ToggleModel(email, modelID, !*req.Enabled, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"success": true,
		"email":   email,
		"health":  snapshot,
	})
}

// resetRequest is the body of a health reset call; an empty model resets
// every model of the account
type resetRequest struct {
	Model string `json:"model"`
}

// Reset handles POST /api/accounts/:email/health/reset
func (h *HealthHandler) Reset(c *gin.Context) {
	email := c.Param("email")

	var req resetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, errors.NewValidationError([]errors.FieldError{
				{Field: "body", Message: "invalid JSON: " + err.Error()},
			}))
			return
		}
	}

	if err := h.tracker.ResetHealth(email, req.Model); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"success": true,
		"email":   email,
		"model":   req.Model,
	})
}
