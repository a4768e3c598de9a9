package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/errors"
)

// AccountsHandler serves account membership operations
type AccountsHandler struct {
	registry *account.Registry
}

// NewAccountsHandler creates a new AccountsHandler
func NewAccountsHandler(registry *account.Registry) *AccountsHandler {
	return &AccountsHandler{registry: registry}
}

// List handles GET /api/accounts
func (h *AccountsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"accounts": h.registry.List(),
		"count":    h.registry.Count(),
	})
}

// addRequest is the body of an account add call
type addRequest struct {
	Email     string `json:"email" binding:"required"`
	ProjectID string `json:"projectId"`
	Enabled   *bool  `json:"enabled"`
}

// Add handles POST /api/accounts
func (h *AccountsHandler) Add(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError([]errors.FieldError{
			{Field: "email", Message: "email is required"},
		}))
		return
	}

	if h.registry.Count() >= config.MaxAccounts {
		respondError(c, errors.NewValidationError([]errors.FieldError{
			{Field: "email", Message: "account limit reached"},
		}))
		return
	}

	acc := &account.Account{
		Email:     req.Email,
		ProjectID: req.ProjectID,
		Enabled:   true,
		Source:    "manual",
	}
	if req.Enabled != nil {
		acc.Enabled = *req.Enabled
	}

	if err := h.registry.Add(acc); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "ok",
		"account": acc,
	})
}

// Remove handles DELETE /api/accounts/:email
func (h *AccountsHandler) Remove(c *gin.Context) {
	email := c.Param("email")
	if err := h.registry.Remove(email); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"email":  email,
	})
}

// enableRequest is the body of an account enable/disable call
type enableRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetEnabled handles PATCH /api/accounts/:email
func (h *AccountsHandler) SetEnabled(c *gin.Context) {
	email := c.Param("email")

	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError([]errors.FieldError{
			{Field: "enabled", Message: "enabled is required"},
		}))
		return
	}

	if err := h.registry.SetEnabled(email, *req.Enabled); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"account": h.registry.Get(email),
	})
}

// Reload handles POST /api/accounts/reload - rereads the credential store
// and merges the desktop app identity
func (h *AccountsHandler) Reload(c *gin.Context) {
	if err := h.registry.Reload(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"count":  h.registry.Count(),
	})
}
