package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/errors"
	"github.com/poemonsense/antigravity-router/internal/health"
	"github.com/poemonsense/antigravity-router/internal/router"
)

// RouteHandler exposes the account selection core to the proxy layer in
// front of it: pick an account for a request, then report how it went
type RouteHandler struct {
	router   *router.Router
	registry *account.Registry
}

// NewRouteHandler creates a new RouteHandler
func NewRouteHandler(r *router.Router, registry *account.Registry) *RouteHandler {
	return &RouteHandler{router: r, registry: registry}
}

// pickRequest is the body of a route pick call
type pickRequest struct {
	Model     string `json:"model" binding:"required"`
	SessionID string `json:"sessionId"`
}

// Pick handles POST /api/route - selects the best usable account for the
// model. 503 with a retryable error when nothing can serve.
func (h *RouteHandler) Pick(c *gin.Context) {
	var req pickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError([]errors.FieldError{
			{Field: "model", Message: "model is required"},
		}))
		return
	}

	acc, resolved, err := h.router.PickAccount(req.Model, req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"account":   acc.Email,
		"model":     resolved,
		"requestId": requestID(c),
	})
}

// outcomeRequest is the body of an outcome report
type outcomeRequest struct {
	Account    string `json:"account" binding:"required"`
	Model      string `json:"model" binding:"required"`
	Success    *bool  `json:"success" binding:"required"`
	RequestID  string `json:"requestId"`
	DurationMs int64  `json:"durationMs"`
	Error      *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Outcome handles POST /api/route/outcome - feeds a request result back
// into health tracking
func (h *RouteHandler) Outcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError([]errors.FieldError{
			{Field: "body", Message: "account, model and success are required"},
		}))
		return
	}

	acc := h.registry.Get(req.Account)
	if acc == nil {
		respondError(c, errors.NewNotFoundError("Account "+req.Account+" not found"))
		return
	}

	var errInfo *health.ResultError
	if req.Error != nil {
		errInfo = &health.ResultError{Message: req.Error.Message, Code: req.Error.Code}
	}

	rec := h.router.ReportOutcome(acc, req.Model, req.RequestID, *req.Success, req.DurationMs, errInfo)
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"health": rec,
	})
}
