package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-router/internal/issues"
)

// IssuesHandler serves the aggregated issue list and its lifecycle actions
type IssuesHandler struct {
	aggregator *issues.Aggregator
}

// NewIssuesHandler creates a new IssuesHandler
func NewIssuesHandler(aggregator *issues.Aggregator) *IssuesHandler {
	return &IssuesHandler{aggregator: aggregator}
}

// List handles GET /api/issues with an optional status filter
func (h *IssuesHandler) List(c *gin.Context) {
	status := issues.IssueStatus(c.Query("status"))
	list := h.aggregator.List(status)
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"issues": list,
		"count":  len(list),
	})
}

// Active handles GET /api/issues/active, the dashboard banner feed
func (h *IssuesHandler) Active(c *gin.Context) {
	list := h.aggregator.List(issues.StatusActive)
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"issues": list,
		"count":  len(list),
	})
}

// Stats handles GET /api/issues/stats
func (h *IssuesHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"stats":  h.aggregator.GetStats(),
	})
}

// Acknowledge handles POST /api/issues/:id/acknowledge
func (h *IssuesHandler) Acknowledge(c *gin.Context) {
	issue, err := h.aggregator.Acknowledge(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"issue":  issue,
	})
}

// Resolve handles POST /api/issues/:id/resolve
func (h *IssuesHandler) Resolve(c *gin.Context) {
	issue, err := h.aggregator.Resolve(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"issue":  issue,
	})
}
