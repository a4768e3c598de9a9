package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-router/internal/server/sse"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// LogsHandler serves the process log history and its live stream
type LogsHandler struct{}

// NewLogsHandler creates a new LogsHandler
func NewLogsHandler() *LogsHandler {
	return &LogsHandler{}
}

// List handles GET /api/logs
func (h *LogsHandler) List(c *gin.Context) {
	history := utils.GetLogger().GetHistory()

	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v < len(history) {
		history = history[len(history)-v:]
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"logs":   history,
		"count":  len(history),
	})
}

// Stream handles GET /api/logs/stream - history replay followed by live
// log entries over SSE
func (h *LogsHandler) Stream(c *gin.Context) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  gin.H{"code": "STREAMING_UNSUPPORTED", "message": err.Error()},
		})
		return
	}
	writer.SetHeaders()

	logger := utils.GetLogger()
	for _, entry := range logger.GetHistory() {
		if err := writer.WriteData(entry); err != nil {
			return
		}
	}

	// Buffered so a slow client drops entries instead of blocking the logger
	entries := make(chan utils.LogEntry, 100)
	detach := logger.AddListener(func(entry utils.LogEntry) {
		select {
		case entries <- entry:
		default:
		}
	})
	defer detach()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-entries:
			if err := writer.WriteData(entry); err != nil {
				return
			}
		case <-keepalive.C:
			if err := writer.WriteComment("keepalive"); err != nil {
				return
			}
		}
	}
}
