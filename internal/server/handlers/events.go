package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/server/sse"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// keepaliveInterval is how often an SSE comment is sent on idle streams
const keepaliveInterval = 30 * time.Second

// EventsHandler serves the event log and its live stream
type EventsHandler struct {
	recorder *events.Recorder
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(recorder *events.Recorder) *EventsHandler {
	return &EventsHandler{recorder: recorder}
}

// parseSince accepts an ISO-8601 timestamp or epoch milliseconds
func parseSince(raw string) int64 {
	if raw == "" {
		return 0
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMilli()
	}
	return 0
}

// List handles GET /api/events - filtered, newest-first, paginated
func (h *EventsHandler) List(c *gin.Context) {
	filter := events.Filter{
		Type:      events.EventType(c.Query("type")),
		Account:   c.Query("account"),
		Model:     c.Query("model"),
		Severity:  events.Severity(c.Query("severity")),
		RequestID: c.Query("requestId"),
		SinceMs:   parseSince(c.Query("since")),
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil {
		filter.Offset = v
	}

	matched, total := h.recorder.GetEvents(filter)
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"events": matched,
		"total":  total,
		"offset": filter.Offset,
	})
}

// Stats handles GET /api/events/stats
func (h *EventsHandler) Stats(c *gin.Context) {
	stats := h.recorder.GetStats(parseSince(c.Query("since")), c.Query("account"), c.Query("model"))
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"stats":  stats,
	})
}

// Clear handles DELETE /api/events
func (h *EventsHandler) Clear(c *gin.Context) {
	cleared := h.recorder.Clear()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"success": true,
		"cleared": cleared,
	})
}

// streamHistoryLimit maps the stream query to a subscribe limit. History
// replay is opt-in: no batch unless history=true, and limit then sizes it
// (zero means the recorder default).
func streamHistoryLimit(history, limit string) int {
	if history != "true" {
		return -1
	}
	if v, err := strconv.Atoi(limit); err == nil && v > 0 {
		return v
	}
	return 0
}

// Stream handles GET /api/events/stream. The client first receives a
// connected frame, then, when history=true, the recent history as one
// batch, then each new event as its own frame.
func (h *EventsHandler) Stream(c *gin.Context) {
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  gin.H{"code": "STREAMING_UNSUPPORTED", "message": err.Error()},
		})
		return
	}
	writer.SetHeaders()

	unsubscribe := h.recorder.Subscribe(writer, streamHistoryLimit(c.Query("history"), c.Query("limit")))
	defer unsubscribe()

	utils.Debug("[Events] Stream client connected from %s", c.ClientIP())

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			utils.Debug("[Events] Stream client disconnected from %s", c.ClientIP())
			return
		case <-keepalive.C:
			if err := writer.WriteComment("keepalive"); err != nil {
				return
			}
		}
	}
}
