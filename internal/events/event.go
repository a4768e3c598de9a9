// Package events provides the append-only event log and its live stream.
package events

import (
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// EventType classifies an event
type EventType string

const (
	EventRequest       EventType = "request"
	EventRateLimit     EventType = "rate_limit"
	EventAuthFailure   EventType = "auth_failure"
	EventAPIError      EventType = "api_error"
	EventFallback      EventType = "fallback"
	EventAccountSwitch EventType = "account_switch"
	EventHealthChange  EventType = "health_change"
	EventSystem        EventType = "system"
)

// Severity is the operator-facing weight of an event
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is a single immutable record of a system occurrence. ID is unique
// and sortable (ids assigned later always compare greater).
type Event struct {
	ID        string                 `json:"id"`
	Timestamp utils.ISOTime          `json:"timestamp"`
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Account   string                 `json:"account,omitempty"`
	Model     string                 `json:"model,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Clone returns a shallow copy of the event (Details map shared; events are
// immutable once recorded)
func (e *Event) Clone() *Event {
	out := *e
	return &out
}

// Filter selects events for GetEvents
type Filter struct {
	Type      EventType
	Account   string
	Model     string
	Severity  Severity
	RequestID string
	SinceMs   int64
	Limit     int
	Offset    int
}

// Matches reports whether the event passes the filter
func (f Filter) Matches(e *Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Account != "" && e.Account != f.Account {
		return false
	}
	if f.Model != "" && e.Model != f.Model {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.SinceMs > 0 && e.Timestamp.Ms() < f.SinceMs {
		return false
	}
	return true
}

// RequestStats summarizes request events over a stats window
type RequestStats struct {
	Total       int     `json:"total"`
	Success     int     `json:"success"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

// Stats is the aggregate view returned by GetStats
type Stats struct {
	Total      int                  `json:"total"`
	ByType     map[EventType]int    `json:"byType"`
	BySeverity map[Severity]int     `json:"bySeverity"`
	ByAccount  map[string]int       `json:"byAccount"`
	ByModel    map[string]int       `json:"byModel"`
	Requests   RequestStats         `json:"requests"`
}
