// Package issues condenses the raw event stream into actionable operator
// issues with an explicit lifecycle.
package issues

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/errors"
	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// IssueType identifies the detection rule that raised an issue
type IssueType string

const (
	IssueRateLimitStreak IssueType = "rate_limit_streak"
	IssueAuthFailure     IssueType = "auth_failure"
	IssueModelExhausted  IssueType = "model_exhausted"
	IssueHealthDegraded  IssueType = "health_degraded"
)

// IssueSeverity ranks an issue for the operator
type IssueSeverity string

const (
	SeverityMedium IssueSeverity = "medium"
	SeverityHigh   IssueSeverity = "high"
)

// IssueStatus is the lifecycle state: active -> acknowledged -> resolved,
// with resolved terminal
type IssueStatus string

const (
	StatusActive       IssueStatus = "active"
	StatusAcknowledged IssueStatus = "acknowledged"
	StatusResolved     IssueStatus = "resolved"
)

const (
	// rateLimitWindowMs is the sliding window for the rate-limit streak rule
	rateLimitWindowMs = 10 * 60 * 1000
	// rateLimitStreakCount is how many rate limits within the window raise
	// an issue
	rateLimitStreakCount = 3
	// maxRetainedIssues caps the in-memory list; oldest resolved issues are
	// dropped first
	maxRetainedIssues = 500
)

// Issue is one operator-facing problem derived from the event stream. At
// most one unresolved issue exists per (type, account, model) key; repeat
// triggers bump Count and LastSeen instead of opening duplicates.
type Issue struct {
	ID         string        `json:"id"`
	Type       IssueType     `json:"type"`
	Severity   IssueSeverity `json:"severity"`
	Status     IssueStatus   `json:"status"`
	Account    string        `json:"account,omitempty"`
	Model      string        `json:"model,omitempty"`
	Title      string        `json:"title"`
	Count      int           `json:"count"`
	FirstSeen  utils.ISOTime `json:"firstSeen"`
	LastSeen   utils.ISOTime `json:"lastSeen"`
	ResolvedAt utils.ISOTime `json:"resolvedAt,omitempty"`
	Resolution string        `json:"resolution,omitempty"`
}

// Clone returns a copy of the issue
func (i *Issue) Clone() *Issue {
	out := *i
	return &out
}

// Stats summarizes the issue list
type Stats struct {
	Total      int                   `json:"total"`
	ByStatus   map[IssueStatus]int   `json:"byStatus"`
	BySeverity map[IssueSeverity]int `json:"bySeverity"`
	ByType     map[IssueType]int     `json:"byType"`
}

// Aggregator watches the event stream and the health state and maintains
// the issue list. Attach it to a recorder with Attach; run Sweep on a timer
// for the rules that need the passage of time.
type Aggregator struct {
	mu     sync.Mutex
	issues []*Issue
	byKey  map[string]*Issue

	// rateWindow holds recent rate_limit timestamps per (account, model)
	rateWindow map[string][]int64
	// degradedSince tracks when a pair's score first dipped below critical
	degradedSince map[string]int64

	cfg      *config.Config
	registry *account.Registry

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewAggregator creates an issue aggregator
func NewAggregator(cfg *config.Config, registry *account.Registry) *Aggregator {
	return &Aggregator{
		byKey:         make(map[string]*Issue),
		rateWindow:    make(map[string][]int64),
		degradedSince: make(map[string]int64),
		cfg:           cfg,
		registry:      registry,
		stopChan:      make(chan struct{}),
	}
}

// Attach subscribes the aggregator to the recorder's event feed
func (a *Aggregator) Attach(recorder *events.Recorder) {
	recorder.AddListener(a.HandleEvent)
}

func issueKey(t IssueType, accountEmail, model string) string {
	return string(t) + "|" + accountEmail + "|" + model
}

func pairKey(accountEmail, model string) string {
	return accountEmail + "|" + model
}

// HandleEvent feeds one event through the detection rules
func (a *Aggregator) HandleEvent(evt *events.Event) {
	switch evt.Type {
	case events.EventRateLimit:
		a.onRateLimit(evt)
	case events.EventAuthFailure:
		a.raise(IssueAuthFailure, SeverityHigh, evt.Account, "",
			fmt.Sprintf("Authentication failing for %s", evt.Account))
	case events.EventRequest:
		if success, ok := evt.Details["success"].(bool); ok && success {
			a.selfResolve(IssueAuthFailure, evt.Account, "", "request succeeded")
		}
	case events.EventHealthChange:
		change, _ := evt.Details["change"].(string)
		switch change {
		case "disabled":
			a.raise(IssueModelExhausted, SeverityHigh, evt.Account, evt.Model,
				fmt.Sprintf("Model %s exhausted on %s", evt.Model, evt.Account))
		case "recovered":
			a.selfResolve(IssueModelExhausted, evt.Account, evt.Model, "pair recovered")
		}
	}
}

func (a *Aggregator) onRateLimit(evt *events.Event) {
	now := utils.NowMs()
	key := pairKey(evt.Account, evt.Model)

	a.mu.Lock()
	window := a.rateWindow[key]
	window = append(window, now)
	// drop timestamps outside the sliding window
	cutoff := now - rateLimitWindowMs
	for len(window) > 0 && window[0] < cutoff {
		window = window[1:]
	}
	a.rateWindow[key] = window
	streak := len(window)
	a.mu.Unlock()

	if streak >= rateLimitStreakCount {
		a.raise(IssueRateLimitStreak, SeverityMedium, evt.Account, evt.Model,
			fmt.Sprintf("Repeated rate limits on %s via %s", evt.Model, evt.Account))
	}
}

// raise opens an issue, or bumps the existing unresolved one for the same
// (type, account, model)
func (a *Aggregator) raise(t IssueType, sev IssueSeverity, accountEmail, model, title string) {
	now := utils.ISONow()
	key := issueKey(t, accountEmail, model)

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.byKey[key]; ok {
		existing.Count++
		existing.LastSeen = now
		return
	}

	issue := &Issue{
		ID:        "iss_" + uuid.New().String(),
		Type:      t,
		Severity:  sev,
		Status:    StatusActive,
		Account:   accountEmail,
		Model:     model,
		Title:     title,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	a.issues = append(a.issues, issue)
	a.byKey[key] = issue
	a.trimLocked()

	utils.Warn("[Issues] Opened %s issue: %s", t, title)
}

// selfResolve closes the unresolved issue for the key when its condition
// has cleared
func (a *Aggregator) selfResolve(t IssueType, accountEmail, model, reason string) {
	key := issueKey(t, accountEmail, model)

	a.mu.Lock()
	issue, ok := a.byKey[key]
	if ok {
		issue.Status = StatusResolved
		issue.ResolvedAt = utils.ISONow()
		issue.Resolution = "auto: " + reason
		delete(a.byKey, key)
	}
	a.mu.Unlock()

	if ok {
		utils.Info("[Issues] Self-resolved %s issue for %s (%s)", t, accountEmail, reason)
	}
}

// trimLocked enforces the retention cap, dropping oldest resolved issues
// first. Caller holds a.mu.
func (a *Aggregator) trimLocked() {
	if len(a.issues) <= maxRetainedIssues {
		return
	}
	kept := make([]*Issue, 0, len(a.issues))
	over := len(a.issues) - maxRetainedIssues
	for _, issue := range a.issues {
		if over > 0 && issue.Status == StatusResolved {
			over--
			continue
		}
		kept = append(kept, issue)
	}
	a.issues = kept
}

// List returns issues newest-first, optionally filtered by status
func (a *Aggregator) List(status IssueStatus) []*Issue {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Issue, 0, len(a.issues))
	for i := len(a.issues) - 1; i >= 0; i-- {
		issue := a.issues[i]
		if status != "" && issue.Status != status {
			continue
		}
		out = append(out, issue.Clone())
	}
	return out
}

// Get returns the issue with the given id, or nil
func (a *Aggregator) Get(id string) *Issue {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, issue := range a.issues {
		if issue.ID == id {
			return issue.Clone()
		}
	}
	return nil
}

// GetStats summarizes the current issue list
func (a *Aggregator) GetStats() *Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := &Stats{
		ByStatus:   make(map[IssueStatus]int),
		BySeverity: make(map[IssueSeverity]int),
		ByType:     make(map[IssueType]int),
	}
	for _, issue := range a.issues {
		stats.Total++
		stats.ByStatus[issue.Status]++
		stats.BySeverity[issue.Severity]++
		stats.ByType[issue.Type]++
	}
	return stats
}

// Acknowledge moves an active issue to acknowledged
func (a *Aggregator) Acknowledge(id string) (*Issue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, issue := range a.issues {
		if issue.ID != id {
			continue
		}
		if issue.Status != StatusActive {
			return nil, errors.NewRouterError(
				fmt.Sprintf("Issue %s is %s, only active issues can be acknowledged", id, issue.Status),
				"INVALID_TRANSITION", false, nil)
		}
		issue.Status = StatusAcknowledged
		return issue.Clone(), nil
	}
	return nil, errors.NewNotFoundError("Issue " + id + " not found")
}

// Resolve moves an unresolved issue to resolved. Resolution is terminal.
func (a *Aggregator) Resolve(id string) (*Issue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, issue := range a.issues {
		if issue.ID != id {
			continue
		}
		if issue.Status == StatusResolved {
			return nil, errors.NewRouterError(
				"Issue "+id+" is already resolved", "INVALID_TRANSITION", false, nil)
		}
		issue.Status = StatusResolved
		issue.ResolvedAt = utils.ISONow()
		issue.Resolution = "manual"
		delete(a.byKey, issueKey(issue.Type, issue.Account, issue.Model))
		return issue.Clone(), nil
	}
	return nil, errors.NewNotFoundError("Issue " + id + " not found")
}

// Sweep runs the time-based rules: raise health_degraded for pairs whose
// score stays below the critical threshold, resolve it when the score
// climbs back, and expire rate-limit streak issues that stopped triggering
func (a *Aggregator) Sweep() {
	hc := a.cfg.GetHealth()
	now := utils.NowMs()

	type degraded struct {
		email string
		model string
		score float64
	}
	var below []degraded
	seen := make(map[string]bool)

	for _, acc := range a.registry.List() {
		acc.Mu.Lock()
		for model, rec := range acc.Health {
			key := pairKey(acc.Email, model)
			seen[key] = true
			if rec.HealthScore < hc.CriticalThreshold && !rec.Disabled && !rec.ManualDisabled {
				below = append(below, degraded{acc.Email, model, rec.HealthScore})
			} else {
				a.mu.Lock()
				delete(a.degradedSince, key)
				a.mu.Unlock()
				a.selfResolve(IssueHealthDegraded, acc.Email, model, "score recovered")
			}
		}
		acc.Mu.Unlock()
	}

	for _, d := range below {
		key := pairKey(d.email, d.model)
		a.mu.Lock()
		since, ok := a.degradedSince[key]
		if !ok {
			a.degradedSince[key] = now
			a.mu.Unlock()
			continue
		}
		sustained := now-since >= hc.StaleIssueMs
		a.mu.Unlock()
		if sustained {
			a.raise(IssueHealthDegraded, SeverityMedium, d.email, d.model,
				fmt.Sprintf("Health critically low on %s via %s (score %.1f)", d.model, d.email, d.score))
		}
	}

	// forget tracking for pairs that no longer exist
	a.mu.Lock()
	for key := range a.degradedSince {
		if !seen[key] {
			delete(a.degradedSince, key)
		}
	}
	a.mu.Unlock()

	a.expireStale(now, hc.StaleIssueMs)
}

// expireStale self-resolves streak issues whose last trigger is older than
// the stale window
func (a *Aggregator) expireStale(now, staleMs int64) {
	a.mu.Lock()
	var stale []*Issue
	for _, issue := range a.byKey {
		if issue.Type == IssueRateLimitStreak && now-issue.LastSeen.Ms() >= staleMs {
			stale = append(stale, issue)
		}
	}
	a.mu.Unlock()

	for _, issue := range stale {
		a.selfResolve(issue.Type, issue.Account, issue.Model, "no recent rate limits")
	}
}

// DropAccount resolves every unresolved issue for a removed account. Wired
// as a registry remove hook.
func (a *Aggregator) DropAccount(email string) {
	a.mu.Lock()
	var open []*Issue
	for _, issue := range a.byKey {
		if issue.Account == email {
			open = append(open, issue)
		}
	}
	for key := range a.rateWindow {
		if keyAccount(key) == email {
			delete(a.rateWindow, key)
		}
	}
	for key := range a.degradedSince {
		if keyAccount(key) == email {
			delete(a.degradedSince, key)
		}
	}
	a.mu.Unlock()

	for _, issue := range open {
		a.selfResolve(issue.Type, issue.Account, issue.Model, "account removed")
	}
}

func keyAccount(pairKey string) string {
	for i := 0; i < len(pairKey); i++ {
		if pairKey[i] == '|' {
			return pairKey[:i]
		}
	}
	return pairKey
}

// StartSweep runs the periodic sweep loop
func (a *Aggregator) StartSweep() {
	go func() {
		ticker := time.NewTicker(time.Duration(config.IssueSweepIntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Sweep()
			case <-a.stopChan:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stopChan) })
}
