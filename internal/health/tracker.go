// Package health tracks per-(account, model) reliability and drives the
// auto-disable / auto-recovery lifecycle.
package health

import (
	"time"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/errors"
	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// maxConsecutivePenalty caps the score penalty from a failure streak
const (
	consecutivePenaltyStep = 6.0
	maxConsecutivePenalty  = 30.0
)

// EventSink receives the events the tracker emits. The event recorder
// satisfies it; tests supply a fake.
type EventSink interface {
	RecordHealthChange(accountEmail, modelID, change, trigger string, details map[string]interface{}) *events.Event
	RecordSystem(message string, details map[string]interface{}) *events.Event
}

// ResultError carries error context into RecordResult
type ResultError struct {
	Message string
	Code    string
}

// Tracker mutates health records under each account's lock and emits
// health_change events after the lock is released. Tracking operations
// never return errors; persistence problems are logged and absorbed.
type Tracker struct {
	cfg      *config.Config
	registry *account.Registry
	events   EventSink

	stopChan chan struct{}
}

// NewTracker creates a health tracker
func NewTracker(cfg *config.Config, registry *account.Registry, events EventSink) *Tracker {
	return &Tracker{
		cfg:      cfg,
		registry: registry,
		events:   events,
		stopChan: make(chan struct{}),
	}
}

// computeScore derives the health score from the counters:
// 100 when no requests recorded, else the success ratio out of 100 minus a
// capped penalty for the current failure streak, clamped to [0, 100].
func computeScore(rec *account.HealthRecord) float64 {
	total := rec.SuccessCount + rec.FailCount
	if total == 0 {
		return 100
	}
	base := 100 * float64(rec.SuccessCount) / float64(total)
	penalty := float64(rec.ConsecutiveFailures) * consecutivePenaltyStep
	if penalty > maxConsecutivePenalty {
		penalty = maxConsecutivePenalty
	}
	return utils.ClampFloat(base-penalty, 0, 100)
}

// pendingChange is a health_change emission deferred until after the
// account lock is released
type pendingChange struct {
	change  string
	trigger string
	details map[string]interface{}
}

// RecordResult updates the health record for (acc, modelID) after a request
// outcome and returns a snapshot of the updated record
func (t *Tracker) RecordResult(acc *account.Account, modelID string, success bool, errInfo *ResultError) *account.HealthRecord {
	hc := t.cfg.GetHealth()
	var pending []pendingChange

	acc.Mu.Lock()
	rec := acc.EnsureHealth(modelID)

	if success {
		rec.SuccessCount++
		rec.ConsecutiveFailures = 0
		rec.LastSuccess = utils.ISONow()
		if rec.Disabled && !rec.ManualDisabled {
			rec.Disabled = false
			rec.DisabledReason = ""
			rec.DisabledAt = 0
			pending = append(pending, pendingChange{
				change:  "recovered",
				trigger: "successful_request",
			})
		}
	} else {
		rec.FailCount++
		rec.ConsecutiveFailures++
		stamp := &account.ErrorStamp{Timestamp: utils.ISONow()}
		if errInfo != nil {
			stamp.Message = errInfo.Message
			stamp.Code = errInfo.Code
		}
		rec.LastError = stamp

		if hc.AutoDisableEnabled && !rec.Disabled && !rec.ManualDisabled &&
			rec.ConsecutiveFailures >= hc.ConsecutiveFailureThreshold {
			rec.Disabled = true
			rec.DisabledReason = "consecutive_failures"
			rec.DisabledAt = utils.ISONow()
			pending = append(pending, pendingChange{
				change:  "disabled",
				trigger: "consecutive_failures",
				details: map[string]interface{}{
					"consecutiveFailures": rec.ConsecutiveFailures,
					"threshold":           hc.ConsecutiveFailureThreshold,
				},
			})
		}
	}

	rec.HealthScore = computeScore(rec)
	snapshot := rec.Clone()
	acc.Mu.Unlock()

	t.emit(acc.Email, modelID, pending)
	return snapshot
}

// IsModelUsable reports whether (acc, modelID) may serve traffic. A pair
// past its auto-recovery window is recovered here as a side effect, so a
// burst of traffic can revive a disabled pair without waiting for the sweep.
func (t *Tracker) IsModelUsable(acc *account.Account, modelID string) bool {
	hc := t.cfg.GetHealth()
	var pending []pendingChange

	acc.Mu.Lock()
	rec, ok := acc.Health[modelID]
	if !ok {
		acc.Mu.Unlock()
		return true
	}
	if rec.ManualDisabled {
		acc.Mu.Unlock()
		return false
	}
	usable := true
	if rec.Disabled {
		if t.recoveryDue(rec, hc) {
			t.recoverLocked(rec)
			pending = append(pending, pendingChange{
				change:  "recovered",
				trigger: "auto_recovery_timeout",
				details: map[string]interface{}{
					"autoRecoveryMs": hc.AutoRecoveryMs,
				},
			})
		} else {
			usable = false
		}
	}
	acc.Mu.Unlock()

	t.emit(acc.Email, modelID, pending)
	return usable
}

// recoveryDue reports whether the auto-recovery window has elapsed. Caller
// holds the account lock.
func (t *Tracker) recoveryDue(rec *account.HealthRecord, hc config.HealthConfig) bool {
	if rec.DisabledAt.IsZero() {
		return true
	}
	return utils.NowMs()-rec.DisabledAt.Ms() > hc.AutoRecoveryMs
}

// recoverLocked clears the auto-disable flag and gives the pair a clean
// streak. Caller holds the account lock.
func (t *Tracker) recoverLocked(rec *account.HealthRecord) {
	rec.Disabled = false
	rec.DisabledReason = ""
	rec.DisabledAt = 0
	rec.ConsecutiveFailures = 0
	rec.HealthScore = computeScore(rec)
}

// ToggleModel sets or clears the operator override for (email, modelID).
// Enabling also clears any automatic disable so the pair is immediately
// schedulable again. Returns the account's health snapshot after the change.
func (t *Tracker) ToggleModel(email, modelID string, disabled bool, reason string) (map[string]*account.HealthRecord, error) {
	acc := t.registry.Get(email)
	if acc == nil {
		return nil, errors.NewNotFoundError("Account " + email + " not found")
	}

	var pending []pendingChange
	acc.Mu.Lock()
	rec := acc.EnsureHealth(modelID)
	if disabled {
		rec.ManualDisabled = true
		if reason == "" {
			reason = "manual"
		}
		rec.DisabledReason = reason
		rec.DisabledAt = utils.ISONow()
		pending = append(pending, pendingChange{
			change:  "disabled",
			trigger: "manual",
			details: map[string]interface{}{"reason": reason},
		})
	} else {
		rec.ManualDisabled = false
		rec.Disabled = false
		rec.DisabledReason = ""
		rec.DisabledAt = 0
		rec.ConsecutiveFailures = 0
		rec.HealthScore = computeScore(rec)
		pending = append(pending, pendingChange{
			change:  "recovered",
			trigger: "manual",
		})
	}
	acc.Mu.Unlock()

	// snapshot taken now so callers never have to look the account up again
	snapshot := acc.HealthSnapshot()

	t.emit(email, modelID, pending)
	if err := t.registry.Save(); err != nil {
		utils.Warn("[Health] Failed to persist accounts after toggle: %v", err)
	}
	return snapshot, nil
}

// ResetHealth discards health state for one model of an account, or for all
// models when modelID is empty
func (t *Tracker) ResetHealth(email, modelID string) error {
	acc := t.registry.Get(email)
	if acc == nil {
		return errors.NewNotFoundError("Account " + email + " not found")
	}

	acc.Mu.Lock()
	if modelID == "" {
		acc.Health = make(map[string]*account.HealthRecord)
	} else {
		delete(acc.Health, modelID)
	}
	acc.Mu.Unlock()

	scope := modelID
	if scope == "" {
		scope = "all models"
	}
	if t.events != nil {
		t.events.RecordSystem("Health reset for "+email+" ("+scope+")", map[string]interface{}{
			"email": email,
			"model": modelID,
		})
	}
	if err := t.registry.Save(); err != nil {
		utils.Warn("[Health] Failed to persist accounts after reset: %v", err)
	}
	return nil
}

// ModelHealth is one cell of the health matrix
type ModelHealth struct {
	HealthScore         float64             `json:"healthScore"`
	Status              string              `json:"status"`
	SuccessCount        int                 `json:"successCount"`
	FailCount           int                 `json:"failCount"`
	ConsecutiveFailures int                 `json:"consecutiveFailures"`
	LastSuccess         utils.ISOTime       `json:"lastSuccess,omitempty"`
	LastError           *account.ErrorStamp `json:"lastError,omitempty"`
	Disabled            bool                `json:"disabled"`
	ManualDisabled      bool                `json:"manualDisabled"`
	DisabledReason      string              `json:"disabledReason,omitempty"`
	Usable              bool                `json:"usable"`
}

// AccountHealth is one row of the health matrix
type AccountHealth struct {
	Email   string                  `json:"email"`
	Enabled bool                    `json:"enabled"`
	Models  map[string]*ModelHealth `json:"models"`
}

// Matrix is the full accounts x models health view
type Matrix struct {
	Accounts  []AccountHealth `json:"accounts"`
	Models    []string        `json:"models"`
	Generated utils.ISOTime   `json:"generated"`
}

// status buckets a record by score and disable flags
func status(rec *account.HealthRecord, hc config.HealthConfig) string {
	if rec.Disabled || rec.ManualDisabled {
		return "disabled"
	}
	if rec.HealthScore < hc.CriticalThreshold {
		return "critical"
	}
	if rec.HealthScore < hc.WarningThreshold {
		return "warning"
	}
	return "healthy"
}

// BuildHealthMatrix assembles the accounts x models view. Pairs with no
// recorded traffic appear as fresh records (score 100, usable). An empty
// models list means the default model set.
func (t *Tracker) BuildHealthMatrix(models []string) *Matrix {
	if len(models) == 0 {
		models = config.DefaultModels
	}
	hc := t.cfg.GetHealth()

	accounts := t.registry.List()
	matrix := &Matrix{
		Accounts:  make([]AccountHealth, 0, len(accounts)),
		Models:    models,
		Generated: utils.ISONow(),
	}

	for _, acc := range accounts {
		row := AccountHealth{
			Email:  acc.Email,
			Models: make(map[string]*ModelHealth, len(models)),
		}
		acc.Mu.Lock()
		row.Enabled = acc.Enabled
		for _, model := range models {
			rec, ok := acc.Health[model]
			if !ok {
				rec = account.NewHealthRecord()
			}
			cell := &ModelHealth{
				HealthScore:         rec.HealthScore,
				Status:              status(rec, hc),
				SuccessCount:        rec.SuccessCount,
				FailCount:           rec.FailCount,
				ConsecutiveFailures: rec.ConsecutiveFailures,
				LastSuccess:         rec.LastSuccess,
				Disabled:            rec.Disabled,
				ManualDisabled:      rec.ManualDisabled,
				DisabledReason:      rec.DisabledReason,
				Usable:              !rec.Disabled && !rec.ManualDisabled,
			}
			if rec.LastError != nil {
				le := *rec.LastError
				cell.LastError = &le
			}
			row.Models[model] = cell
		}
		acc.Mu.Unlock()
		matrix.Accounts = append(matrix.Accounts, row)
	}

	return matrix
}

// Summary is the aggregate health overview
type Summary struct {
	TotalAccounts   int           `json:"totalAccounts"`
	EnabledAccounts int           `json:"enabledAccounts"`
	Healthy         int           `json:"healthy"`
	Warning         int           `json:"warning"`
	Critical        int           `json:"critical"`
	Disabled        int           `json:"disabled"`
	AverageScore    float64       `json:"averageScore"`
	Timestamp       utils.ISOTime `json:"timestamp"`
}

// GetHealthSummary aggregates tracked pairs across all accounts. Only pairs
// with recorded state are counted; the average is 100 when nothing has been
// tracked yet.
func (t *Tracker) GetHealthSummary() *Summary {
	hc := t.cfg.GetHealth()
	summary := &Summary{Timestamp: utils.ISONow()}

	var scoreSum float64
	var pairs int
	for _, acc := range t.registry.List() {
		summary.TotalAccounts++
		acc.Mu.Lock()
		if acc.Enabled {
			summary.EnabledAccounts++
		}
		for _, rec := range acc.Health {
			pairs++
			scoreSum += rec.HealthScore
			switch status(rec, hc) {
			case "disabled":
				summary.Disabled++
			case "critical":
				summary.Critical++
			case "warning":
				summary.Warning++
			default:
				summary.Healthy++
			}
		}
		acc.Mu.Unlock()
	}

	if pairs == 0 {
		summary.AverageScore = 100
	} else {
		summary.AverageScore = scoreSum / float64(pairs)
	}
	return summary
}

// StartRecoverySweep runs the periodic pass that recovers disabled pairs
// whose window elapsed even when no traffic touches them
func (t *Tracker) StartRecoverySweep() {
	go func() {
		ticker := time.NewTicker(time.Duration(config.RecoverySweepIntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.SweepRecoveries()
			case <-t.stopChan:
				return
			}
		}
	}()
	utils.Info("[Health] Auto-recovery sweep started (every %s)",
		utils.FormatDuration(config.RecoverySweepIntervalMs))
}

// SweepRecoveries recovers every auto-disabled pair whose recovery window
// has elapsed. Returns the number of pairs recovered.
func (t *Tracker) SweepRecoveries() int {
	hc := t.cfg.GetHealth()
	recovered := 0

	for _, acc := range t.registry.List() {
		var pending []struct {
			model string
			p     pendingChange
		}
		acc.Mu.Lock()
		for model, rec := range acc.Health {
			if rec.Disabled && !rec.ManualDisabled && t.recoveryDue(rec, hc) {
				t.recoverLocked(rec)
				pending = append(pending, struct {
					model string
					p     pendingChange
				}{model, pendingChange{
					change:  "recovered",
					trigger: "auto_recovery_timeout",
					details: map[string]interface{}{
						"autoRecoveryMs": hc.AutoRecoveryMs,
					},
				}})
			}
		}
		acc.Mu.Unlock()

		for _, item := range pending {
			recovered++
			t.emit(acc.Email, item.model, []pendingChange{item.p})
		}
	}

	if recovered > 0 {
		utils.Info("[Health] Auto-recovery sweep recovered %d pair(s)", recovered)
	}
	return recovered
}

// Stop terminates the recovery sweep
func (t *Tracker) Stop() {
	select {
	case <-t.stopChan:
	default:
		close(t.stopChan)
	}
}

func (t *Tracker) emit(email, modelID string, pending []pendingChange) {
	if t.events == nil {
		return
	}
	for _, p := range pending {
		t.events.RecordHealthChange(email, modelID, p.change, p.trigger, p.details)
	}
}
