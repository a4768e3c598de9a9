// Package account provides the account registry and per-account health state.
package account

import (
	"encoding/json"
	"sync"

	"github.com/poemonsense/antigravity-router/internal/utils"
)

// ErrorStamp records the last error observed for an (account, model) pair
type ErrorStamp struct {
	Message   string        `json:"message"`
	Code      string        `json:"code,omitempty"`
	Timestamp utils.ISOTime `json:"timestamp"`
}

// HealthRecord is the health state of a single (account, model) pair.
// healthScore is always derivable from the three counters; disabled is the
// auto-disable flag while manualDisabled is the operator override and is
// never touched by automatic transitions.
type HealthRecord struct {
	SuccessCount        int           `json:"successCount"`
	FailCount           int           `json:"failCount"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastSuccess         utils.ISOTime `json:"lastSuccess,omitempty"`
	LastError           *ErrorStamp   `json:"lastError,omitempty"`
	HealthScore         float64       `json:"healthScore"`
	Disabled            bool          `json:"disabled"`
	ManualDisabled      bool          `json:"manualDisabled"`
	DisabledReason      string        `json:"disabledReason,omitempty"`
	DisabledAt          utils.ISOTime `json:"disabledAt,omitempty"`
}

// NewHealthRecord returns a fresh record (score 100, no history)
func NewHealthRecord() *HealthRecord {
	return &HealthRecord{HealthScore: 100}
}

// Clone returns a deep copy of the record
func (r *HealthRecord) Clone() *HealthRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.LastError != nil {
		le := *r.LastError
		out.LastError = &le
	}
	return &out
}

// Account is a single upstream account. Email is the stable identifier and
// never changes after creation. The Health map is keyed by model id and
// created lazily on first recorded result.
//
// Mu serializes health mutation for this account; cross-account operations
// take one account lock at a time, never two.
type Account struct {
	Mu sync.Mutex `json:"-"`

	Email     string                   `json:"email"`
	Enabled   bool                     `json:"enabled"`
	ProjectID string                   `json:"projectId,omitempty"`
	Source    string                   `json:"source,omitempty"`
	Limits    map[string]interface{}   `json:"limits,omitempty"`
	LastUsed  int64                    `json:"lastUsed,omitempty"`
	Health    map[string]*HealthRecord `json:"health,omitempty"`
}

// accountJSON is the wire shape of an Account, marshaled under the lock
type accountJSON struct {
	Email     string                   `json:"email"`
	Enabled   bool                     `json:"enabled"`
	ProjectID string                   `json:"projectId,omitempty"`
	Source    string                   `json:"source,omitempty"`
	Limits    map[string]interface{}   `json:"limits,omitempty"`
	LastUsed  int64                    `json:"lastUsed,omitempty"`
	Health    map[string]*HealthRecord `json:"health,omitempty"`
}

// MarshalJSON implements json.Marshaler; it snapshots health under the
// account lock so persistence never races a recordResult
func (a *Account) MarshalJSON() ([]byte, error) {
	a.Mu.Lock()
	snap := accountJSON{
		Email:     a.Email,
		Enabled:   a.Enabled,
		ProjectID: a.ProjectID,
		Source:    a.Source,
		Limits:    a.Limits,
		LastUsed:  a.LastUsed,
	}
	if len(a.Health) > 0 {
		snap.Health = make(map[string]*HealthRecord, len(a.Health))
		for model, rec := range a.Health {
			snap.Health[model] = rec.Clone()
		}
	}
	a.Mu.Unlock()
	return json.Marshal(snap)
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Account) UnmarshalJSON(data []byte) error {
	var raw accountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Email = raw.Email
	a.Enabled = raw.Enabled
	a.ProjectID = raw.ProjectID
	a.Source = raw.Source
	a.Limits = raw.Limits
	a.LastUsed = raw.LastUsed
	a.Health = raw.Health
	return nil
}

// IsEnabled reads the enabled flag under the account lock
func (a *Account) IsEnabled() bool {
	a.Mu.Lock()
	defer a.Mu.Unlock()
	return a.Enabled
}

// EnsureHealth returns the record for modelID, creating a fresh one if the
// pair has never been seen. Caller must hold the account lock.
func (a *Account) EnsureHealth(modelID string) *HealthRecord {
	if a.Health == nil {
		a.Health = make(map[string]*HealthRecord)
	}
	rec, ok := a.Health[modelID]
	if !ok {
		rec = NewHealthRecord()
		a.Health[modelID] = rec
	}
	return rec
}

// HealthSnapshot returns a deep copy of all health records
func (a *Account) HealthSnapshot() map[string]*HealthRecord {
	a.Mu.Lock()
	defer a.Mu.Unlock()
	out := make(map[string]*HealthRecord, len(a.Health))
	for model, rec := range a.Health {
		out[model] = rec.Clone()
	}
	return out
}
