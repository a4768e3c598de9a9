// Package router selects the upstream account for each request based on
// health state, with sticky per-session pinning.
package router

import (
	"sort"
	"sync"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/errors"
	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/health"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// EventSink is the slice of the recorder the router emits through
type EventSink interface {
	RecordAccountSwitch(fromEmail, toEmail, model, reason, requestID string) *events.Event
	RecordRequest(accountEmail, model, requestID string, success bool, durationMs int64) *events.Event
}

// Router picks accounts for requests. Selection order: fewest consecutive
// failures, then highest health score, then stalest last success (never
// used counts as stalest), then email ascending as the final tie break, so
// selection is deterministic for identical health state.
type Router struct {
	cfg      *config.Config
	registry *account.Registry
	tracker  *health.Tracker
	events   EventSink

	pinMu sync.Mutex
	pins  map[string]string // session id -> account email
}

// NewRouter creates a router. It registers a registry remove hook so pins
// to removed accounts are dropped immediately.
func NewRouter(cfg *config.Config, registry *account.Registry, tracker *health.Tracker, sink EventSink) *Router {
	r := &Router{
		cfg:      cfg,
		registry: registry,
		tracker:  tracker,
		events:   sink,
		pins:     make(map[string]string),
	}
	registry.OnRemove(r.DropPins)
	return r
}

// candidate is a health snapshot used for ordering
type candidate struct {
	acc           *account.Account
	consecutive   int
	score         float64
	lastSuccessMs int64
}

// PickAccount resolves the model through the configured mapping, then picks
// the best usable account for it. sessionID may be empty; when set, the
// session sticks to its previous account while that account stays usable.
// Returns the account, the resolved model id, and an UnavailableError when
// nothing can serve.
func (r *Router) PickAccount(modelID, sessionID string) (*account.Account, string, error) {
	resolved := r.cfg.ResolveModel(modelID)

	var pinned string
	if sessionID != "" {
		r.pinMu.Lock()
		pinned = r.pins[sessionID]
		r.pinMu.Unlock()

		if pinned != "" {
			if acc := r.registry.Get(pinned); acc != nil && acc.IsEnabled() && r.tracker.IsModelUsable(acc, resolved) {
				r.markUsed(acc)
				return acc, resolved, nil
			}
		}
	}

	best := r.pickBest(resolved)
	if best == nil {
		return nil, resolved, errors.NewUnavailableError(resolved, "")
	}

	if sessionID != "" {
		r.pinMu.Lock()
		r.pins[sessionID] = best.Email
		r.pinMu.Unlock()

		if pinned != "" && pinned != best.Email {
			utils.Info("[Router] Session %s switched %s -> %s for %s",
				utils.TruncateString(sessionID, 12), pinned, best.Email, resolved)
			if r.events != nil {
				r.events.RecordAccountSwitch(pinned, best.Email, resolved, "pinned_account_unusable", "")
			}
		}
	}

	r.markUsed(best)
	return best, resolved, nil
}

// pickBest returns the highest-ranked usable account for the model, or nil
func (r *Router) pickBest(modelID string) *account.Account {
	var candidates []candidate
	for _, acc := range r.registry.List() {
		if !acc.IsEnabled() {
			continue
		}
		if !r.tracker.IsModelUsable(acc, modelID) {
			continue
		}

		acc.Mu.Lock()
		c := candidate{acc: acc, score: 100}
		if rec, ok := acc.Health[modelID]; ok {
			c.consecutive = rec.ConsecutiveFailures
			c.score = rec.HealthScore
			c.lastSuccessMs = rec.LastSuccess.Ms()
		}
		acc.Mu.Unlock()
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.consecutive != b.consecutive {
			return a.consecutive < b.consecutive
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if a.lastSuccessMs != b.lastSuccessMs {
			return a.lastSuccessMs < b.lastSuccessMs
		}
		return a.acc.Email < b.acc.Email
	})

	return candidates[0].acc
}

// markUsed stamps the account's last-used time
func (r *Router) markUsed(acc *account.Account) {
	acc.Mu.Lock()
	acc.LastUsed = utils.NowMs()
	acc.Mu.Unlock()
}

// ReportOutcome feeds a request result into the health tracker and records
// the request event
func (r *Router) ReportOutcome(acc *account.Account, modelID, requestID string, success bool, durationMs int64, errInfo *health.ResultError) *account.HealthRecord {
	rec := r.tracker.RecordResult(acc, modelID, success, errInfo)
	if r.events != nil {
		r.events.RecordRequest(acc.Email, modelID, requestID, success, durationMs)
	}
	return rec
}

// PinnedAccount returns the account email pinned to a session, if any
func (r *Router) PinnedAccount(sessionID string) string {
	r.pinMu.Lock()
	defer r.pinMu.Unlock()
	return r.pins[sessionID]
}

// DropPins removes every session pin pointing at the given account
func (r *Router) DropPins(email string) {
	r.pinMu.Lock()
	defer r.pinMu.Unlock()
	for session, pinned := range r.pins {
		if pinned == email {
			delete(r.pins, session)
		}
	}
}

// DropSession forgets one session's pin
func (r *Router) DropSession(sessionID string) {
	r.pinMu.Lock()
	defer r.pinMu.Unlock()
	delete(r.pins, sessionID)
}

// PinCount returns the number of live session pins
func (r *Router) PinCount() int {
	r.pinMu.Lock()
	defer r.pinMu.Unlock()
	return len(r.pins)
}
