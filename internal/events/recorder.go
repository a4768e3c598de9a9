package events

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

// DefaultQueryLimit is the page size when a query passes no limit
const DefaultQueryLimit = 100

// MaxQueryLimit caps a single query page
const MaxQueryLimit = 1000

// Recorder is the append-only event log. Recording never fails: snapshot
// and delivery problems are logged, never surfaced to the caller.
type Recorder struct {
	mu      sync.Mutex
	events  []*Event
	pending []*Event
	seq     uint64
	dirty   bool

	// streamMu makes one goroutine the dispatcher at a time and serializes
	// delivery against new subscriptions. Events queue in pending under r.mu
	// in append order and the dispatcher drains them in that order, so a
	// subscriber sees every event exactly once and in record order: either in
	// its history batch or as a live frame, never both, never neither.
	streamMu sync.Mutex

	cfg    *config.Config
	path   string
	broker *Broker

	listenerMu sync.Mutex
	listeners  []func(*Event)

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRecorder creates a recorder persisting to the default events snapshot
func NewRecorder(cfg *config.Config) *Recorder {
	return NewRecorderAt(cfg, config.EventsFilePath)
}

// NewRecorderAt creates a recorder persisting to a custom path (tests)
func NewRecorderAt(cfg *config.Config, path string) *Recorder {
	r := &Recorder{
		cfg:      cfg,
		path:     path,
		broker:   NewBroker(),
		stopChan: make(chan struct{}),
	}
	r.load()
	return r
}

// load restores the event log from its snapshot. A corrupt snapshot starts
// an empty log; the parse error is logged, not fatal.
func (r *Recorder) load() {
	if !utils.FileExists(r.path) {
		return
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		utils.Error("[Events] Failed to read snapshot %s: %v", r.path, err)
		return
	}
	var events []*Event
	if err := json.Unmarshal(data, &events); err != nil {
		utils.Error("[Events] Corrupt snapshot %s, starting empty: %v", r.path, err)
		return
	}
	r.events = events
	utils.Info("[Events] Restored %d event(s) from snapshot", len(events))
}

// save flushes the current log to the snapshot file. Caller holds r.mu.
func (r *Recorder) saveLocked() error {
	if err := utils.EnsureParentDir(r.path); err != nil {
		return err
	}
	data, err := json.Marshal(r.events)
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

// Flush persists the log if it has unsaved events
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.dirty {
		return
	}
	if err := r.saveLocked(); err != nil {
		utils.Error("[Events] Failed to write snapshot: %v", err)
	}
}

// Record appends an event, assigning its id and timestamp, then delivers it
// to stream subscribers and listeners. The returned event is the stored one.
func (r *Recorder) Record(evt *Event) *Event {
	now := utils.NowMs()

	r.mu.Lock()
	r.seq++
	evt.ID = fmt.Sprintf("evt_%013d_%06d", now, r.seq)
	evt.Timestamp = utils.ISOTime(now)
	if evt.Severity == "" {
		evt.Severity = SeverityInfo
	}
	r.events = append(r.events, evt)
	r.pending = append(r.pending, evt)
	r.dirty = true
	r.mu.Unlock()

	r.logEvent(evt)
	r.dispatch()

	return evt
}

// dispatch drains the pending queue to subscribers and listeners. Whoever
// holds streamMu drains everything queued so far, so a Record call may
// return with its event delivered by a concurrent recorder, but delivery
// always follows append order and completes before Record returns.
func (r *Recorder) dispatch() {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()

	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return
		}
		batch := r.pending
		r.pending = nil
		r.mu.Unlock()

		for _, evt := range batch {
			r.broker.Broadcast(evt)

			r.listenerMu.Lock()
			listeners := make([]func(*Event), len(r.listeners))
			copy(listeners, r.listeners)
			r.listenerMu.Unlock()
			for _, fn := range listeners {
				fn(evt)
			}
		}
	}
}

// logEvent mirrors the event into the process log at a matching level
func (r *Recorder) logEvent(evt *Event) {
	switch evt.Severity {
	case SeverityError:
		utils.Error("[Events] %s: %s", evt.Type, evt.Message)
	case SeverityWarn:
		utils.Warn("[Events] %s: %s", evt.Type, evt.Message)
	default:
		utils.Debug("[Events] %s: %s", evt.Type, evt.Message)
	}
}

// AddListener registers a callback invoked synchronously for every recorded
// event, in record order (the issue aggregator attaches here). Listeners
// run on the dispatching goroutine and must not record events themselves.
func (r *Recorder) AddListener(fn func(*Event)) {
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenerMu.Unlock()
}

// Subscribe attaches an SSE subscriber. The subscriber first receives a
// connected frame, then a single batch frame with the newest historyLimit
// events in chronological order, then live frames. Returns the detach
// function.
func (r *Recorder) Subscribe(sub Subscriber, historyLimit int) func() {
	// zero means the default batch; negative disables history replay
	if historyLimit == 0 {
		historyLimit = DefaultQueryLimit
	}

	r.streamMu.Lock()
	defer r.streamMu.Unlock()

	connected, err := Frame(map[string]interface{}{
		"type":      "connected",
		"timestamp": utils.ISONow(),
	})
	if err == nil {
		if err := sub.Write(connected); err != nil {
			return func() {}
		}
	}

	if historyLimit > 0 {
		history := r.historyTail(historyLimit)
		if batch, err := Frame(history); err == nil {
			if err := sub.Write(batch); err != nil {
				return func() {}
			}
		}
	}

	r.broker.Add(sub)
	return func() { r.broker.Remove(sub) }
}

// historyTail returns the newest limit already-delivered events in
// chronological order. Events still queued for dispatch are excluded; the
// new subscriber receives those as live frames once the dispatcher runs.
// Caller holds streamMu.
func (r *Recorder) historyTail(limit int) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := len(r.events) - len(r.pending)
	if delivered < 0 {
		delivered = 0
	}
	start := delivered - limit
	if start < 0 {
		start = 0
	}
	out := make([]*Event, delivered-start)
	copy(out, r.events[start:delivered])
	return out
}

// Tail returns the newest limit events in chronological order
func (r *Recorder) Tail(limit int) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := len(r.events) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*Event, len(r.events)-start)
	copy(out, r.events[start:])
	return out
}

// GetEvents returns matching events newest-first with the total match count
// before pagination
func (r *Recorder) GetEvents(f Filter) ([]*Event, int) {
	r.mu.Lock()
	matched := make([]*Event, 0)
	for _, evt := range r.events {
		if f.Matches(evt) {
			matched = append(matched, evt)
		}
	}
	r.mu.Unlock()

	// reverse into newest-first
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	total := len(matched)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total
}

// GetStats aggregates events, optionally restricted to a window and to one
// account or model. The request success rate is a percentage with one
// decimal, 100 when no requests matched.
func (r *Recorder) GetStats(sinceMs int64, accountEmail, model string) *Stats {
	stats := &Stats{
		ByType:     make(map[EventType]int),
		BySeverity: make(map[Severity]int),
		ByAccount:  make(map[string]int),
		ByModel:    make(map[string]int),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, evt := range r.events {
		if sinceMs > 0 && evt.Timestamp.Ms() < sinceMs {
			continue
		}
		if accountEmail != "" && evt.Account != accountEmail {
			continue
		}
		if model != "" && evt.Model != model {
			continue
		}

		stats.Total++
		stats.ByType[evt.Type]++
		stats.BySeverity[evt.Severity]++
		if evt.Account != "" {
			stats.ByAccount[evt.Account]++
		}
		if evt.Model != "" {
			stats.ByModel[evt.Model]++
		}

		if evt.Type == EventRequest {
			stats.Requests.Total++
			if success, ok := evt.Details["success"].(bool); ok && success {
				stats.Requests.Success++
			} else {
				stats.Requests.Failed++
			}
		}
	}

	if stats.Requests.Total == 0 {
		stats.Requests.SuccessRate = 100
	} else {
		rate := float64(stats.Requests.Success) / float64(stats.Requests.Total)
		stats.Requests.SuccessRate = math.Round(rate*1000) / 10
	}
	return stats
}

// Clear drops the whole log, persists the empty snapshot immediately, and
// returns the number of events removed
func (r *Recorder) Clear() int {
	r.mu.Lock()
	n := len(r.events)
	r.events = make([]*Event, 0)
	r.dirty = true
	if err := r.saveLocked(); err != nil {
		utils.Error("[Events] Failed to write snapshot: %v", err)
	}
	r.mu.Unlock()

	utils.Info("[Events] Cleared %d event(s)", n)
	return n
}

// Prune applies the retention policy: drop events older than the retention
// window, then trim the oldest until the log fits the max count. Returns
// the number of events dropped.
func (r *Recorder) Prune() int {
	hc := r.cfg.GetHealth()
	cutoff := utils.NowMs() - int64(hc.EventRetentionDays)*24*60*60*1000

	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.events)

	// events are stored in record order, so the first young event marks the
	// retention boundary
	idx := 0
	for idx < len(r.events) && r.events[idx].Timestamp.Ms() < cutoff {
		idx++
	}
	if idx > 0 {
		r.events = append([]*Event(nil), r.events[idx:]...)
	}

	if over := len(r.events) - hc.EventMaxCount; over > 0 {
		r.events = append([]*Event(nil), r.events[over:]...)
	}

	dropped := before - len(r.events)
	if dropped > 0 {
		r.dirty = true
		utils.Debug("[Events] Pruned %d event(s)", dropped)
	}
	return dropped
}

// StartBackground runs the periodic snapshot and prune loops
func (r *Recorder) StartBackground() {
	go func() {
		snapshot := time.NewTicker(time.Duration(config.SnapshotIntervalMs) * time.Millisecond)
		prune := time.NewTicker(time.Duration(config.PruneIntervalMs) * time.Millisecond)
		defer snapshot.Stop()
		defer prune.Stop()
		for {
			select {
			case <-snapshot.C:
				r.Flush()
			case <-prune.C:
				r.Prune()
			case <-r.stopChan:
				return
			}
		}
	}()
}

// Stop terminates the background loops and flushes any unsaved events
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.Flush()
}

// Count returns the number of events currently held
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// RecordRequest records a completed proxy request
func (r *Recorder) RecordRequest(accountEmail, model, requestID string, success bool, durationMs int64) *Event {
	severity := SeverityInfo
	message := fmt.Sprintf("Request completed on %s via %s", model, accountEmail)
	if !success {
		severity = SeverityWarn
		message = fmt.Sprintf("Request failed on %s via %s", model, accountEmail)
	}
	return r.Record(&Event{
		Type:      EventRequest,
		Severity:  severity,
		Account:   accountEmail,
		Model:     model,
		RequestID: requestID,
		Message:   message,
		Details: map[string]interface{}{
			"success":    success,
			"durationMs": durationMs,
		},
	})
}

// RecordRateLimit records an upstream 429
func (r *Recorder) RecordRateLimit(accountEmail, model, requestID string, resetMs int64) *Event {
	details := map[string]interface{}{}
	if resetMs > 0 {
		details["resetMs"] = resetMs
	}
	return r.Record(&Event{
		Type:      EventRateLimit,
		Severity:  SeverityWarn,
		Account:   accountEmail,
		Model:     model,
		RequestID: requestID,
		Message:   fmt.Sprintf("Rate limit hit on %s via %s", model, accountEmail),
		Details:   details,
	})
}

// RecordAuthFailure records a credential rejection
func (r *Recorder) RecordAuthFailure(accountEmail, reason, requestID string) *Event {
	return r.Record(&Event{
		Type:      EventAuthFailure,
		Severity:  SeverityError,
		Account:   accountEmail,
		RequestID: requestID,
		Message:   fmt.Sprintf("Authentication failed for %s: %s", accountEmail, reason),
		Details:   map[string]interface{}{"reason": reason},
	})
}

// RecordAPIError records an upstream error response
func (r *Recorder) RecordAPIError(accountEmail, model, requestID string, statusCode int, message string) *Event {
	return r.Record(&Event{
		Type:      EventAPIError,
		Severity:  SeverityError,
		Account:   accountEmail,
		Model:     model,
		RequestID: requestID,
		Message:   fmt.Sprintf("API error %d on %s via %s: %s", statusCode, model, accountEmail, message),
		Details: map[string]interface{}{
			"statusCode": statusCode,
			"error":      message,
		},
	})
}

// RecordFallback records a model downgrade
func (r *Recorder) RecordFallback(accountEmail, fromModel, toModel, reason string) *Event {
	return r.Record(&Event{
		Type:     EventFallback,
		Severity: SeverityWarn,
		Account:  accountEmail,
		Model:    fromModel,
		Message:  fmt.Sprintf("Model fallback %s -> %s via %s", fromModel, toModel, accountEmail),
		Details: map[string]interface{}{
			"fromModel": fromModel,
			"toModel":   toModel,
			"reason":    reason,
		},
	})
}

// RecordAccountSwitch records a mid-session account change
func (r *Recorder) RecordAccountSwitch(fromEmail, toEmail, model, reason, requestID string) *Event {
	return r.Record(&Event{
		Type:      EventAccountSwitch,
		Severity:  SeverityInfo,
		Account:   toEmail,
		Model:     model,
		RequestID: requestID,
		Message:   fmt.Sprintf("Account switch %s -> %s for %s", fromEmail, toEmail, model),
		Details: map[string]interface{}{
			"fromAccount": fromEmail,
			"toAccount":   toEmail,
			"reason":      reason,
		},
	})
}

// RecordHealthChange records a pair disable or recovery. Disables are
// errors, recoveries info.
func (r *Recorder) RecordHealthChange(accountEmail, modelID, change, trigger string, details map[string]interface{}) *Event {
	severity := SeverityInfo
	message := fmt.Sprintf("Model %s recovered for %s (%s)", modelID, accountEmail, trigger)
	if change == "disabled" {
		severity = SeverityError
		message = fmt.Sprintf("Model %s disabled for %s (%s)", modelID, accountEmail, trigger)
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	details["change"] = change
	details["trigger"] = trigger
	return r.Record(&Event{
		Type:     EventHealthChange,
		Severity: severity,
		Account:  accountEmail,
		Model:    modelID,
		Message:  message,
		Details:  details,
	})
}

// RecordSystem records a lifecycle or administrative event
func (r *Recorder) RecordSystem(message string, details map[string]interface{}) *Event {
	return r.Record(&Event{
		Type:     EventSystem,
		Severity: SeverityInfo,
		Message:  message,
		Details:  details,
	})
}
