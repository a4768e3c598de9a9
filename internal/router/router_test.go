package router

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poemonsense/antigravity-router/internal/account"
	"github.com/poemonsense/antigravity-router/internal/config"
	"github.com/poemonsense/antigravity-router/internal/errors"
	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/health"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

type switchRecord struct {
	from, to, model string
}

type fakeSink struct {
	switches []switchRecord
	requests int
}

func (f *fakeSink) RecordAccountSwitch(fromEmail, toEmail, model, reason, requestID string) *events.Event {
	f.switches = append(f.switches, switchRecord{fromEmail, toEmail, model})
	return nil
}

func (f *fakeSink) RecordRequest(accountEmail, model, requestID string, success bool, durationMs int64) *events.Event {
	f.requests++
	return nil
}

func (f *fakeSink) RecordHealthChange(string, string, string, string, map[string]interface{}) *events.Event {
	return nil
}

func (f *fakeSink) RecordSystem(string, map[string]interface{}) *events.Event { return nil }

func newTestRouter(t *testing.T) (*Router, *account.Registry, *health.Tracker, *fakeSink, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.SetPath(filepath.Join(dir, "config.json"))

	sink := &fakeSink{}
	store := account.NewFileStoreAt(filepath.Join(dir, "accounts.json"))
	registry := account.NewRegistry(store, sink)
	tracker := health.NewTracker(cfg, registry, sink)
	rt := NewRouter(cfg, registry, tracker, sink)

	return rt, registry, tracker, sink, cfg
}

func addAccount(t *testing.T, registry *account.Registry, email string) *account.Account {
	t.Helper()
	acc := &account.Account{Email: email, Enabled: true}
	require.NoError(t, registry.Add(acc))
	return acc
}

const model = "claude-sonnet-4-5"

func TestPickAccountOrdering(t *testing.T) {
	t.Run("fewest consecutive failures wins", func(t *testing.T) {
		rt, registry, tracker, _, _ := newTestRouter(t)
		accA := addAccount(t, registry, "a@example.com")
		addAccount(t, registry, "b@example.com")

		// a has one consecutive failure, b is clean
		tracker.RecordResult(accA, model, false, nil)

		picked, resolved, err := rt.PickAccount(model, "")
		require.NoError(t, err)
		assert.Equal(t, model, resolved)
		assert.Equal(t, "b@example.com", picked.Email)
	})

	t.Run("higher score breaks the tie", func(t *testing.T) {
		rt, registry, tracker, _, _ := newTestRouter(t)
		accA := addAccount(t, registry, "a@example.com")
		accB := addAccount(t, registry, "b@example.com")

		// both streak-free; a at 50%, b at 100%
		tracker.RecordResult(accA, model, false, nil)
		tracker.RecordResult(accA, model, true, nil)
		tracker.RecordResult(accB, model, true, nil)

		picked, _, err := rt.PickAccount(model, "")
		require.NoError(t, err)
		assert.Equal(t, "b@example.com", picked.Email)
	})

	t.Run("stalest last success breaks the score tie", func(t *testing.T) {
		rt, registry, _, _, _ := newTestRouter(t)
		accA := addAccount(t, registry, "a@example.com")
		accB := addAccount(t, registry, "b@example.com")

		now := utils.NowMs()
		accA.Mu.Lock()
		accA.Health = map[string]*account.HealthRecord{
			model: {SuccessCount: 5, HealthScore: 100, LastSuccess: utils.ISOTime(now)},
		}
		accA.Mu.Unlock()
		accB.Mu.Lock()
		accB.Health = map[string]*account.HealthRecord{
			model: {SuccessCount: 5, HealthScore: 100, LastSuccess: utils.ISOTime(now - 60_000)},
		}
		accB.Mu.Unlock()

		picked, _, err := rt.PickAccount(model, "")
		require.NoError(t, err)
		assert.Equal(t, "b@example.com", picked.Email)
	})

	t.Run("email ascending is the final tie break", func(t *testing.T) {
		rt, registry, _, _, _ := newTestRouter(t)
		addAccount(t, registry, "b@example.com")
		addAccount(t, registry, "a@example.com")

		picked, _, err := rt.PickAccount(model, "")
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", picked.Email)
	})
}

func TestPickAccountFiltering(t *testing.T) {
	t.Run("skips disabled accounts", func(t *testing.T) {
		rt, registry, _, _, _ := newTestRouter(t)
		addAccount(t, registry, "a@example.com")
		addAccount(t, registry, "b@example.com")
		require.NoError(t, registry.SetEnabled("a@example.com", false))

		picked, _, err := rt.PickAccount(model, "")
		require.NoError(t, err)
		assert.Equal(t, "b@example.com", picked.Email)
	})

	t.Run("skips unusable pairs", func(t *testing.T) {
		rt, registry, tracker, _, _ := newTestRouter(t)
		accA := addAccount(t, registry, "a@example.com")
		addAccount(t, registry, "b@example.com")

		for i := 0; i < 3; i++ {
			tracker.RecordResult(accA, model, false, nil)
		}

		picked, _, err := rt.PickAccount(model, "")
		require.NoError(t, err)
		assert.Equal(t, "b@example.com", picked.Email)
	})

	t.Run("unavailable when nothing can serve", func(t *testing.T) {
		rt, registry, tracker, _, _ := newTestRouter(t)
		accA := addAccount(t, registry, "a@example.com")
		for i := 0; i < 3; i++ {
			tracker.RecordResult(accA, model, false, nil)
		}

		_, _, err := rt.PickAccount(model, "")
		require.Error(t, err)
		assert.True(t, errors.IsUnavailableError(err))

		var re interface{ ToJSON() map[string]interface{} }
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "NO_USABLE_ACCOUNT", re.ToJSON()["code"])
	})

	t.Run("no accounts at all", func(t *testing.T) {
		rt, _, _, _, _ := newTestRouter(t)
		_, _, err := rt.PickAccount(model, "")
		assert.True(t, errors.IsUnavailableError(err))
	})
}

func TestModelMapping(t *testing.T) {
	rt, registry, _, _, cfg := newTestRouter(t)
	addAccount(t, registry, "a@example.com")
	cfg.ModelMapping["claude-3-sonnet"] = model

	_, resolved, err := rt.PickAccount("claude-3-sonnet", "")
	require.NoError(t, err)
	assert.Equal(t, model, resolved)
}

func TestSessionPinning(t *testing.T) {
	t.Run("session sticks to its account", func(t *testing.T) {
		rt, registry, tracker, _, _ := newTestRouter(t)
		addAccount(t, registry, "a@example.com")
		accB := addAccount(t, registry, "b@example.com")

		first, _, err := rt.PickAccount(model, "session-1")
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", first.Email)

		// make b strictly better; the pin must still hold
		tracker.RecordResult(accB, model, true, nil)

		second, _, err := rt.PickAccount(model, "session-1")
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", second.Email)
	})

	t.Run("switches and records when the pinned account dies", func(t *testing.T) {
		rt, registry, tracker, sink, _ := newTestRouter(t)
		accA := addAccount(t, registry, "a@example.com")
		addAccount(t, registry, "b@example.com")

		_, _, err := rt.PickAccount(model, "session-1")
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			tracker.RecordResult(accA, model, false, nil)
		}

		picked, _, err := rt.PickAccount(model, "session-1")
		require.NoError(t, err)
		assert.Equal(t, "b@example.com", picked.Email)

		require.Len(t, sink.switches, 1)
		assert.Equal(t, "a@example.com", sink.switches[0].from)
		assert.Equal(t, "b@example.com", sink.switches[0].to)

		// the new pin holds
		assert.Equal(t, "b@example.com", rt.PinnedAccount("session-1"))
	})

	t.Run("pins drop when the account is removed", func(t *testing.T) {
		rt, registry, _, _, _ := newTestRouter(t)
		addAccount(t, registry, "a@example.com")
		addAccount(t, registry, "b@example.com")

		_, _, err := rt.PickAccount(model, "session-1")
		require.NoError(t, err)
		require.Equal(t, "a@example.com", rt.PinnedAccount("session-1"))

		require.NoError(t, registry.Remove("a@example.com"))
		assert.Empty(t, rt.PinnedAccount("session-1"))
	})
}

func TestPickDuringEnableFlips(t *testing.T) {
	rt, registry, _, _, _ := newTestRouter(t)
	addAccount(t, registry, "a@example.com")
	addAccount(t, registry, "b@example.com")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			registry.SetEnabled("a@example.com", i%2 == 0)
		}
	}()

	for i := 0; i < 200; i++ {
		// b stays enabled throughout, so a pick always succeeds
		picked, _, err := rt.PickAccount(model, "")
		require.NoError(t, err)
		require.NotNil(t, picked)
	}
	<-done
}

func TestReportOutcome(t *testing.T) {
	rt, registry, _, sink, _ := newTestRouter(t)
	acc := addAccount(t, registry, "a@example.com")

	rec := rt.ReportOutcome(acc, model, "req_1", true, 120, nil)
	assert.Equal(t, 1, rec.SuccessCount)
	assert.Equal(t, 1, sink.requests)

	rec = rt.ReportOutcome(acc, model, "req_2", false, 80, &health.ResultError{Message: "rate limited", Code: "RATE_LIMITED"})
	assert.Equal(t, 1, rec.FailCount)
	require.NotNil(t, rec.LastError)
	assert.Equal(t, "RATE_LIMITED", rec.LastError.Code)
}
