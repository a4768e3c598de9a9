package account

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poemonsense/antigravity-router/internal/events"
	"github.com/poemonsense/antigravity-router/internal/utils"
)

type fakeSink struct {
	messages []string
}

func (f *fakeSink) RecordSystem(message string, details map[string]interface{}) *events.Event {
	f.messages = append(f.messages, message)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.json")
	sink := &fakeSink{}
	return NewRegistry(NewFileStoreAt(path), sink), sink, path
}

func TestAdd(t *testing.T) {
	t.Run("adds and indexes", func(t *testing.T) {
		r, _, _ := newTestRegistry(t)
		require.NoError(t, r.Add(&Account{Email: "a@example.com", Enabled: true}))

		assert.Equal(t, 1, r.Count())
		require.NotNil(t, r.Get("a@example.com"))
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		r, _, _ := newTestRegistry(t)
		require.NoError(t, r.Add(&Account{Email: "a@example.com"}))
		assert.Error(t, r.Add(&Account{Email: "a@example.com"}))
		assert.Equal(t, 1, r.Count())
	})

	t.Run("emits a system event", func(t *testing.T) {
		r, sink, _ := newTestRegistry(t)
		require.NoError(t, r.Add(&Account{Email: "a@example.com"}))
		require.NotEmpty(t, sink.messages)
		assert.Contains(t, sink.messages[len(sink.messages)-1], "a@example.com")
	})
}

func TestRemove(t *testing.T) {
	t.Run("removes and runs hooks", func(t *testing.T) {
		r, _, _ := newTestRegistry(t)
		require.NoError(t, r.Add(&Account{Email: "a@example.com"}))

		var hooked []string
		r.OnRemove(func(email string) { hooked = append(hooked, email) })

		require.NoError(t, r.Remove("a@example.com"))
		assert.Equal(t, 0, r.Count())
		assert.Nil(t, r.Get("a@example.com"))
		assert.Equal(t, []string{"a@example.com"}, hooked)
	})

	t.Run("unknown email errors", func(t *testing.T) {
		r, _, _ := newTestRegistry(t)
		assert.Error(t, r.Remove("missing@example.com"))
	})
}

func TestSetEnabled(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.Add(&Account{Email: "a@example.com", Enabled: true}))

	require.NoError(t, r.SetEnabled("a@example.com", false))
	assert.False(t, r.Get("a@example.com").IsEnabled())

	require.NoError(t, r.SetEnabled("a@example.com", true))
	assert.True(t, r.Get("a@example.com").IsEnabled())

	assert.Error(t, r.SetEnabled("missing@example.com", true))
}

func TestPersistence(t *testing.T) {
	t.Run("health records survive a restart", func(t *testing.T) {
		r, sink, path := newTestRegistry(t)
		acc := &Account{Email: "a@example.com", Enabled: true}
		require.NoError(t, r.Add(acc))

		acc.Mu.Lock()
		rec := acc.EnsureHealth("claude-sonnet-4-5")
		rec.SuccessCount = 7
		rec.FailCount = 2
		rec.Disabled = true
		rec.DisabledReason = "consecutive_failures"
		rec.DisabledAt = utils.ISONow()
		acc.Mu.Unlock()
		require.NoError(t, r.Save())

		fresh := NewRegistry(NewFileStoreAt(path), sink)
		require.NoError(t, fresh.Load())

		restored := fresh.Get("a@example.com")
		require.NotNil(t, restored)
		health := restored.HealthSnapshot()
		require.Contains(t, health, "claude-sonnet-4-5")
		assert.Equal(t, 7, health["claude-sonnet-4-5"].SuccessCount)
		assert.True(t, health["claude-sonnet-4-5"].Disabled)
		assert.False(t, health["claude-sonnet-4-5"].DisabledAt.IsZero())
	})

	t.Run("missing store loads empty", func(t *testing.T) {
		r, _, _ := newTestRegistry(t)
		require.NoError(t, r.Load())
		assert.Equal(t, 0, r.Count())
	})
}

func TestHealthSnapshotIsDeepCopy(t *testing.T) {
	acc := &Account{Email: "a@example.com"}
	acc.Mu.Lock()
	acc.EnsureHealth("claude-sonnet-4-5").SuccessCount = 1
	acc.Mu.Unlock()

	snap := acc.HealthSnapshot()
	snap["claude-sonnet-4-5"].SuccessCount = 99

	acc.Mu.Lock()
	assert.Equal(t, 1, acc.Health["claude-sonnet-4-5"].SuccessCount)
	acc.Mu.Unlock()
}
