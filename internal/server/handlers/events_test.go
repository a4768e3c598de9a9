package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamHistoryLimit(t *testing.T) {
	t.Run("no history unless requested", func(t *testing.T) {
		assert.Equal(t, -1, streamHistoryLimit("", ""))
		assert.Equal(t, -1, streamHistoryLimit("false", ""))
		// a bare limit does not turn replay on
		assert.Equal(t, -1, streamHistoryLimit("", "50"))
	})

	t.Run("history=true uses the default batch", func(t *testing.T) {
		assert.Equal(t, 0, streamHistoryLimit("true", ""))
		assert.Equal(t, 0, streamHistoryLimit("true", "not-a-number"))
		assert.Equal(t, 0, streamHistoryLimit("true", "-5"))
	})

	t.Run("history=true with a limit sizes the batch", func(t *testing.T) {
		assert.Equal(t, 25, streamHistoryLimit("true", "25"))
	})
}

func TestParseSince(t *testing.T) {
	assert.Equal(t, int64(0), parseSince(""))
	assert.Equal(t, int64(1700000000000), parseSince("1700000000000"))
	assert.Equal(t, int64(0), parseSince("garbage"))

	ms := parseSince("2026-01-02T15:04:05Z")
	assert.Greater(t, ms, int64(0))
}
