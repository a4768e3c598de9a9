package events

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	frames [][]byte
	fail   bool
}

func (s *fakeSubscriber) Write(frame []byte) error {
	if s.fail {
		return errors.New("client gone")
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

// decodeFrame strips the SSE framing and unmarshals the payload
func decodeFrame(t *testing.T, frame []byte, dest interface{}) {
	t.Helper()
	text := string(frame)
	require.True(t, strings.HasPrefix(text, "data: "))
	require.True(t, strings.HasSuffix(text, "\n\n"))
	payload := strings.TrimSuffix(strings.TrimPrefix(text, "data: "), "\n\n")
	require.NoError(t, json.Unmarshal([]byte(payload), dest))
}

func TestBroker(t *testing.T) {
	t.Run("broadcasts to every subscriber", func(t *testing.T) {
		b := NewBroker()
		s1, s2 := &fakeSubscriber{}, &fakeSubscriber{}
		b.Add(s1)
		b.Add(s2)

		b.Broadcast(&Event{ID: "evt_1", Type: EventSystem, Message: "hello"})
		assert.Len(t, s1.frames, 1)
		assert.Len(t, s2.frames, 1)
	})

	t.Run("reaps dead subscribers", func(t *testing.T) {
		b := NewBroker()
		dead := &fakeSubscriber{fail: true}
		alive := &fakeSubscriber{}
		b.Add(dead)
		b.Add(alive)

		b.Broadcast(&Event{ID: "evt_1", Type: EventSystem})
		assert.Equal(t, 1, b.Count())

		b.Broadcast(&Event{ID: "evt_2", Type: EventSystem})
		assert.Len(t, alive.frames, 2)
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("connected frame then history batch then live frames", func(t *testing.T) {
		r, _ := newTestRecorder(t)
		for i := 0; i < 10; i++ {
			r.RecordSystem("history", nil)
		}

		sub := &fakeSubscriber{}
		unsubscribe := r.Subscribe(sub, 5)
		defer unsubscribe()

		require.Len(t, sub.frames, 2)

		var connected map[string]interface{}
		decodeFrame(t, sub.frames[0], &connected)
		assert.Equal(t, "connected", connected["type"])

		var batch []*Event
		decodeFrame(t, sub.frames[1], &batch)
		require.Len(t, batch, 5)
		// newest five, in chronological order
		for i := 1; i < len(batch); i++ {
			assert.Less(t, batch[i-1].ID, batch[i].ID)
		}

		live := r.RecordSystem("live", nil)
		require.Len(t, sub.frames, 3)

		var got Event
		decodeFrame(t, sub.frames[2], &got)
		assert.Equal(t, live.ID, got.ID)
		assert.Equal(t, "live", got.Message)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		r, _ := newTestRecorder(t)
		sub := &fakeSubscriber{}
		unsubscribe := r.Subscribe(sub, 0)

		r.RecordSystem("before", nil)
		unsubscribe()
		r.RecordSystem("after", nil)

		// connected + empty batch + one live frame
		assert.Len(t, sub.frames, 3)
	})

	t.Run("negative history limit skips the batch", func(t *testing.T) {
		r, _ := newTestRecorder(t)
		r.RecordSystem("old", nil)

		sub := &fakeSubscriber{}
		defer r.Subscribe(sub, -1)()

		require.Len(t, sub.frames, 1)
		var connected map[string]interface{}
		decodeFrame(t, sub.frames[0], &connected)
		assert.Equal(t, "connected", connected["type"])
	})

	t.Run("concurrent recording keeps frames in append order", func(t *testing.T) {
		r, _ := newTestRecorder(t)
		sub := &fakeSubscriber{}
		defer r.Subscribe(sub, -1)()

		const goroutines, perGoroutine = 8, 200
		var wg sync.WaitGroup
		for g := 0; g < goroutines; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perGoroutine; i++ {
					r.RecordSystem("burst", nil)
				}
			}()
		}
		wg.Wait()

		require.Len(t, sub.frames, 1+goroutines*perGoroutine)
		prev := ""
		for i, frame := range sub.frames[1:] {
			var evt Event
			decodeFrame(t, frame, &evt)
			if prev != "" {
				require.Greaterf(t, evt.ID, prev, "frame %d delivered out of append order", i)
			}
			prev = evt.ID
		}
	})

	t.Run("history batch respects a short log", func(t *testing.T) {
		r, _ := newTestRecorder(t)
		r.RecordSystem("only", nil)

		sub := &fakeSubscriber{}
		defer r.Subscribe(sub, 100)()

		var batch []*Event
		decodeFrame(t, sub.frames[1], &batch)
		assert.Len(t, batch, 1)
	})
}
