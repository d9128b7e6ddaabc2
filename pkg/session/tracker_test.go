package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(DefaultConfig(), zerolog.Nop())
}

func TestExtractTopics(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "remember that",
			text: "Please remember that deploys are frozen on Fridays.",
			want: []string{"deploys are frozen on Fridays"},
		},
		{
			name: "working on",
			text: "I'm working on the billing service today",
			want: []string{"billing service today"},
		},
		{
			name: "file mention",
			text: "Look at file internal/config/loader.go please",
			want: []string{"internal/config/loader.go"},
		},
		{
			name: "nothing",
			text: "ok thanks",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractTopics(tc.text))
		})
	}
}

func TestRecordActivity(t *testing.T) {
	tr := newTracker(t)

	tr.RecordActivity("remember that the API key lives in vault")
	tr.RecordActivity("what's the weather")

	snap := tr.Snapshot()
	assert.Equal(t, 2, snap.MessageCount)
	assert.NotEmpty(t, snap.ID)
	assert.False(t, snap.Flushed)
	require.Len(t, snap.Topics, 1)
	assert.Contains(t, snap.Topics[0], "API key")
}

func TestTopicsBounded(t *testing.T) {
	tr := newTracker(t)
	for i := 0; i < maxTopics+50; i++ {
		tr.RecordActivity("working on component" + string(rune('a'+i%26)) + "-" + time.Duration(i).String())
	}
	assert.LessOrEqual(t, len(tr.Snapshot().Topics), maxTopics)
}

func TestFlushInvokesCallbacks(t *testing.T) {
	tr := newTracker(t)

	var mu sync.Mutex
	var got []string
	tr.OnFlush(func(_ context.Context, summary string) error {
		mu.Lock()
		got = append(got, summary)
		mu.Unlock()
		return nil
	})

	tr.RecordActivity("remember that retro is Thursday")
	tr.RecordActivity("second message")
	tr.Flush(context.Background(), "manual")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "2 messages")
	assert.Contains(t, got[0], "manual")
	assert.Contains(t, got[0], "retro is Thursday")
}

func TestFlushSkipsEmptySession(t *testing.T) {
	tr := newTracker(t)

	called := false
	tr.OnFlush(func(context.Context, string) error {
		called = true
		return nil
	})

	tr.Flush(context.Background(), "manual")
	assert.False(t, called, "a session with no activity must not flush")
}

func TestFlushIdempotentUntilNewActivity(t *testing.T) {
	tr := newTracker(t)

	calls := 0
	tr.OnFlush(func(context.Context, string) error {
		calls++
		return nil
	})

	tr.RecordActivity("hello")
	tr.Flush(context.Background(), "manual")
	tr.Flush(context.Background(), "manual")
	assert.Equal(t, 1, calls)

	// New activity re-arms the flush.
	tr.RecordActivity("more")
	tr.Flush(context.Background(), "manual")
	assert.Equal(t, 2, calls)
}

func TestFlushCallbackErrorIsSwallowed(t *testing.T) {
	tr := newTracker(t)

	second := false
	tr.OnFlush(func(context.Context, string) error {
		return errors.New("persist failed")
	})
	tr.OnFlush(func(context.Context, string) error {
		second = true
		return nil
	})

	tr.RecordActivity("hello")
	tr.Flush(context.Background(), "manual")
	assert.True(t, second, "a failing callback must not stop the rest")
}

func TestInactivityFlush(t *testing.T) {
	cfg := Config{InactivityFlush: 50 * time.Millisecond, CheckInterval: 10 * time.Millisecond}
	tr := NewTracker(cfg, zerolog.Nop())

	var mu sync.Mutex
	flushes := 0
	tr.OnFlush(func(context.Context, string) error {
		mu.Lock()
		flushes++
		mu.Unlock()
		return nil
	})

	tr.RecordActivity("hello")
	tr.Start()
	defer tr.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return flushes == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Idle after a flush stays flushed; no repeat.
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, flushes)
}

func TestStopFlushesActiveSession(t *testing.T) {
	tr := NewTracker(Config{InactivityFlush: time.Hour, CheckInterval: time.Hour}, zerolog.Nop())

	flushed := false
	var reason string
	tr.OnFlush(func(_ context.Context, summary string) error {
		flushed = true
		reason = summary
		return nil
	})

	tr.Start()
	tr.RecordActivity("hello")
	tr.Stop()

	assert.True(t, flushed)
	assert.Contains(t, reason, "shutdown")
}

func TestNewSessionResets(t *testing.T) {
	tr := newTracker(t)
	tr.RecordActivity("working on mnemo")
	before := tr.Snapshot()

	tr.NewSession()
	after := tr.Snapshot()

	assert.NotEqual(t, before.ID, after.ID)
	assert.Zero(t, after.MessageCount)
	assert.Empty(t, after.Topics)
	assert.False(t, after.Flushed)
}
