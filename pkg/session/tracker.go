// Package session tracks conversational activity and flushes a summary of
// the session into memory once it goes quiet.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxTopics = 200

// FlushFunc persists a session summary. Registered callbacks are invoked
// best-effort: an error is logged, never propagated.
type FlushFunc func(ctx context.Context, summary string) error

// Config tunes the inactivity flush.
type Config struct {
	// InactivityFlush is how long a session may idle before it is flushed.
	InactivityFlush time.Duration
	// CheckInterval is how often the idle check runs.
	CheckInterval time.Duration
}

// DefaultConfig returns the default flush timing.
func DefaultConfig() Config {
	return Config{
		InactivityFlush: 5 * time.Minute,
		CheckInterval:   60 * time.Second,
	}
}

// Tracker watches one session at a time: start time, last activity, message
// count, and a bounded set of topics heuristically extracted from user
// messages.
type Tracker struct {
	cfg    Config
	logger zerolog.Logger

	mu           sync.Mutex
	id           string
	startedAt    time.Time
	lastActivity time.Time
	messageCount int
	topics       []string
	topicSet     map[string]bool
	flushed      bool

	callbacks []FlushFunc

	done   chan struct{}
	ticker *time.Ticker
}

// NewTracker creates a tracker with a fresh session.
func NewTracker(cfg Config, logger zerolog.Logger) *Tracker {
	if cfg.InactivityFlush <= 0 {
		cfg.InactivityFlush = 5 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 60 * time.Second
	}
	t := &Tracker{cfg: cfg, logger: logger}
	t.resetLocked(time.Now())
	return t
}

// OnFlush registers a callback invoked with the flush summary.
func (t *Tracker) OnFlush(fn FlushFunc) {
	t.mu.Lock()
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}

// Start launches the periodic inactivity check. Stop shuts it down and
// flushes a still-active session.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.done != nil {
		t.mu.Unlock()
		return
	}
	t.done = make(chan struct{})
	t.ticker = time.NewTicker(t.cfg.CheckInterval)
	t.mu.Unlock()

	go t.loop()
}

// Stop halts the checker and flushes the session if it has activity that was
// never flushed.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.done == nil {
		t.mu.Unlock()
		return
	}
	close(t.done)
	t.ticker.Stop()
	t.done = nil
	t.ticker = nil
	t.mu.Unlock()

	t.Flush(context.Background(), "shutdown")
}

func (t *Tracker) loop() {
	t.mu.Lock()
	ticker, done := t.ticker, t.done
	t.mu.Unlock()
	if ticker == nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.checkIdle(time.Now())
		}
	}
}

func (t *Tracker) checkIdle(now time.Time) {
	t.mu.Lock()
	idle := now.Sub(t.lastActivity)
	shouldFlush := !t.flushed && t.messageCount > 0 && idle >= t.cfg.InactivityFlush
	t.mu.Unlock()

	if shouldFlush {
		t.Flush(context.Background(), "inactivity")
	}
}

// RecordActivity registers a user message: bumps the counters, extracts
// topics, and re-arms the inactivity flush.
func (t *Tracker) RecordActivity(userText string) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastActivity = now
	t.messageCount++
	t.flushed = false

	for _, topic := range ExtractTopics(userText) {
		if len(t.topics) >= maxTopics {
			break
		}
		if t.topicSet[topic] {
			continue
		}
		t.topicSet[topic] = true
		t.topics = append(t.topics, topic)
	}
}

// Flush summarizes the session and hands the summary to every registered
// callback. A session with no activity, or one already flushed since its
// last activity, is skipped.
func (t *Tracker) Flush(ctx context.Context, reason string) {
	t.mu.Lock()
	if t.flushed || t.messageCount == 0 {
		t.mu.Unlock()
		return
	}
	t.flushed = true
	summary := t.summaryLocked(reason)
	callbacks := make([]FlushFunc, len(t.callbacks))
	copy(callbacks, t.callbacks)
	id := t.id
	t.mu.Unlock()

	t.logger.Info().Str("session", id).Str("reason", reason).Msg("Flushing session to memory")
	for _, fn := range callbacks {
		if err := fn(ctx, summary); err != nil {
			t.logger.Warn().Err(err).Str("session", id).Msg("Session flush callback failed")
		}
	}
}

func (t *Tracker) summaryLocked(reason string) string {
	duration := t.lastActivity.Sub(t.startedAt).Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s (%s): %d messages over %s",
		t.id, reason, t.messageCount, duration)
	if len(t.topics) > 0 {
		shown := t.topics
		if len(shown) > 10 {
			shown = shown[:10]
		}
		fmt.Fprintf(&b, "; topics: %s", strings.Join(shown, ", "))
	}
	return b.String()
}

// NewSession resets all counters and starts a fresh session id.
func (t *Tracker) NewSession() {
	t.mu.Lock()
	t.resetLocked(time.Now())
	t.mu.Unlock()
}

func (t *Tracker) resetLocked(now time.Time) {
	t.id = uuid.NewString()
	t.startedAt = now
	t.lastActivity = now
	t.messageCount = 0
	t.topics = nil
	t.topicSet = make(map[string]bool)
	t.flushed = false
}

// Snapshot is a read-only view of the tracker state.
type Snapshot struct {
	ID           string
	StartedAt    time.Time
	LastActivity time.Time
	MessageCount int
	Topics       []string
	Flushed      bool
}

// Snapshot returns the current session state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	topics := make([]string, len(t.topics))
	copy(topics, t.topics)
	return Snapshot{
		ID:           t.id,
		StartedAt:    t.startedAt,
		LastActivity: t.lastActivity,
		MessageCount: t.messageCount,
		Topics:       topics,
		Flushed:      t.flushed,
	}
}

var topicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bremember that (.{3,80}?)(?:[.!?\n]|$)`),
	regexp.MustCompile(`(?i)\bworking on (?:the |a |an )?([\w./-]+(?:\s+[\w./-]+){0,3})`),
	regexp.MustCompile(`(?i)\bproject (?:called |named )?([\w./-]+)`),
	regexp.MustCompile(`(?i)\bfile ([\w./-]+\.\w+)`),
	regexp.MustCompile(`(?i)\babout (?:the |a |an )?([\w./-]+(?:\s+[\w./-]+){0,3})`),
}

// ExtractTopics pulls candidate topic strings out of a user message.
func ExtractTopics(text string) []string {
	var topics []string
	seen := make(map[string]bool)
	for _, pat := range topicPatterns {
		for _, m := range pat.FindAllStringSubmatch(text, -1) {
			topic := strings.TrimSpace(m[1])
			topic = strings.Trim(topic, ".,;:!?")
			if topic == "" {
				continue
			}
			key := strings.ToLower(topic)
			if seen[key] {
				continue
			}
			seen[key] = true
			topics = append(topics, topic)
		}
	}
	return topics
}
