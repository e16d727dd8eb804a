// Package waiter decides when an assistant has finished answering by polling
// snapshots of its latest turn.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sokinpui/askpatch/internal/ui"
	"github.com/sokinpui/askpatch/model"
)

// ErrNoSnapshotter is returned when a Waiter has nothing to poll.
var ErrNoSnapshotter = errors.New("waiter: no snapshot provider")

// Snapshotter reads the latest assistant turn in scope. Transient absence of
// the turn yields an empty turn; an error means the page is unreachable.
type Snapshotter interface {
	Snapshot(ctx context.Context, scope string) (model.ConversationTurn, error)
}

// SnapshotFunc adapts a function to Snapshotter.
type SnapshotFunc func(ctx context.Context, scope string) (model.ConversationTurn, error)

func (f SnapshotFunc) Snapshot(ctx context.Context, scope string) (model.ConversationTurn, error) {
	return f(ctx, scope)
}

// Clock is the time source of a Waiter.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config holds the polling cadence and completion thresholds. The thresholds
// were tuned against one chat UI and are expected to need adjusting.
//
// UI-signal completion needs the send control visible, the busy marker absent
// and the stop control hidden, with text unchanged for StableFor. The
// inactivity fallback ignores the stop control and needs only text unchanged
// for Inactivity while not busy.
type Config struct {
	Interval   time.Duration `yaml:"interval"`
	StableFor  time.Duration `yaml:"stable_for"`
	Inactivity time.Duration `yaml:"inactivity"`
	MinChars   int           `yaml:"min_chars"`
	LogEvery   time.Duration `yaml:"log_every"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:   time.Second,
		StableFor:  1000 * time.Millisecond,
		Inactivity: 6000 * time.Millisecond,
		MinChars:   20,
		LogEvery:   3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.StableFor <= 0 {
		c.StableFor = d.StableFor
	}
	if c.Inactivity <= 0 {
		c.Inactivity = d.Inactivity
	}
	if c.MinChars <= 0 {
		c.MinChars = d.MinChars
	}
	if c.LogEvery <= 0 {
		c.LogEvery = d.LogEvery
	}
	return c
}

// Waiter polls a Snapshotter until the answer is complete.
type Waiter struct {
	snap  Snapshotter
	cfg   Config
	clock Clock
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(w *Waiter) { w.clock = c }
}

// New creates a Waiter. Zero config fields take their defaults.
func New(snap Snapshotter, cfg Config, opts ...Option) *Waiter {
	w := &Waiter{snap: snap, cfg: cfg.withDefaults(), clock: realClock{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Baseline reads the text of the latest turn before a prompt is sent, for
// use as the baseline of the following Wait.
func (w *Waiter) Baseline(ctx context.Context, scope string) (string, error) {
	if w.snap == nil {
		return "", ErrNoSnapshotter
	}
	turn, err := w.snap.Snapshot(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("reading baseline: %w", err)
	}
	return turn.Text, nil
}

// Wait polls until a completion rule fires or hardTimeout elapses. While the
// latest turn still shows baseline and the page is not generating, the new
// answer has not started and no rule fires. A timeout is not an error: the
// last observed text is returned with ReasonTimeout. Snapshot failures and
// cancellation return the partial result and an error.
func (w *Waiter) Wait(ctx context.Context, scope string, hardTimeout time.Duration, baseline string) (model.CompletionResult, error) {
	if w.snap == nil {
		return model.CompletionResult{}, ErrNoSnapshotter
	}

	start := w.clock.Now()
	deadline := start.Add(hardTimeout)
	tr := newTracker(w.cfg, baseline)
	var lastLog time.Time

	for {
		if err := ctx.Err(); err != nil {
			return tr.result(""), err
		}

		turn, err := w.snap.Snapshot(ctx, scope)
		if err != nil {
			return tr.result(""), fmt.Errorf("reading snapshot: %w", err)
		}
		now := w.clock.Now()

		if reason, done := tr.observe(turn, now); done {
			ui.Info("  Answer complete (%s) after %s, %d chars", reason, now.Sub(start).Round(time.Millisecond), tr.chars)
			return tr.result(reason), nil
		}

		if lastLog.IsZero() || now.Sub(lastLog) >= w.cfg.LogEvery {
			lastLog = now
			ui.Faint("  waiting... %d chars, unchanged for %s, busy=%v send=%v",
				tr.chars, now.Sub(tr.lastChange).Round(time.Millisecond), turn.Signals.Busy, turn.Signals.SendVisible)
		}

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			ui.Warning("  Answer wait timed out after %s with %d chars", hardTimeout, tr.chars)
			return tr.result(model.ReasonTimeout), nil
		}

		sleep := w.cfg.Interval
		if remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return tr.result(""), ctx.Err()
		case <-w.clock.After(sleep):
		}
	}
}

// tracker is the loop-local completion state.
type tracker struct {
	cfg          Config
	baseline     string
	started      bool // the new answer replaced the baseline turn
	seen         bool
	lastText     string
	lastMarkup   string
	lastChange   time.Time
	stableCycles int
	chars        int
}

func newTracker(cfg Config, baseline string) *tracker {
	return &tracker{cfg: cfg, baseline: baseline, started: strings.TrimSpace(baseline) == ""}
}

// observe folds one snapshot into the state and reports whether a completion
// rule fired. UI-signal completion is checked before the inactivity fallback.
// The spinner flag is recorded by callers but never decides completion.
func (t *tracker) observe(turn model.ConversationTurn, now time.Time) (model.CompletionReason, bool) {
	if !t.seen || turn.Text != t.lastText {
		t.seen = true
		t.lastText = turn.Text
		t.lastChange = now
		t.stableCycles = 0
	} else {
		t.stableCycles++
	}
	t.lastMarkup = turn.Markup
	t.chars = utf8.RuneCountInString(strings.TrimSpace(turn.Text))

	s := turn.Signals
	if !t.started {
		if turn.Text == t.baseline && !s.Busy && !s.StopVisible {
			return "", false
		}
		t.started = true
		t.lastChange = now
		t.stableCycles = 0
	}
	unchanged := now.Sub(t.lastChange)
	longEnough := t.chars > t.cfg.MinChars

	if s.SendVisible && !s.Busy && !s.StopVisible && longEnough && unchanged > t.cfg.StableFor {
		return model.ReasonUISignal, true
	}
	if !s.Busy && longEnough && unchanged > t.cfg.Inactivity {
		return model.ReasonInactivity, true
	}
	return "", false
}

func (t *tracker) result(reason model.CompletionReason) model.CompletionResult {
	return model.CompletionResult{Text: t.lastText, Markup: t.lastMarkup, Reason: reason}
}
