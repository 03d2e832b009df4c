// Package hosttest provides in-memory host capabilities for tests.
package hosttest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Clock is a settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now, loc: now.Location()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Location() *time.Location { return c.loc }

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Timer records registered timers. FailSchedule/FailClear make the named
// timers return ErrInjected.
type Timer struct {
	mu     sync.Mutex
	timers map[string]time.Time

	FailSchedule map[string]bool
	FailClear    map[string]bool
	Scheduled    int
}

var ErrInjected = errors.New("injected failure")

func NewTimer() *Timer {
	return &Timer{timers: map[string]time.Time{}, FailSchedule: map[string]bool{}, FailClear: map[string]bool{}}
}

func (t *Timer) Schedule(ctx context.Context, name string, at time.Time) error {
	_ = ctx
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailSchedule[name] {
		return ErrInjected
	}
	t.timers[name] = at
	t.Scheduled++
	return nil
}

func (t *Timer) Clear(ctx context.Context, name string) error {
	_ = ctx
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailClear[name] {
		return ErrInjected
	}
	delete(t.timers, name)
	return nil
}

func (t *Timer) Names(ctx context.Context, prefix string) ([]string, error) {
	_ = ctx
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.timers))
	for n := range t.timers {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// At returns the fire time registered under name.
func (t *Timer) At(name string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.timers[name]
	return at, ok
}

// Message is one recorded notification.
type Message struct {
	Title   string
	Message string
}

// Notifier records every Show call.
type Notifier struct {
	mu   sync.Mutex
	msgs []Message
}

func (n *Notifier) Show(ctx context.Context, title, message string) {
	_ = ctx
	n.mu.Lock()
	n.msgs = append(n.msgs, Message{Title: title, Message: message})
	n.mu.Unlock()
}

func (n *Notifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.msgs...)
}
