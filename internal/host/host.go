// Package host defines the capability set the engine runs against:
// a clock, a named one-shot timer facility, the key/value store and a
// user-visible notifier, plus explicit lifecycle listener registration.
package host

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"confwatch/internal/storage"
)

// Clock is the source of "now" and of the calendar's time zone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// SystemClock reads the wall clock in Loc (time.Local when nil).
type SystemClock struct {
	Loc *time.Location
}

func (c SystemClock) Now() time.Time { return time.Now().In(c.Location()) }

func (c SystemClock) Location() *time.Location {
	if c.Loc == nil {
		return time.Local
	}
	return c.Loc
}

// ZoneClock is a wall clock whose zone can be switched at runtime.
type ZoneClock struct {
	loc atomic.Pointer[time.Location]
}

func NewZoneClock(loc *time.Location) *ZoneClock {
	c := &ZoneClock{}
	c.SetLocation(loc)
	return c
}

func (c *ZoneClock) Now() time.Time { return time.Now().In(c.Location()) }

func (c *ZoneClock) Location() *time.Location { return c.loc.Load() }

// SetLocation switches the zone; nil means time.Local.
func (c *ZoneClock) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	c.loc.Store(loc)
}

// Timer registers named one-shot timers. Scheduling a name that already
// exists replaces it. When a timer fires, the implementation emits an
// EventAlarm carrying the name.
type Timer interface {
	Schedule(ctx context.Context, name string, at time.Time) error
	Clear(ctx context.Context, name string) error
	Names(ctx context.Context, prefix string) ([]string, error)
}

// Notifier shows a message to the user. It never fails from the caller's view.
type Notifier interface {
	Show(ctx context.Context, title, message string)
}

type EventKind string

const (
	EventStartup   EventKind = "startup"
	EventInstalled EventKind = "installed"
	EventAlarm     EventKind = "alarm"
	EventReconcile EventKind = "reconcile"
)

// Event is delivered to listeners registered with On.
type Event struct {
	Kind EventKind
	Name string // alarm name, set for EventAlarm
	At   time.Time
}

type Listener func(ctx context.Context, ev Event)

// Services bundles the capabilities injected into each component.
type Services struct {
	Clock    Clock
	Timer    Timer
	Store    storage.KV
	Notifier Notifier

	mu        sync.RWMutex
	listeners map[EventKind][]Listener
}

// On registers fn for events of kind. Listeners run synchronously in
// registration order on the emitting goroutine.
func (s *Services) On(kind EventKind, fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = map[EventKind][]Listener{}
	}
	s.listeners[kind] = append(s.listeners[kind], fn)
}

// Emit delivers ev to every listener registered for ev.Kind.
func (s *Services) Emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() && s.Clock != nil {
		ev.At = s.Clock.Now()
	}
	s.mu.RLock()
	ls := append([]Listener(nil), s.listeners[ev.Kind]...)
	s.mu.RUnlock()
	for _, fn := range ls {
		fn(ctx, ev)
	}
}

// Alarm is a convenience for timer implementations.
func (s *Services) Alarm(ctx context.Context, name string) {
	s.Emit(ctx, Event{Kind: EventAlarm, Name: name})
}
