package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"confwatch/internal/conference"
	"confwatch/internal/host"
	"confwatch/internal/host/hosttest"
	logx "confwatch/pkg/logx"
)

type subMap map[string]conference.Subscription

func (m subMap) Get(_ context.Context, id string) (conference.Subscription, bool) {
	s, ok := m[id]
	return s, ok
}

var iclr = conference.Subscription{ID: "iclr-2025", Title: "ICLR", Year: 2025, Deadline: "2024-09-27", Date: "2025-05-01"}

func newFixture(subs subMap) (*Scheduler, *hosttest.Timer, *hosttest.Notifier, time.Time) {
	now := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	timer := hosttest.NewTimer()
	notes := &hosttest.Notifier{}
	hs := &host.Services{Clock: hosttest.NewClock(now), Timer: timer, Notifier: notes}
	return NewScheduler(hs, subs, Options{}, logx.Nop()), timer, notes, now
}

func TestScheduleForRegistersNamedTimers(t *testing.T) {
	t.Parallel()
	s, timer, _, now := newFixture(subMap{})
	b := s.ScheduleFor(context.Background(), iclr, now)
	if !b.OK() || len(b.Scheduled) != 9 || len(b.Results) != 9 {
		t.Fatalf("batch = %+v", b)
	}
	names, _ := timer.Names(context.Background(), TimerPrefix(iclr.ID))
	if len(names) != 9 {
		t.Fatalf("registered %d timers: %v", len(names), names)
	}
	at, ok := timer.At("conference-iclr-2025-deadline-1")
	if !ok || !at.Equal(time.Date(2024, 9, 26, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("deadline-1 at %v (%v)", at, ok)
	}
	if _, ok := timer.At("conference-iclr-2025-deadline-30"); ok {
		t.Fatal("past reminder registered")
	}

	// Rescheduling replaces timers instead of adding new ones.
	_ = s.ScheduleFor(context.Background(), iclr, now)
	names, _ = timer.Names(context.Background(), NamePrefix)
	if len(names) != 9 {
		t.Fatalf("after reschedule %d timers", len(names))
	}
}

func TestScheduleForPartialFailure(t *testing.T) {
	t.Parallel()
	s, timer, _, now := newFixture(subMap{})
	timer.FailSchedule["conference-iclr-2025-deadline-7"] = true
	timer.FailSchedule["conference-iclr-2025-conference-30"] = true

	b := s.ScheduleFor(context.Background(), iclr, now)
	if len(b.Scheduled) != 7 || len(b.Results) != 9 {
		t.Fatalf("scheduled=%d results=%d", len(b.Scheduled), len(b.Results))
	}
	failed := b.Failed()
	if len(failed) != 2 {
		t.Fatalf("failed = %+v", failed)
	}
	var serr *SchedulingError
	if !errors.As(failed[0].Err, &serr) || serr.Op != "schedule" || !errors.Is(b.Err(), ErrScheduling) {
		t.Fatalf("err = %v", failed[0].Err)
	}
	if !errors.Is(b.Err(), hosttest.ErrInjected) {
		t.Fatalf("joined err lost cause: %v", b.Err())
	}
}

func TestCancelForClearsEveryOwnedTimer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, timer, _, now := newFixture(subMap{})
	iclrShort := conference.Subscription{ID: "iclr", Deadline: "2024-12-01", Date: "2025-01-01"}

	_ = s.ScheduleFor(ctx, iclr, now)
	_ = s.ScheduleFor(ctx, iclrShort, now)
	_ = timer.Schedule(ctx, LegacyName("iclr"), now.Add(time.Hour))
	timer.FailClear["conference-iclr-deadline-3"] = true

	b := s.CancelFor(ctx, "iclr")
	if len(b.Failed()) != 1 || b.Failed()[0].Name != "conference-iclr-deadline-3" {
		t.Fatalf("failed = %+v", b.Failed())
	}
	remaining, _ := timer.Names(ctx, NamePrefix)
	for _, n := range remaining {
		if OwnedBy(n, "iclr") && n != "conference-iclr-deadline-3" {
			t.Fatalf("timer %q survived cancel", n)
		}
	}
	// iclr-2025 shares the prefix but must keep its timers.
	own, _ := timer.Names(ctx, TimerPrefix("iclr-2025"))
	if len(own) != 9 {
		t.Fatalf("iclr-2025 timers = %d", len(own))
	}

	delete(timer.FailClear, "conference-iclr-deadline-3")
	_ = s.CancelFor(ctx, "iclr")
	left, _ := timer.Names(ctx, LegacyName("iclr"))
	for _, n := range left {
		if strings.HasPrefix(n, TimerPrefix("iclr")) && OwnedBy(n, "iclr") {
			t.Fatalf("timer %q survived second cancel", n)
		}
	}
}

func TestScheduledIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, timer, _, now := newFixture(subMap{})
	_ = s.ScheduleFor(ctx, iclr, now)
	_ = timer.Schedule(ctx, LegacyName("DAC-2023"), now.Add(time.Hour))
	_ = timer.Schedule(ctx, "refresh", now.Add(time.Hour))

	ids, err := s.ScheduledIDs(ctx)
	if err != nil || len(ids) != 2 || ids[0] != "DAC-2023" || ids[1] != "iclr-2025" {
		t.Fatalf("ids = %v err=%v", ids, err)
	}
}

func TestFireMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, notes, _ := newFixture(subMap{iclr.ID: iclr})

	if got := s.Fire(ctx, "conference-iclr-2025-deadline-7"); got != FireSent {
		t.Fatalf("deadline outcome = %s", got)
	}
	if got := s.Fire(ctx, "conference-iclr-2025-conference-30"); got != FireSent {
		t.Fatalf("conference outcome = %s", got)
	}
	msgs := notes.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Message != "Only 7 days left until the ICLR 2025 deadline! Submit your paper now." {
		t.Fatalf("deadline message = %q", msgs[0].Message)
	}
	if msgs[1].Message != "ICLR 2025 will commence in 30 days. Please prepare for your participation!" {
		t.Fatalf("conference message = %q", msgs[1].Message)
	}
	if msgs[0].Title != "Conference reminder" {
		t.Fatalf("title = %q", msgs[0].Title)
	}
}

func TestFireIgnoresAndDrops(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, notes, _ := newFixture(subMap{})
	cases := map[string]FireOutcome{
		"cache-refresh":                   FireIgnored,
		"conference-gone-2024-deadline-3": FireDropped,
		"conference-iclr-2025-keynote-3":  FireDropped,
		"conference-iclr-2025":            FireDropped,
	}
	for name, want := range cases {
		if got := s.Fire(ctx, name); got != want {
			t.Fatalf("Fire(%q) = %s, want %s", name, got, want)
		}
	}
	if n := len(notes.Messages()); n != 0 {
		t.Fatalf("%d notifications sent", n)
	}
}

type keyedNotes struct {
	mu   sync.Mutex
	seen map[string]int
}

func (k *keyedNotes) Show(context.Context, string, string) {}

func (k *keyedNotes) ShowKeyed(_ context.Context, key, _, _ string) {
	k.mu.Lock()
	k.seen[key]++
	k.mu.Unlock()
}

type subStore struct {
	mu sync.Mutex
	m  subMap
}

func (s *subStore) Get(ctx context.Context, id string) (conference.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Get(ctx, id)
}

func (s *subStore) put(sub conference.Subscription) {
	s.mu.Lock()
	s.m[sub.ID] = sub
	s.mu.Unlock()
}

func TestFireDedupKeyFollowsAnchorDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	notes := &keyedNotes{seen: map[string]int{}}
	subs := &subStore{m: subMap{iclr.ID: iclr}}
	hs := &host.Services{Clock: hosttest.NewClock(time.Now().In(time.UTC)), Timer: hosttest.NewTimer(), Notifier: notes}
	s := NewScheduler(hs, subs, Options{}, logx.Nop())

	const name = "conference-iclr-2025-deadline-1"
	s.Fire(ctx, name)
	s.Fire(ctx, name)
	if notes.seen[name+"@2024-09-27"] != 2 {
		t.Fatalf("seen = %v", notes.seen)
	}

	// An extended deadline re-arms the same timer name under a new key.
	moved := iclr
	moved.Deadline = "2024-09-30"
	subs.put(moved)
	s.Fire(ctx, name)
	if notes.seen[name+"@2024-09-30"] != 1 || len(notes.seen) != 2 {
		t.Fatalf("seen after deadline change = %v", notes.seen)
	}

	// The conference class keys off the start date.
	if got := DedupKey("conference-iclr-2025-conference-7", moved, ClassConference, time.UTC); got != "conference-iclr-2025-conference-7@2025-05-01" {
		t.Fatalf("conference key = %q", got)
	}
	if got := DedupKey(name, conference.Subscription{ID: "x", Deadline: "TBD"}, ClassDeadline, time.UTC); got != name {
		t.Fatalf("unparseable anchor key = %q", got)
	}
}

func TestSetPlanOptionsMovesFireTime(t *testing.T) {
	t.Parallel()
	s, timer, _, now := newFixture(subMap{})
	s.SetPlanOptions(PlanOptions{TimeOfDay: 9 * time.Hour})
	_ = s.ScheduleFor(context.Background(), iclr, now)
	at, ok := timer.At("conference-iclr-2025-deadline-1")
	if !ok || !at.Equal(time.Date(2024, 9, 26, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("deadline-1 at %v (%v)", at, ok)
	}
}
