package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"confwatch/internal/conference"
	"confwatch/internal/eventbus"
	"confwatch/internal/host"
	logx "confwatch/pkg/logx"
)

var ErrScheduling = errors.New("scheduling error")

// SchedulingError is a failure to register or clear one timer.
type SchedulingError struct {
	Op   string // "schedule" or "clear"
	Name string
	Err  error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("%s timer %q: %v", e.Op, e.Name, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

func (e *SchedulingError) Is(target error) bool { return target == ErrScheduling }

// Result is the outcome for one timer.
type Result struct {
	Name string
	Err  error
}

// Batch collects per-timer outcomes. A failed item never aborts the rest.
type Batch struct {
	Scheduled []Scheduled // successfully registered (ScheduleFor only)
	Results   []Result
}

func (b Batch) Failed() []Result {
	var out []Result
	for _, r := range b.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

func (b Batch) OK() bool { return len(b.Failed()) == 0 }

// Err joins every per-timer failure, or nil.
func (b Batch) Err() error {
	var errs []error
	for _, r := range b.Failed() {
		errs = append(errs, r.Err)
	}
	return errors.Join(errs...)
}

// Subscriptions is the lookup the firing callback needs.
type Subscriptions interface {
	Get(ctx context.Context, id string) (conference.Subscription, bool)
}

// KeyedNotifier is implemented by notifiers that dedup on a caller key.
type KeyedNotifier interface {
	ShowKeyed(ctx context.Context, key, title, message string)
}

type Options struct {
	Plan  PlanOptions
	Title string // notification title; defaults to "Conference reminder"
	Bus   eventbus.Bus
}

// Scheduler registers reminders with the host timer facility and reacts to
// fired timers.
type Scheduler struct {
	timer    host.Timer
	clock    host.Clock
	subs     Subscriptions
	notifier host.Notifier
	opts     Options
	log      logx.Logger

	pmu  sync.RWMutex
	plan PlanOptions
}

func NewScheduler(hs *host.Services, subs Subscriptions, opts Options, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Title == "" {
		opts.Title = "Conference reminder"
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	clock := hs.Clock
	if clock == nil {
		clock = host.SystemClock{}
	}
	return &Scheduler{
		timer:    hs.Timer,
		clock:    clock,
		subs:     subs,
		notifier: hs.Notifier,
		opts:     opts,
		log:      log.With(logx.String("comp", "reminders")),
		plan:     opts.Plan,
	}
}

// SetPlanOptions takes effect on the next ScheduleFor.
func (s *Scheduler) SetPlanOptions(o PlanOptions) {
	s.pmu.Lock()
	s.plan = o
	s.pmu.Unlock()
}

// Plan computes the reminders ScheduleFor would register at now.
func (s *Scheduler) Plan(sub conference.Subscription, now time.Time) []Scheduled {
	s.pmu.RLock()
	opts := s.plan
	s.pmu.RUnlock()
	return Plan(sub, now, s.clock.Location(), opts)
}

// ScheduleFor registers every future reminder of sub. Re-scheduling is
// idempotent because timer names are deterministic.
func (s *Scheduler) ScheduleFor(ctx context.Context, sub conference.Subscription, now time.Time) Batch {
	plan := s.Plan(sub, now)
	b := Batch{Scheduled: make([]Scheduled, 0, len(plan)), Results: make([]Result, 0, len(plan))}
	for _, r := range plan {
		name := r.Name()
		if err := s.timer.Schedule(ctx, name, r.FiresAt); err != nil {
			serr := &SchedulingError{Op: "schedule", Name: name, Err: err}
			s.log.Warn("reminder not registered", logx.String("name", name), logx.Err(err))
			b.Results = append(b.Results, Result{Name: name, Err: serr})
			continue
		}
		b.Scheduled = append(b.Scheduled, r)
		b.Results = append(b.Results, Result{Name: name})
	}
	s.log.Debug("reminders scheduled",
		logx.String("id", sub.ID), logx.Int("planned", len(plan)), logx.Int("registered", len(b.Scheduled)))
	s.opts.Bus.Publish(eventbus.Event{Type: eventbus.ReminderScheduled, Data: sub.ID})
	return b
}

// CancelFor clears every timer owned by id, including the legacy name.
// Clear failures are recorded per timer and do not stop the sweep.
func (s *Scheduler) CancelFor(ctx context.Context, id string) Batch {
	var b Batch
	names, err := s.timer.Names(ctx, LegacyName(id))
	if err != nil {
		s.log.Warn("listing timers failed", logx.String("id", id), logx.Err(err))
		b.Results = append(b.Results, Result{Name: TimerPrefix(id) + "*", Err: &SchedulingError{Op: "list", Name: LegacyName(id), Err: err}})
		return b
	}
	for _, name := range names {
		// The prefix also matches ids that merely start with id.
		if !OwnedBy(name, id) {
			continue
		}
		if err := s.timer.Clear(ctx, name); err != nil {
			s.log.Warn("timer not cleared", logx.String("name", name), logx.Err(err))
			b.Results = append(b.Results, Result{Name: name, Err: &SchedulingError{Op: "clear", Name: name, Err: err}})
			continue
		}
		b.Results = append(b.Results, Result{Name: name})
	}
	s.opts.Bus.Publish(eventbus.Event{Type: eventbus.ReminderCancelled, Data: id})
	return b
}

// ScheduledIDs returns the subscription ids that currently own timers.
func (s *Scheduler) ScheduledIDs(ctx context.Context) ([]string, error) {
	names, err := s.timer.Names(ctx, NamePrefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		id, _, _, err := ParseName(n)
		if err != nil {
			// Legacy single-timer names carry only the id.
			id = n[len(NamePrefix):]
			if id == "" {
				continue
			}
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
