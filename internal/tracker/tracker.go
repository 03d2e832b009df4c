package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"confwatch/internal/conference"
	"confwatch/internal/host"
	"confwatch/internal/reminder"
	"confwatch/internal/storage"
	"confwatch/internal/subscription"
	logx "confwatch/pkg/logx"
)

// Preloader warms the conference cache.
type Preloader interface {
	Preload(ctx context.Context) []conference.Record
}

type Options struct {
	Title string // notification title; empty uses the notifier default
}

type Tracker struct {
	hs    *host.Services
	cache Preloader
	subs  *subscription.Store
	rem   *reminder.Scheduler
	opts  Options
	log   logx.Logger

	// Per-id serialization of subscribe/unsubscribe.
	lmu   sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func New(hs *host.Services, cache Preloader, subs *subscription.Store, rem *reminder.Scheduler, opts Options, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		hs:    hs,
		cache: cache,
		subs:  subs,
		rem:   rem,
		opts:  opts,
		log:   log.With(logx.String("comp", "tracker")),
		locks: map[string]*idLock{},
	}
}

// Register attaches Handle to every host lifecycle event.
func (t *Tracker) Register() {
	for _, k := range []host.EventKind{host.EventStartup, host.EventInstalled, host.EventAlarm, host.EventReconcile} {
		t.hs.On(k, t.Handle)
	}
}

func (t *Tracker) lock(id string) func() {
	t.lmu.Lock()
	l := t.locks[id]
	if l == nil {
		l = &idLock{}
		t.locks[id] = l
	}
	l.refs++
	t.lmu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.lmu.Lock()
		if l.refs--; l.refs == 0 {
			delete(t.locks, id)
		}
		t.lmu.Unlock()
	}
}

// Subscribe subscribes to one instance of rec.
func (t *Tracker) Subscribe(ctx context.Context, rec conference.Record, in conference.Instance) (reminder.Batch, error) {
	return t.SubscribeSub(ctx, conference.NewSubscription(rec, in))
}

// SubscribeSub stores sub, registers its reminders and confirms. Only a
// failed store write is returned; timer failures are in the batch.
func (t *Tracker) SubscribeSub(ctx context.Context, sub conference.Subscription) (reminder.Batch, error) {
	sub.ID = strings.TrimSpace(sub.ID)
	if sub.ID == "" {
		sub.ID = conference.SubscriptionID(sub.Title, conference.Instance{Year: sub.Year})
	}
	defer t.lock(sub.ID)()

	if err := t.subs.Add(ctx, sub); err != nil {
		return reminder.Batch{}, fmt.Errorf("subscribe %s: %w", sub.ID, err)
	}
	b := t.rem.ScheduleFor(ctx, sub, t.hs.Clock.Now())
	if err := b.Err(); err != nil {
		t.log.Warn("subscribed with partial reminders", logx.String("id", sub.ID), logx.Int("failed", len(b.Failed())))
	}
	t.notify(ctx, fmt.Sprintf("Subscription confirmed: You'll receive reminders for %s %d deadlines and events", sub.Title, sub.Year))
	t.log.Info("subscribed", logx.String("id", sub.ID), logx.Int("reminders", len(b.Scheduled)))
	return b, nil
}

// Unsubscribe cancels the reminders of id and removes the subscription.
// Removing an unknown id is not an error.
func (t *Tracker) Unsubscribe(ctx context.Context, id string) (reminder.Batch, error) {
	id = strings.TrimSpace(id)
	defer t.lock(id)()

	sub, known := t.subs.Get(ctx, id)
	b := t.rem.CancelFor(ctx, id)
	if err := t.subs.Remove(ctx, id); err != nil {
		return b, fmt.Errorf("unsubscribe %s: %w", id, err)
	}
	if known {
		t.notify(ctx, fmt.Sprintf("Cancelled %s %d's reminder", sub.Title, sub.Year))
	}
	t.log.Info("unsubscribed", logx.String("id", id), logx.Int("cleared", len(b.Results)-len(b.Failed())))
	return b, nil
}

func (t *Tracker) notify(ctx context.Context, msg string) {
	if t.hs.Notifier != nil {
		t.hs.Notifier.Show(ctx, t.opts.Title, msg)
	}
}

// State reads what React needs. Read failures degrade to empty values.
func (t *Tracker) State(ctx context.Context) State {
	st := State{Subscriptions: t.subs.List(ctx)}
	ids, err := t.rem.ScheduledIDs(ctx)
	if err != nil {
		t.log.Warn("listing reminder timers failed", logx.Err(err))
	}
	st.TimerIDs = ids
	if t.hs.Store != nil {
		_, ok, err := t.hs.Store.Get(ctx, storage.KeyInstalledAt)
		if err != nil {
			t.log.Warn("reading install marker failed", logx.Err(err))
		}
		st.Installed = ok
	}
	return st
}

// Handle is the host event listener.
func (t *Tracker) Handle(ctx context.Context, ev host.Event) {
	_, effs := React(ev, t.State(ctx))
	t.log.Debug("host event", logx.String("kind", string(ev.Kind)), logx.String("name", ev.Name), logx.Int("effects", len(effs)))
	for _, e := range effs {
		t.apply(ctx, e)
	}
}

func (t *Tracker) apply(ctx context.Context, e Effect) {
	switch e.Kind {
	case EffectPreload:
		if t.cache != nil {
			t.cache.Preload(ctx)
		}
	case EffectSchedule:
		// The effect was computed from a snapshot; an Unsubscribe may have
		// won the race since.
		defer t.lock(e.Sub.ID)()
		sub, ok := t.subs.Get(ctx, e.Sub.ID)
		if !ok {
			t.log.Debug("skip schedule for removed subscription", logx.String("id", e.Sub.ID))
			return
		}
		t.rem.ScheduleFor(ctx, sub, t.hs.Clock.Now())
	case EffectCancel:
		defer t.lock(e.ID)()
		if t.subs.Has(ctx, e.ID) {
			t.log.Debug("skip cancel for live subscription", logx.String("id", e.ID))
			return
		}
		t.rem.CancelFor(ctx, e.ID)
	case EffectFire:
		t.rem.Fire(ctx, e.Name)
	case EffectNotify:
		title := e.Title
		if title == "" {
			title = t.opts.Title
		}
		if t.hs.Notifier != nil {
			t.hs.Notifier.Show(ctx, title, e.Message)
		}
	case EffectMarkInstalled:
		if t.hs.Store == nil {
			return
		}
		now := t.hs.Clock.Now().UTC().Format(time.RFC3339)
		if err := t.hs.Store.Set(ctx, storage.KeyInstalledAt, []byte(now)); err != nil && !errors.Is(err, context.Canceled) {
			t.log.Warn("writing install marker failed", logx.Err(err))
		}
	}
}
