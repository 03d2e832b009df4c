package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"confwatch/internal/conference"
	"confwatch/internal/reminder"
	"confwatch/internal/transport/telegram/router"
)

const maxListed = 25

// commands is the chat surface: browse, subscribe and inspect.
func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "conferences",
			Aliases:     []string{"confs", "search"},
			Description: "list conferences, optionally filtered",
			Usage:       "/conferences [query]",
			Access:      router.AccessOwnerOnly,
			Timeout:     60 * time.Second,
			Handle:      a.cmdConferences,
		},
		{
			Name:        "subscribe",
			Aliases:     []string{"sub"},
			Description: "get reminders for a conference",
			Usage:       "/subscribe <title> [year] | <id>",
			Access:      router.AccessOwnerOnly,
			Timeout:     60 * time.Second,
			Handle:      a.cmdSubscribe,
		},
		{
			Name:        "unsubscribe",
			Aliases:     []string{"unsub"},
			Description: "stop reminders for a subscription",
			Usage:       "/unsubscribe <id>",
			Access:      router.AccessOwnerOnly,
			Handle:      a.cmdUnsubscribe,
		},
		{
			Name:        "subs",
			Description: "list subscriptions and their next reminder",
			Access:      router.AccessOwnerOnly,
			Handle:      a.cmdSubs,
		},
		{
			Name:        "refresh",
			Description: "refetch conference data",
			Access:      router.AccessOwnerOnly,
			Timeout:     90 * time.Second,
			Handle:      a.cmdRefresh,
		},
		{
			Name:        "status",
			Description: "cache, timers and queues",
			Access:      router.AccessOwnerOnly,
			Handle:      a.cmdStatus,
		},
	}
}

func (a *App) cmdConferences(ctx context.Context, req *router.Request) error {
	res := a.Cache.Lookup(ctx)
	found := conference.Search(res.Records, strings.Join(req.Args, " "))
	if len(found) == 0 {
		if res.Source == conference.SourceEmpty {
			return req.Reply(ctx, "conference data unavailable, try /refresh later")
		}
		return req.Reply(ctx, "no conferences match")
	}
	return req.Reply(ctx, FormatConferences(found, a.Clock.Now(), a.Clock.Location()))
}

func (a *App) cmdSubscribe(ctx context.Context, req *router.Request) error {
	rec, in, err := Resolve(a.Cache.Get(ctx), req.Args)
	if err != nil {
		return err
	}
	b, err := a.tracker.Subscribe(ctx, rec, in)
	if err != nil {
		return err
	}
	id := conference.SubscriptionID(rec.Title, in)
	msg := fmt.Sprintf("subscribed %s (%d reminders)", id, len(b.Scheduled)-len(b.Failed()))
	if next, ok := reminder.Next(b.Scheduled); ok {
		msg += "\nnext: " + next.FiresAt.Format("2006-01-02 15:04")
	}
	return req.Reply(ctx, msg)
}

func (a *App) cmdUnsubscribe(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return fmt.Errorf("usage: /unsubscribe <id>")
	}
	id := req.Args[0]
	if !a.Subs.Has(ctx, id) {
		return req.Reply(ctx, "not subscribed: "+id)
	}
	if _, err := a.tracker.Unsubscribe(ctx, id); err != nil {
		return err
	}
	return req.Reply(ctx, "unsubscribed "+id)
}

func (a *App) cmdSubs(ctx context.Context, req *router.Request) error {
	subs := a.Subs.List(ctx)
	if len(subs) == 0 {
		return req.Reply(ctx, "no subscriptions, try /subscribe")
	}
	return req.Reply(ctx, FormatSubscriptions(subs, a.PlanFor))
}

func (a *App) cmdRefresh(ctx context.Context, req *router.Request) error {
	res := a.Cache.Refresh(ctx)
	if res.Err != nil {
		return req.Reply(ctx, fmt.Sprintf("refresh failed (%v), serving %s data: %d conferences", res.Err, res.Source, len(res.Records)))
	}
	return req.Reply(ctx, fmt.Sprintf("refreshed: %d conferences", len(res.Records)))
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, a.Status(ctx))
}

// Status renders a short operational summary.
func (a *App) Status(ctx context.Context) string {
	var b strings.Builder
	now := a.Clock.Now()
	if e, ok := a.Cache.Entry(ctx); ok {
		fmt.Fprintf(&b, "cache: %d conferences, age %s\n", len(e.Conferences), now.Sub(e.FetchedAt()).Truncate(time.Second))
	} else {
		b.WriteString("cache: empty\n")
	}
	fmt.Fprintf(&b, "subscriptions: %d\n", len(a.Subs.List(ctx)))

	snap := a.sched.Snapshot()
	pending := 0
	for _, t := range snap.Timers {
		if strings.HasPrefix(t.Name, reminder.NamePrefix) {
			pending++
		}
	}
	fmt.Fprintf(&b, "reminders pending: %d\n", pending)
	if len(snap.Timers) > 0 {
		fmt.Fprintf(&b, "next timer: %s at %s\n", snap.Timers[0].Name, snap.Timers[0].At.Format("2006-01-02 15:04"))
	}
	for _, s := range snap.Schedules {
		fmt.Fprintf(&b, "job %s (%s) next %s\n", s.Name, s.Spec, s.Next.Format("2006-01-02 15:04"))
	}
	eng := snap.Engine
	fmt.Fprintf(&b, "engine: queue %d/%d, in flight %d, dropped %d\n", eng.QueueLen, eng.QueueCap, eng.InFlight, eng.Dropped)
	fmt.Fprintf(&b, "notifier: enabled=%t, sent %d\n", a.notif.Enabled(), len(a.notif.History()))
	fmt.Fprintf(&b, "timezone: %s", snap.Timezone)
	return b.String()
}

// FormatConferences lists records with the next upcoming edition.
func FormatConferences(recs []conference.Record, now time.Time, loc *time.Location) string {
	var b strings.Builder
	for i, rec := range recs {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more, narrow the query", len(recs)-maxListed)
			break
		}
		in, ok := rec.Latest()
		if !ok {
			fmt.Fprintf(&b, "%s (%s)\n", rec.Title, rec.Category)
			continue
		}
		fmt.Fprintf(&b, "%s %d [%s] %s", rec.Title, in.Year, conference.SubscriptionID(rec.Title, in), conference.InstanceStatus(in, now, loc))
		if days, err := conference.DaysUntil(in.Deadline, now, loc); err == nil && days >= 0 {
			fmt.Fprintf(&b, ", deadline in %d days", days)
		}
		if rec.Rank != nil && !rec.Rank.IsZero() {
			fmt.Fprintf(&b, " (%s)", rec.Rank)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSubscriptions lists subscriptions with their next planned reminder.
func FormatSubscriptions(subs []conference.Subscription, plan func(conference.Subscription) []reminder.Scheduled) string {
	var b strings.Builder
	for _, s := range subs {
		fmt.Fprintf(&b, "%s: %s %d, deadline %s, date %s", s.ID, s.Title, s.Year, s.Deadline, s.Date)
		if next, ok := reminder.Next(plan(s)); ok {
			fmt.Fprintf(&b, ", next reminder %s (%s %dd)", next.FiresAt.Format("2006-01-02 15:04"), next.Class, next.OffsetDays)
		} else {
			b.WriteString(", no reminders left")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
