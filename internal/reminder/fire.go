package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"confwatch/internal/conference"
	"confwatch/internal/eventbus"
	logx "confwatch/pkg/logx"
)

// Message renders the reminder text for a fired timer.
func Message(sub conference.Subscription, class Class, days int) string {
	if class == ClassDeadline {
		return fmt.Sprintf("Only %d days left until the %s %d deadline! Submit your paper now.", days, sub.Title, sub.Year)
	}
	return fmt.Sprintf("%s %d will commence in %d days. Please prepare for your participation!", sub.Title, sub.Year, days)
}

// FireOutcome tells what Fire did with a timer name.
type FireOutcome string

const (
	FireSent    FireOutcome = "sent"
	FireIgnored FireOutcome = "ignored" // not a reminder timer
	FireDropped FireOutcome = "dropped" // subscription gone or name malformed
)

// DedupKey identifies one delivery of a reminder: the timer name plus the
// anchor day it was planned against. A moved deadline or start date yields a
// new key, so the re-planned reminder is delivered again.
func DedupKey(name string, sub conference.Subscription, class Class, loc *time.Location) string {
	if anchor, ok := anchorFor(sub, class, loc); ok {
		return name + "@" + anchor.Format("2006-01-02")
	}
	return name
}

// Fire is the host timer callback. A reminder delivered twice by the host for
// the same anchor day produces one notification.
func (s *Scheduler) Fire(ctx context.Context, name string) FireOutcome {
	id, class, days, err := ParseName(name)
	if errors.Is(err, ErrForeignTimer) {
		return FireIgnored
	}
	if err != nil {
		s.log.Debug("unparseable reminder name", logx.String("name", name), logx.Err(err))
		return FireDropped
	}
	sub, ok := s.subs.Get(ctx, id)
	if !ok {
		s.log.Debug("reminder for removed subscription", logx.String("name", name))
		return FireDropped
	}

	msg := Message(sub, class, days)
	if kn, ok := s.notifier.(KeyedNotifier); ok {
		kn.ShowKeyed(ctx, DedupKey(name, sub, class, s.clock.Location()), s.opts.Title, msg)
	} else {
		s.notifier.Show(ctx, s.opts.Title, msg)
	}
	s.log.Info("reminder fired", logx.String("name", name))
	s.opts.Bus.Publish(eventbus.Event{Type: eventbus.ReminderFired, Data: name})
	return FireSent
}
