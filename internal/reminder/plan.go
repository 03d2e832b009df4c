package reminder

import (
	"sort"
	"time"

	"confwatch/internal/conference"
)

// PlanOptions tunes where in the day reminders fire.
type PlanOptions struct {
	// TimeOfDay is added to local midnight of the reminder day.
	TimeOfDay time.Duration
}

// Plan computes every future reminder for sub. It is pure: nothing is
// registered. Anchors are taken at local midnight of their calendar day in
// loc; reminders whose fire time is not strictly after now are skipped, as
// are classes whose anchor does not parse.
func Plan(sub conference.Subscription, now time.Time, loc *time.Location, opts PlanOptions) []Scheduled {
	if loc == nil {
		loc = time.Local
	}
	var out []Scheduled
	for _, spec := range Specs() {
		anchor, ok := anchorFor(sub, spec.Class, loc)
		if !ok {
			continue
		}
		for _, off := range spec.Offsets {
			at := anchor.AddDate(0, 0, -off).Add(opts.TimeOfDay)
			if !at.After(now) {
				continue
			}
			out = append(out, Scheduled{
				SubscriptionID: sub.ID,
				Class:          spec.Class,
				OffsetDays:     off,
				FiresAt:        at,
			})
		}
	}
	return out
}

func anchorFor(sub conference.Subscription, class Class, loc *time.Location) (time.Time, bool) {
	raw := sub.Deadline
	if class == ClassConference {
		raw = sub.Date
	}
	t, err := conference.ParseDate(raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return conference.Midnight(t, loc), true
}

// Next returns the earliest planned reminder.
func Next(plan []Scheduled) (Scheduled, bool) {
	if len(plan) == 0 {
		return Scheduled{}, false
	}
	sorted := append([]Scheduled(nil), plan...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FiresAt.Before(sorted[j].FiresAt) })
	return sorted[0], true
}
