// Package ics renders subscriptions as an iCalendar feed.
package ics

import (
	"fmt"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"

	"confwatch/internal/conference"
)

const ProductID = "-//confwatch//conference reminders//EN"

// Export renders one all-day event for the submission deadline and one for
// the conference start of every subscription. Dates that do not parse are
// skipped. Calendar days are computed in now's location.
func Export(subs []conference.Subscription, now time.Time) string {
	loc := now.Location()
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	cal.SetXWRCalName("confwatch")

	sorted := append([]conference.Subscription(nil), subs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, s := range sorted {
		name := fmt.Sprintf("%s %d", s.Title, s.Year)
		addDay(cal, s.ID+"-deadline", "Submission deadline: "+name, s.Deadline, "", now, loc)
		addDay(cal, s.ID+"-conference", name, s.Date, s.Place, now, loc)
	}
	return cal.Serialize()
}

func addDay(cal *ical.Calendar, uid, summary, raw, place string, now time.Time, loc *time.Location) {
	if raw == "" {
		return
	}
	t, err := conference.ParseDate(raw, loc)
	if err != nil {
		return
	}
	day := conference.Midnight(t, loc)
	ev := cal.AddEvent(uid + "@confwatch")
	ev.SetDtStampTime(now.UTC())
	ev.SetSummary(summary)
	ev.SetAllDayStartAt(day)
	ev.SetAllDayEndAt(day.AddDate(0, 0, 1))
	if place != "" {
		ev.SetLocation(place)
	}
}
