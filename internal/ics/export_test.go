package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"confwatch/internal/conference"
)

func TestExportTwoEventsPerSubscription(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	subs := []conference.Subscription{
		{ID: "neurips-2025", Title: "NeurIPS", Year: 2025, Deadline: "2025-05-15 23:59:59", Date: "2025-12-02", Place: "San Diego"},
		{ID: "icml-2025", Title: "ICML", Year: 2025, Deadline: "2025-01-30", Date: "2025-07-13"},
		{ID: "broken", Title: "Broken", Year: 2025, Deadline: "soon", Date: ""},
	}

	out := Export(subs, now)
	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	events := cal.Events()
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}

	uids := map[string]string{}
	for _, ev := range events {
		uids[ev.Id()] = ev.GetProperty(ical.ComponentPropertySummary).Value
	}
	if got := uids["neurips-2025-deadline@confwatch"]; got != "Submission deadline: NeurIPS 2025" {
		t.Fatalf("deadline summary = %q", got)
	}
	if got := uids["icml-2025-conference@confwatch"]; got != "ICML 2025" {
		t.Fatalf("conference summary = %q", got)
	}
	if !strings.Contains(out, "DTSTART;VALUE=DATE:20251202") {
		t.Fatalf("missing all-day start in:\n%s", out)
	}
}

func TestExportEmpty(t *testing.T) {
	t.Parallel()

	out := Export(nil, time.Now())
	if !strings.Contains(out, "BEGIN:VCALENDAR") || strings.Contains(out, "BEGIN:VEVENT") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
