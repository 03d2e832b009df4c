package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		kind  SpecKind
		cron  string
		every time.Duration
		err   bool
	}{
		{in: "0 9 * * *", kind: SpecCron, cron: "0 9 * * *"},
		{in: "0 */5 * * * *", kind: SpecCron, cron: "0 */5 * * * *"},
		{in: "@daily", kind: SpecCron, cron: "@daily"},
		{in: "CRON: 0 3 * * *", kind: SpecCron, cron: "0 3 * * *"},
		{in: "@every 30m", kind: SpecInterval, every: 30 * time.Minute},
		{in: "every:6h", kind: SpecInterval, every: 6 * time.Hour},
		{in: "6h", kind: SpecInterval, every: 6 * time.Hour},
		{in: "00:30", kind: SpecInterval, every: 30 * time.Minute},
		{in: "interval:02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{in: "", err: true},
		{in: "00:00", err: true},
		{in: "1:5", err: true},
		{in: "-5m", err: true},
		{in: "every:-5m", err: true},
		{in: "@every soon", err: true},
		{in: "61 * * * *", err: true},
		{in: "cron:not a cron", err: true},
		{in: "@fortnightly", err: true},
		{in: "soon", err: true},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.in)
		if tc.err {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) expected error, got %+v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tc.in, err)
		}
		if got.Kind != tc.kind || got.Cron != tc.cron || got.Every != tc.every {
			t.Fatalf("ParseSchedule(%q) = %+v", tc.in, got)
		}
	}
}

func TestEveryWithOffsetIsStablePerName(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	s1, off1 := everyWithOffset("cache.refresh", 6*time.Hour, now)
	_, again := everyWithOffset("cache.refresh", 6*time.Hour, now.Add(time.Hour))
	_, other := everyWithOffset("reminders.reconcile", 6*time.Hour, now)
	if off1 != again {
		t.Fatalf("offset changed between runs: %v vs %v", off1, again)
	}
	if off1 == other {
		t.Fatalf("distinct jobs share offset %v", off1)
	}
	if off1 < 0 || off1 >= maxFirstRunOffset {
		t.Fatalf("offset %v out of range", off1)
	}
	if first := s1.Next(now); !first.Equal(now.Add(6*time.Hour + off1)) {
		t.Fatalf("first run = %v", first)
	}
	// cron.Every drops sub-second precision after the first run.
	first := now.Add(6*time.Hour + off1)
	if gap := s1.Next(first).Sub(first); gap <= 6*time.Hour-time.Second || gap > 6*time.Hour {
		t.Fatalf("second run %v after first", gap)
	}

	_, short := everyWithOffset("tick", 10*time.Millisecond, now)
	if short >= 10*time.Millisecond {
		t.Fatalf("offset %v exceeds interval", short)
	}
}
