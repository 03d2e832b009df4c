package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxFirstRunOffset = 30 * time.Second

// offsetSchedule fires once at first, then follows base.
type offsetSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *offsetSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// everyWithOffset delays the first run of an interval job by an offset in
// [0, min(every, 30s)) derived from its name. Jobs with the same interval
// (cache.refresh, reminders.reconcile) land apart, and each keeps its slot
// across restarts and reloads.
func everyWithOffset(name string, every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	span := min(every, maxFirstRunOffset)
	if span <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	off := time.Duration(h.Sum64() % uint64(span))
	return &offsetSchedule{base: base, first: now.Add(every + off)}, off
}
