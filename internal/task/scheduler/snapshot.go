package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defs := append([]scheduleDef(nil), s.defs...)
	c := s.c
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}

	snap := Snapshot{Timezone: loc.String()}
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, FirstOffset: d.firstOffset}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}

	s.tmu.Lock()
	for name, d := range s.once {
		snap.Timers = append(snap.Timers, TimerInfo{Name: name, At: d.at})
	}
	s.tmu.Unlock()
	sort.Slice(snap.Timers, func(i, j int) bool { return snap.Timers[i].At.Before(snap.Timers[j].At) })

	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
	}
	return snap
}
