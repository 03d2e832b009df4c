package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"confwatch/internal/task/engine"
	logx "confwatch/pkg/logx"

	"github.com/robfig/cron/v3"
)

const enqueueWarnThrottle = 5 * time.Second

// AddSchedule registers a cron or interval trigger; see ParseSchedule for the
// accepted forms. Overlapping runs are skipped.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	return s.add(name, spec, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	return s.add(name, spec, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.add(name, "@every "+every.String(), timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

// AddDaily runs job every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job Job) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

func (s *Service) add(name, spec string, timeout time.Duration, opt TaskOptions, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if !strings.HasPrefix(spec, "@every") {
		if _, err := s.parser.Parse(spec); err != nil {
			return fmt.Errorf("schedule %q: %w", name, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so hot reloads do not duplicate triggers.
	s.removeScheduleLocked(name)
	s.removeOnce(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, timeout: timeout, job: job, opt: opt, state: &engine.RunState{}})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return err
	}
	fields := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return nil
}

// AddOnce registers a one-shot timer, replacing any trigger with the same
// name. A time in the past fires immediately once the scheduler runs.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}
	s.mu.Lock()
	s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old := s.once[name]; old != nil && old.timer != nil {
		old.timer.Stop()
	}
	s.verSeq++
	d := &onceDef{at: at, timeout: timeout, job: job, ver: s.verSeq}
	s.once[name] = d
	if s.running {
		s.armLocked(name, d)
	}
	return nil
}

// armLocked starts the runtime timer for d. Call with s.tmu held.
func (s *Service) armLocked(name string, d *onceDef) {
	if d.timer != nil {
		d.timer.Stop()
	}
	delay := time.Until(d.at)
	if delay < 0 {
		delay = 0
	}
	ver := d.ver
	d.timer = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		cur := s.once[name]
		if cur == nil || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		// Drop the definition before running so a restart cannot fire it twice.
		delete(s.once, name)
		s.tmu.Unlock()
		s.enqueue(name, cur.timeout, TaskOptions{}, nil, cur.job)
	})
}

// Remove deletes every trigger called name. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("trigger removed", logx.String("name", name))
	}
	return removed
}

// Names lists pending one-shot timers whose name starts with prefix.
func (s *Service) Names(prefix string) []string {
	s.tmu.Lock()
	out := make([]string, 0, len(s.once))
	for n := range s.once {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	s.tmu.Unlock()
	sort.Strings(out)
	return out
}

// When returns the fire time of a pending one-shot timer.
func (s *Service) When(name string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d := s.once[name]
	if d == nil {
		return time.Time{}, false
	}
	return d.at, true
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d := s.once[name]
	if d == nil {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// removeScheduleLocked drops cron defs named name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	// Capture by value: defs is compacted in place on removal.
	name, timeout, opt, st, run := d.name, d.timeout, d.opt, d.state, d.job
	job := cron.FuncJob(func() { s.enqueue(name, timeout, opt, st, run) })

	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
		if err == nil && every > 0 {
			sched, off := everyWithOffset(d.name, every, time.Now().In(s.loc))
			d.firstOffset = off
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	d.firstOffset = 0
	eid, err := s.c.AddJob(spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

func (s *Service) enqueue(name string, timeout time.Duration, opt TaskOptions, st *engine.RunState, job Job) {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{Name: name, Timeout: timeout, Run: job, Opt: opt, State: st})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

func (s *Service) reportEnqueueError(name string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("trigger skipped: previous run in flight", logx.String("schedule", name))
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()
	s.log.Warn("trigger failed to enqueue", logx.String("schedule", name), logx.Err(err))
}

// previewNextRunsLocked formats the next n run times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
