package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"confwatch/internal/conference"
	"confwatch/internal/config"
	"confwatch/internal/host"
	"confwatch/internal/reminder"
	"confwatch/internal/storage"
	logx "confwatch/pkg/logx"
)

// testRecords returns one conference whose deadline is 40 days out and whose
// start is 100 days out, so every reminder offset lies in the future.
func testRecords() []conference.Record {
	now := time.Now().UTC()
	day := func(d int) string { return now.AddDate(0, 0, d).Format("2006-01-02") }
	return []conference.Record{
		{
			Title:    "NeurIPS",
			Category: "AI",
			Rank:     &conference.Rank{CCF: "A"},
			Instances: []conference.Instance{
				{Year: now.Year() - 1, Deadline: day(-300), Date: day(-200)},
				{Year: now.Year(), InstanceID: "neurips-next", Deadline: day(40), Date: day(100), Place: "Vancouver"},
			},
		},
		{
			Title:     "ICML",
			Category:  "AI",
			Instances: []conference.Instance{{Year: now.Year(), Deadline: day(20), Date: day(60)}},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scheduler.Timezone = "UTC"
	cfg.Cache.Refresh = ""
	cfg.Reminders.Reconcile = ""
	cfg.Reminders.TimeOfDay = ""
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...CoreOption) *App {
	t.Helper()
	fetch := conference.FetcherFunc(func(context.Context) ([]conference.Record, error) { return testRecords(), nil })
	opts = append([]CoreOption{WithLogger(logx.Nop()), WithFetcher(fetch)}, opts...)
	a, err := New(nil, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopUnknown); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartSubscribeAndRestart(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg := testConfig()
	cfg.Storage = &config.StorageConfig{Driver: "file", Path: "/data/store"}
	ctx := context.Background()

	a := newTestApp(t, cfg, WithStorageFs(fs))
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "welcome notification", func() bool { return len(a.notif.History()) >= 1 })
	if got := a.notif.History()[0].Text; got != "confwatch installed! Begin subscribing to your preferred conferences now." {
		t.Fatalf("welcome = %q", got)
	}

	rec := testRecords()[0]
	b, err := a.Tracker().Subscribe(ctx, rec, rec.Instances[1])
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !b.OK() || len(b.Scheduled) != 10 {
		t.Fatalf("batch = %+v", b)
	}
	if names := a.sched.Names(reminder.NamePrefix); len(names) != 10 {
		t.Fatalf("timers = %v", names)
	}
	if st := a.Status(ctx); !strings.Contains(st, "subscriptions: 1") || !strings.Contains(st, "reminders pending: 10") {
		t.Fatalf("status:\n%s", st)
	}
	stopApp(t, a)

	// A second process re-derives the timers and does not welcome again.
	b2 := newTestApp(t, cfg, WithStorageFs(fs))
	if err := b2.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer stopApp(t, b2)
	if names := b2.sched.Names(reminder.NamePrefix); len(names) != 10 {
		t.Fatalf("timers after restart = %d", len(names))
	}
	if _, ok := b2.sched.When("conference-neurips-next-deadline-7"); !ok {
		t.Fatalf("deadline-7 timer missing after restart")
	}
	if p, _, _ := b2.Store.Get(ctx, storage.KeyStoragePath); string(p) != "/data/store" {
		t.Fatalf("storagePath = %q", p)
	}
	time.Sleep(50 * time.Millisecond)
	for _, h := range b2.notif.History() {
		if strings.Contains(h.Text, "installed") {
			t.Fatalf("welcome repeated after restart")
		}
	}
}

func TestApplyMovesTimersAndJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := newTestApp(t, testConfig(), WithStore(storage.NewMemory()))
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	rec := testRecords()[0]
	if _, err := a.Tracker().Subscribe(ctx, rec, rec.Instances[1]); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	before, _ := a.sched.When("conference-neurips-next-deadline-7")

	next := testConfig()
	next.Reminders.TimeOfDay = "09:30"
	next.Reminders.Reconcile = "@every 30m"
	a.Apply(ctx, next)

	after, ok := a.sched.When("conference-neurips-next-deadline-7")
	if !ok || after.Sub(before) != 9*time.Hour+30*time.Minute {
		t.Fatalf("fire time %v -> %v", before, after)
	}
	snap := a.sched.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Name != jobReconcile {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}

	// Clearing the schedule removes the job.
	a.Apply(ctx, testConfig())
	if len(a.sched.Snapshot().Schedules) != 0 {
		t.Fatalf("reconcile job not removed")
	}
}

func TestReconcilePicksUpOutOfProcessChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := newTestApp(t, testConfig(), WithStore(storage.NewMemory()))
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	// The CLI path writes the store without touching timers.
	if _, err := a.Core.Subscribe(ctx, []string{"ICML"}); err != nil {
		t.Fatalf("Core.Subscribe: %v", err)
	}
	if n := len(a.sched.Names(reminder.NamePrefix)); n != 0 {
		t.Fatalf("timers before reconcile = %d", n)
	}
	a.hs.Emit(ctx, host.Event{Kind: host.EventReconcile})
	if n := len(a.sched.Names(reminder.NamePrefix)); n == 0 {
		t.Fatalf("reconcile registered no timers")
	}
}

func TestReminderRefiresAfterDeadlineMoves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := newTestApp(t, testConfig(), WithStore(storage.NewMemory()))
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	rec := testRecords()[0]
	if _, err := a.Tracker().Subscribe(ctx, rec, rec.Instances[1]); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	const name = "conference-neurips-next-deadline-7"
	reminders := func() int {
		n := 0
		for _, h := range a.notif.History() {
			if strings.HasPrefix(h.Text, "Only 7 days left") {
				n++
			}
		}
		return n
	}

	a.rem.Fire(ctx, name)
	a.rem.Fire(ctx, name)
	waitFor(t, "first reminder", func() bool { return reminders() == 1 })

	// The deadline is extended and the user subscribes again.
	moved := conference.NewSubscription(rec, rec.Instances[1])
	moved.Deadline = time.Now().UTC().AddDate(0, 0, 45).Format("2006-01-02")
	if _, err := a.Tracker().SubscribeSub(ctx, moved); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	a.rem.Fire(ctx, name)
	waitFor(t, "reminder for the new deadline", func() bool { return reminders() == 2 })

	time.Sleep(30 * time.Millisecond)
	if n := reminders(); n != 2 {
		t.Fatalf("delivered %d reminders, want 2", n)
	}
}
