// Package app wires confwatch together: storage, the conference cache, the
// reminder engine on top of the host timer facility, the notifier and its
// sinks, the Telegram command surface and config hot reload.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"confwatch/internal/config"
	"confwatch/internal/eventbus"
	"confwatch/internal/host"
	"confwatch/internal/notifier"
	"confwatch/internal/reminder"
	rtsup "confwatch/internal/runtime/supervisor"
	"confwatch/internal/storage"
	"confwatch/internal/task/engine"
	"confwatch/internal/task/scheduler"
	"confwatch/internal/tracker"
	kit "confwatch/internal/transport"
	"confwatch/internal/transport/journal"
	"confwatch/internal/transport/logsink"
	telegram "confwatch/internal/transport/telegram/adapter"
	"confwatch/internal/transport/telegram/router"
	logx "confwatch/pkg/logx"
)

const (
	jobCacheRefresh = "cache.refresh"
	jobReconcile    = "reminders.reconcile"
)

type App struct {
	*Core

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	log  logx.Logger

	engine  *engine.Service
	sched   *scheduler.Service
	notif   *notifier.Service
	hs      *host.Services
	rem     *reminder.Scheduler
	tracker *tracker.Tracker

	adapter *telegram.Adapter // nil when Telegram is disabled
	router  *router.Router
	updates chan kit.Update

	journalSink *journal.Sink
	logSink     *logsink.Sink

	// applyMu serializes hot reloads with Start.
	applyMu sync.Mutex
	applied *config.Config
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfgm *config.ConfigManager, cfg *config.Config, opts ...CoreOption) (*App, error) {
	core, err := OpenCore(cfg, opts...)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfgm, cfg, core)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	return a, nil
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config, core *Core) (*App, error) {
	log := core.Log.With(logx.String("comp", "app"))
	a := &App{Core: core, cfgm: cfgm, log: log, applied: cfg, updates: make(chan kit.Update, 256)}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, core.Log, core.Bus)
	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, a.engine, core.Log, core.Bus)

	tc, tgEnabled, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tgEnabled {
		if a.adapter, err = telegram.New(tc, core.Log); err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.router = router.New(core.Log, a.adapter, cfg.Telegram.OwnerUserIDs, 2)
	}
	a.journalSink = journal.New(cfg.Journal.Identifier)
	a.logSink = logsink.New(core.Log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, a.sinksFor(cfg), core.Log, core.Bus, core.Store, notifier.AllowAll)

	a.hs = &host.Services{Clock: core.Clock, Store: core.Store, Notifier: a.notif}
	a.hs.Timer = scheduler.NewHostTimer(a.sched, a.hs, engCfg.DefaultTimeout)

	a.rem = reminder.NewScheduler(a.hs, core.Subs, reminder.Options{
		Plan:  core.Plan,
		Title: cfg.Reminders.Title,
		Bus:   core.Bus,
	}, core.Log)
	a.tracker = tracker.New(a.hs, core.Cache, core.Subs, a.rem, tracker.Options{Title: cfg.Reminders.Title}, core.Log)
	a.tracker.Register()
	return a, nil
}

// sinksFor picks the notification sinks. The log sink is the fallback when
// nothing else is configured.
func (a *App) sinksFor(cfg *config.Config) []kit.Sink {
	var sinks []kit.Sink
	if a.adapter != nil {
		sinks = append(sinks, a.adapter.Sink())
	}
	if cfg.Journal.Enabled {
		sinks = append(sinks, a.journalSink)
	}
	if len(sinks) == 0 || (cfg.Notifier != nil && cfg.Notifier.Log) {
		sinks = append(sinks, a.logSink)
	}
	return sinks
}

func (a *App) Tracker() *tracker.Tracker { return a.tracker }

func (a *App) Host() *host.Services { return a.hs }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.engine.Start(run)
	a.sched.Start(run)
	if a.notif.Enabled() {
		a.notif.Start(run)
	}

	if a.adapter != nil {
		if err := a.adapter.Start(run, a.updates); err != nil {
			return fmt.Errorf("telegram start: %w", err)
		}
		a.router.SetCommands(run, a.commands())
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
	}

	if err := a.applyJobs(a.applied); err != nil {
		return err
	}

	// First run gets the welcome; every run re-derives timers from the store.
	if _, installed, _ := a.Store.Get(run, storage.KeyInstalledAt); !installed {
		a.hs.Emit(run, host.Event{Kind: host.EventInstalled})
	}
	a.hs.Emit(run, host.Event{Kind: host.EventStartup})

	a.startEventLog()
	if a.cfgm != nil {
		a.startConfigReload()
	}
	a.startSystemd()

	a.log.Info("app started",
		logx.Int("subscriptions", len(a.Subs.List(run))),
		logx.Bool("telegram", a.adapter != nil),
		logx.String("timezone", a.Clock.Location().String()),
	)
	return nil
}

// applyJobs installs or removes the periodic jobs for cfg.
func (a *App) applyJobs(cfg *config.Config) error {
	jobs := []struct {
		name, spec string
		run        func(ctx context.Context) error
	}{
		{jobCacheRefresh, cfg.Cache.Refresh, func(ctx context.Context) error {
			res := a.Cache.Refresh(ctx)
			if res.Err != nil {
				a.log.Warn("scheduled refresh failed", logx.String("source", string(res.Source)), logx.Err(res.Err))
			}
			return nil
		}},
		{jobReconcile, cfg.Reminders.Reconcile, func(ctx context.Context) error {
			a.hs.Emit(ctx, host.Event{Kind: host.EventReconcile})
			return nil
		}},
	}
	for _, j := range jobs {
		if strings.TrimSpace(j.spec) == "" {
			a.sched.Remove(j.name)
			continue
		}
		if err := a.sched.AddSchedule(j.name, j.spec, 2*time.Minute, j.run); err != nil {
			return fmt.Errorf("%s: %w", j.name, err)
		}
	}
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.Bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})
}

func (a *App) startConfigReload() {
	a.cfgm.SetLogger(a.Log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(Validate)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						break drain
					}
				}
				a.Apply(c, cfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
}

// Apply hot-swaps the parts of cfg that can change while running and warns
// about the rest.
func (a *App) Apply(ctx context.Context, cfg *config.Config) {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	sections, attrs := config.SummarizeConfigChange(a.applied, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	prev := a.applied
	a.applied = cfg

	restart := map[string]bool{"source": true, "fetch": true, "storage": true, "task_engine": true}
	for _, s := range sections {
		if restart[s] {
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}
	if cfg.Cache.TTL != prev.Cache.TTL {
		a.log.Warn("cache.ttl changed; restart required")
	}
	if cfg.Telegram.Enabled != prev.Telegram.Enabled || cfg.Telegram.Token != prev.Telegram.Token ||
		cfg.Telegram.PollTimeout != prev.Telegram.PollTimeout {
		a.log.Warn("telegram connection settings changed; restart required")
	}

	a.Log.Debug("config change summary", attrs...)

	if l := a.Core.logs; l != nil {
		l.Apply(mapLogConfig(cfg))
	}
	if a.router != nil {
		a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	}

	rescheduled := false
	if loc, err := mapLocation(cfg); err == nil && loc.String() != a.Clock.Location().String() {
		a.Clock.SetLocation(loc)
		a.sched.Apply(scheduler.Config{Timezone: cfg.Scheduler.Timezone})
		rescheduled = true
	}
	if plan, err := mapPlanOptions(cfg); err == nil && plan != a.Plan {
		a.Plan = plan
		a.rem.SetPlanOptions(plan)
		rescheduled = true
	}

	if err := a.applyJobs(cfg); err != nil {
		a.log.Warn("periodic jobs not updated", logx.Err(err))
	}

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		was := a.notif.Enabled()
		a.notif.Apply(ncfg)
		a.notif.SetSinks(a.sinksFor(cfg))
		switch {
		case was && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !was && ncfg.Enabled:
			a.notif.Start(a.sup.Context())
		}
	}

	if rescheduled {
		// Timer names are stable, so re-deriving replaces every fire time.
		a.hs.Emit(ctx, host.Event{Kind: host.EventReconcile})
	}

	a.Bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Core.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.adapter != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
	}
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.Core.Close()
}
