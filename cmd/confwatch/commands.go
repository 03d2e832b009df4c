package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"confwatch/internal/app"
	"confwatch/internal/conference"
	"confwatch/internal/ics"
	logx "confwatch/pkg/logx"
)

// openCore loads the config and opens storage and the cache. CLI logging
// goes to stderr so stdout stays parseable.
func openCore(c *cli.Context) (*app.Core, error) {
	_, cfg, err := app.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	return app.OpenCore(cfg, app.WithLogger(logx.NewWriter(os.Stderr, "warn")))
}

func withCore(fn func(ctx context.Context, c *cli.Context, core *app.Core) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		core, err := openCore(c)
		if err != nil {
			return err
		}
		defer core.Close()
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return fn(ctx, c, core)
	}
}

func runDaemon(c *cli.Context) error {
	cfgm, cfg, err := app.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	a, err := app.New(cfgm, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(ctx); err != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopSIGTERM
		if s == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

var listConferences = withCore(func(ctx context.Context, c *cli.Context, core *app.Core) error {
	res := core.Cache.Lookup(ctx)
	if c.Bool("refresh") {
		res = core.Cache.Refresh(ctx)
	}
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (serving %s data)\n", res.Err, res.Source)
	}
	found := conference.Search(res.Records, strings.Join(c.Args(), " "))
	if len(found) == 0 {
		return errors.New("no conferences match")
	}
	fmt.Fprintln(c.App.Writer, app.FormatConferences(found, core.Clock.Now(), core.Clock.Location()))
	return nil
})

var listSubscriptions = withCore(func(ctx context.Context, c *cli.Context, core *app.Core) error {
	subs := core.Subs.List(ctx)
	if len(subs) == 0 {
		fmt.Fprintln(c.App.Writer, "no subscriptions")
		return nil
	}
	fmt.Fprintln(c.App.Writer, app.FormatSubscriptions(subs, core.PlanFor))
	return nil
})

var subscribe = withCore(func(ctx context.Context, c *cli.Context, core *app.Core) error {
	sub, err := core.Subscribe(ctx, c.Args())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "subscribed %s (%d reminders pending)\n", sub.ID, len(core.PlanFor(sub)))
	return nil
})

var unsubscribe = withCore(func(ctx context.Context, c *cli.Context, core *app.Core) error {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return errors.New("subscription id required")
	}
	if !core.Subs.Has(ctx, id) {
		return fmt.Errorf("not subscribed: %s", id)
	}
	if err := core.Subs.Remove(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "unsubscribed %s\n", id)
	return nil
})

var showPlan = withCore(func(ctx context.Context, c *cli.Context, core *app.Core) error {
	id := strings.TrimSpace(c.Args().First())
	sub, ok := core.Subs.Get(ctx, id)
	if !ok {
		return fmt.Errorf("not subscribed: %s", id)
	}
	plan := core.PlanFor(sub)
	if len(plan) == 0 {
		fmt.Fprintln(c.App.Writer, "no reminders left")
		return nil
	}
	for _, p := range plan {
		fmt.Fprintf(c.App.Writer, "%s  %s\n", p.FiresAt.Format("2006-01-02 15:04 MST"), p.Name())
	}
	return nil
})

var exportICS = withCore(func(ctx context.Context, c *cli.Context, core *app.Core) error {
	out := ics.Export(core.Subs.List(ctx), core.Clock.Now())
	if path := c.String("out"); path != "" {
		return afero.WriteFile(afero.NewOsFs(), path, []byte(out), 0o644)
	}
	_, err := fmt.Fprint(c.App.Writer, out)
	return err
})

func checkConfig(c *cli.Context) error {
	path := c.GlobalString("config")
	if _, _, err := app.LoadConfig(path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: ok\n", path)
	return nil
}
