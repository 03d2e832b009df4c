package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"confwatch/internal/conference"
	"confwatch/internal/config"
	"confwatch/internal/eventbus"
	"confwatch/internal/host"
	"confwatch/internal/reminder"
	"confwatch/internal/storage"
	"confwatch/internal/subscription"
	logx "confwatch/pkg/logx"
)

// Core is the part of the process that works without timers or transports:
// storage, the conference cache and the subscription store. The CLI uses it
// directly; App builds on top of it.
type Core struct {
	Config *config.Config
	Log    logx.Logger
	Bus    eventbus.Bus
	Store  storage.KV
	Clock  *host.ZoneClock
	Cache  *conference.Cache
	Subs   *subscription.Store
	Plan   reminder.PlanOptions

	logs *logx.Service
}

type coreOptions struct {
	log     logx.Logger
	fetcher conference.Fetcher
	store   storage.KV
	fs      afero.Fs
}

type CoreOption func(*coreOptions)

// WithLogger skips creating a logging service from the config.
func WithLogger(log logx.Logger) CoreOption { return func(o *coreOptions) { o.log = log } }

// WithFetcher replaces the GitHub fetcher.
func WithFetcher(f conference.Fetcher) CoreOption { return func(o *coreOptions) { o.fetcher = f } }

// WithStore replaces the configured storage backend.
func WithStore(kv storage.KV) CoreOption { return func(o *coreOptions) { o.store = kv } }

// WithStorageFs routes the file storage driver through fs.
func WithStorageFs(fs afero.Fs) CoreOption { return func(o *coreOptions) { o.fs = fs } }

func OpenCore(cfg *config.Config, opts ...CoreOption) (*Core, error) {
	var o coreOptions
	for _, fn := range opts {
		fn(&o)
	}

	c := &Core{Config: cfg, Bus: eventbus.New()}
	if o.log.IsZero() {
		c.logs, c.Log = logx.New(mapLogConfig(cfg))
	} else {
		c.Log = o.log
	}

	loc, err := mapLocation(cfg)
	if err != nil {
		return nil, err
	}
	c.Clock = host.NewZoneClock(loc)

	if c.Plan, err = mapPlanOptions(cfg); err != nil {
		return nil, err
	}

	c.Store = o.store
	if c.Store == nil {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			return nil, err
		}
		sc.Fs = o.fs
		if c.Store, err = storage.Open(sc, c.Log); err != nil {
			return nil, err
		}
		c.Log.Debug("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
		if sc.Path != "" {
			if err := c.Store.Set(context.Background(), storage.KeyStoragePath, []byte(sc.Path)); err != nil {
				c.Log.Warn("record storage path failed", logx.Err(err))
			}
		}
	}

	fetcher := o.fetcher
	if fetcher == nil {
		src, fopts, err := mapFetchConfig(cfg)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		fetcher = conference.NewGitHubFetcher(src, fopts, c.Log.With(logx.String("comp", "fetch")))
	}
	ttl, err := mapCacheTTL(cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Cache = conference.NewCache(c.Store, fetcher, c.Clock, conference.CacheOptions{TTL: ttl, Bus: c.Bus}, c.Log)
	c.Subs = subscription.New(c.Store, c.Clock, c.Bus, c.Log)
	return c, nil
}

// Close releases storage and the log file.
func (c *Core) Close() error {
	var errs []error
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	if c.logs != nil {
		errs = append(errs, c.logs.Close())
	}
	return errors.Join(errs...)
}

// PlanFor computes the pending reminders of sub at the current time.
func (c *Core) PlanFor(sub conference.Subscription) []reminder.Scheduled {
	return reminder.Plan(sub, c.Clock.Now(), c.Clock.Location(), c.Plan)
}

// ErrNotFound is returned when a command argument matches no conference.
var ErrNotFound = errors.New("conference not found")

// Resolve finds the instance named by args, which are one of
//
//	<instance-id>
//	<title words...> <year>
//	<title words...>            (latest year)
func Resolve(records []conference.Record, args []string) (conference.Record, conference.Instance, error) {
	if len(args) == 0 {
		return conference.Record{}, conference.Instance{}, errors.New("conference name required")
	}
	if len(args) == 1 {
		if rec, in, ok := conference.Lookup(records, args[0]); ok {
			return rec, in, nil
		}
	}

	title := strings.Join(args, " ")
	year := 0
	if n := len(args); n > 1 {
		if y, err := strconv.Atoi(args[n-1]); err == nil {
			title, year = strings.Join(args[:n-1], " "), y
		}
	}
	rec, ok := conference.FindByTitle(records, title)
	if !ok {
		return conference.Record{}, conference.Instance{}, fmt.Errorf("%w: %s", ErrNotFound, title)
	}
	var in conference.Instance
	if year != 0 {
		in, ok = rec.Find(year)
	} else {
		in, ok = rec.Latest()
	}
	if !ok {
		return conference.Record{}, conference.Instance{}, fmt.Errorf("%w: %s has no edition %d", ErrNotFound, rec.Title, year)
	}
	return rec, in, nil
}

// Subscribe resolves args against the cache and stores the subscription
// without registering timers. A running daemon picks it up on its next
// reconcile.
func (c *Core) Subscribe(ctx context.Context, args []string) (conference.Subscription, error) {
	rec, in, err := Resolve(c.Cache.Get(ctx), args)
	if err != nil {
		return conference.Subscription{}, err
	}
	sub := conference.NewSubscription(rec, in)
	if err := c.Subs.Add(ctx, sub); err != nil {
		return conference.Subscription{}, err
	}
	return sub, nil
}
