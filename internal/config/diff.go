package config

import (
	"reflect"
	"strings"

	logx "confwatch/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (tokens) are only reported as set or
// unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldSrc, newSrc := oldCfg.Source, newCfg.Source
	if oldSrc.Owner != newSrc.Owner || oldSrc.Repo != newSrc.Repo || oldSrc.Branch != newSrc.Branch || oldSrc.Path != newSrc.Path ||
		oldSrc.APIBase != newSrc.APIBase || !reflect.DeepEqual(oldSrc.Categories, newSrc.Categories) ||
		tokenSet(oldSrc.Token) != tokenSet(newSrc.Token) {
		mark("source",
			logx.String("source.repo", newSrc.Owner+"/"+newSrc.Repo),
			logx.String("source.branch", newSrc.Branch),
			logx.Strings("source.categories", newSrc.Categories),
			logx.Bool("source.token_set", tokenSet(newSrc.Token)),
		)
	}

	if oldCfg.Fetch != newCfg.Fetch {
		mark("fetch",
			logx.String("fetch.timeout", newCfg.Fetch.Timeout),
			logx.Any("fetch.rate_per_sec", newCfg.Fetch.RatePerSec),
		)
	}

	if oldCfg.Cache != newCfg.Cache {
		mark("cache",
			logx.String("cache.ttl", newCfg.Cache.TTL),
			logx.String("cache.refresh", newCfg.Cache.Refresh),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver, path := "", ""
		if newCfg.Storage != nil {
			driver, path = newCfg.Storage.Driver, newCfg.Storage.Path
		}
		mark("storage", logx.String("storage.driver", driver), logx.String("storage.path", path))
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		mark("scheduler", logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		var workers, queue int
		if te := newCfg.TaskEngine; te != nil {
			workers, queue = te.Workers, te.QueueSize
		}
		mark("task_engine", logx.Int("task_engine.workers", workers), logx.Int("task_engine.queue_size", queue))
	}

	if oldCfg.Reminders != newCfg.Reminders {
		mark("reminders",
			logx.String("reminders.time_of_day", newCfg.Reminders.TimeOfDay),
			logx.String("reminders.reconcile", newCfg.Reminders.Reconcile),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		enabled := newCfg.Notifier == nil || newCfg.Notifier.Enabled
		mark("notifier", logx.Bool("notifier.enabled", enabled))
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled || ot.PollTimeout != nt.PollTimeout ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) || !reflect.DeepEqual(ot.ChatIDs, nt.ChatIDs) ||
		ot.Token != nt.Token {
		mark("telegram",
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Bool("telegram.token_set", tokenSet(nt.Token)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int("telegram.chat_count", len(nt.ChatIDs)),
		)
	}

	if oldCfg.Journal != newCfg.Journal {
		mark("journal", logx.Bool("journal.enabled", newCfg.Journal.Enabled))
	}

	return changed, attrs
}

func tokenSet(s string) bool { return strings.TrimSpace(s) != "" }
