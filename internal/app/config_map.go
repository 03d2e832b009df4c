package app

import (
	"fmt"
	"strings"
	"time"

	"confwatch/internal/conference"
	"confwatch/internal/config"
	"confwatch/internal/notifier"
	"confwatch/internal/reminder"
	"confwatch/internal/storage"
	"confwatch/internal/task/engine"
	"confwatch/internal/task/scheduler"
	kit "confwatch/internal/transport"
	telegram "confwatch/internal/transport/telegram/adapter"
	logx "confwatch/pkg/logx"
)

const defaultStorePath = "./confwatch_store"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: defaultStorePath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			path = defaultStorePath
		}
		if sc.CompactEvery < 0 || sc.CompactBytes < 0 {
			return storage.Config{}, fmt.Errorf("storage.compact_every and storage.compact_bytes must be >= 0")
		}
		return storage.Config{Driver: "file", Path: path, CompactEvery: sc.CompactEvery, CompactBytes: sc.CompactBytes}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Workers: 2, QueueSize: 256, HistorySize: 200}
	if cfg == nil || cfg.TaskEngine == nil {
		out.DefaultTimeout = 30 * time.Second
		return out, nil
	}
	te := cfg.TaskEngine
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: counts must be >= 0")
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	out.RetryMax = te.RetryMax
	d, err := config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	out.DefaultTimeout = d
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{Enabled: true, Title: cfg.Reminders.Title}
	nc := cfg.Notifier
	if nc == nil {
		return out, nil
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	out.Enabled = nc.Enabled
	out.Workers = nc.Workers
	out.QueueSize = nc.QueueSize
	out.RatePerSec = nc.RatePerSec
	out.RetryMax = nc.RetryMax
	out.DedupMaxEntries = nc.DedupMaxEntries
	out.PersistDedup = nc.PersistDedup

	durations := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"notifier.retry_base", nc.RetryBase, &out.RetryBase},
		{"notifier.retry_max_delay", nc.RetryMaxDelay, &out.RetryMaxDelay},
		{"notifier.dedup_window", nc.DedupWindow, &out.DedupWindow},
		{"notifier.keyed_window", nc.KeyedWindow, &out.KeyedWindow},
	}
	for _, d := range durations {
		v, err := config.ParseDurationField(d.path, d.raw)
		if err != nil {
			return notifier.Config{}, err
		}
		*d.dst = v
	}
	return out, nil
}

func mapFetchConfig(cfg *config.Config) (conference.GitHubSource, conference.GitHubOptions, error) {
	src := conference.GitHubSource{
		Owner:      strings.TrimSpace(cfg.Source.Owner),
		Repo:       strings.TrimSpace(cfg.Source.Repo),
		Branch:     strings.TrimSpace(cfg.Source.Branch),
		Path:       strings.Trim(strings.TrimSpace(cfg.Source.Path), "/"),
		Categories: cfg.Source.Categories,
		Token:      strings.TrimSpace(cfg.Source.Token),
		APIBase:    strings.TrimSpace(cfg.Source.APIBase),
	}
	if src.Owner == "" || src.Repo == "" {
		return src, conference.GitHubOptions{}, fmt.Errorf("source.owner and source.repo are required")
	}
	if cfg.Fetch.RatePerSec < 0 || cfg.Fetch.Burst < 0 {
		return src, conference.GitHubOptions{}, fmt.Errorf("fetch: rate_per_sec and burst must be >= 0")
	}
	timeout, err := config.ParseDurationOrDefault("fetch.timeout", cfg.Fetch.Timeout, 20*time.Second)
	if err != nil {
		return src, conference.GitHubOptions{}, err
	}
	return src, conference.GitHubOptions{
		Timeout:    timeout,
		RatePerSec: cfg.Fetch.RatePerSec,
		Burst:      cfg.Fetch.Burst,
		UserAgent:  strings.TrimSpace(cfg.Fetch.UserAgent),
	}, nil
}

func mapCacheTTL(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("cache.ttl", cfg.Cache.TTL, conference.DefaultTTL)
}

func mapPlanOptions(cfg *config.Config) (reminder.PlanOptions, error) {
	tod, err := config.ParseClock("reminders.time_of_day", cfg.Reminders.TimeOfDay)
	if err != nil {
		return reminder.PlanOptions{}, err
	}
	return reminder.PlanOptions{TimeOfDay: tod}, nil
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// mapTelegramConfig returns ok=false when Telegram is disabled.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Telegram
	if !tc.Enabled {
		return telegram.Config{}, false, nil
	}
	if strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false, fmt.Errorf("telegram.token is required when telegram.enabled=true")
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(tc.Token),
		PollTimeout: poll,
		Chats:       notificationChats(tc),
	}, true, nil
}

func notificationChats(tc config.TelegramConfig) []kit.ChatTarget {
	ids := tc.ChatIDs
	if len(ids) == 0 {
		ids = tc.OwnerUserIDs
	}
	out := make([]kit.ChatTarget, 0, len(ids))
	for _, id := range ids {
		out = append(out, kit.ChatTarget{ChatID: id})
	}
	return out
}

func validateSchedule(path, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if _, err := scheduler.ParseSchedule(raw); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
