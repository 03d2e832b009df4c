package app

import (
	"context"
	"testing"
	"time"

	"confwatch/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := Validate(context.Background(), config.Default()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"log level", func(c *config.Config) { c.Logging.Level = "loud" }},
		{"log file path", func(c *config.Config) { c.Logging.File.Enabled = true }},
		{"source repo", func(c *config.Config) { c.Source.Repo = "" }},
		{"fetch timeout", func(c *config.Config) { c.Fetch.Timeout = "soon" }},
		{"cache ttl", func(c *config.Config) { c.Cache.TTL = "-1h" }},
		{"cache refresh", func(c *config.Config) { c.Cache.Refresh = "61 * * * *" }},
		{"storage driver", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "redis"} }},
		{"sqlite path", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "sqlite"} }},
		{"timezone", func(c *config.Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"time of day", func(c *config.Config) { c.Reminders.TimeOfDay = "25:00" }},
		{"reconcile", func(c *config.Config) { c.Reminders.Reconcile = "whenever" }},
		{"engine workers", func(c *config.Config) { c.TaskEngine = &config.TaskEngineConfig{Workers: -1} }},
		{"notifier window", func(c *config.Config) { c.Notifier = &config.NotifierConfig{Enabled: true, KeyedWindow: "a week"} }},
		{"telegram token", func(c *config.Config) { c.Telegram.Enabled = true }},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(cfg)
		if err := Validate(context.Background(), cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in     *config.StorageConfig
		driver string
		path   string
	}{
		{nil, "file", defaultStorePath},
		{&config.StorageConfig{Driver: "memory"}, "memory", ""},
		{&config.StorageConfig{Driver: "FILE"}, "file", defaultStorePath},
		{&config.StorageConfig{Driver: "sqlite3", Path: "x.db", BusyTimeout: "3s"}, "sqlite", "x.db"},
	}
	for _, tc := range cases {
		cfg := config.Default()
		cfg.Storage = tc.in
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			t.Fatalf("%+v: %v", tc.in, err)
		}
		if sc.Driver != tc.driver || sc.Path != tc.path {
			t.Fatalf("%+v mapped to %+v", tc.in, sc)
		}
		if sc.Driver == "sqlite" && sc.BusyTimeout != 3*time.Second {
			t.Fatalf("busy timeout = %v", sc.BusyTimeout)
		}
	}
	cfg := config.Default()
	cfg.Storage = &config.StorageConfig{Driver: "file", CompactBytes: 64 << 10}
	if sc, err := mapStorageConfig(cfg); err != nil || sc.CompactBytes != 64<<10 {
		t.Fatalf("compact bytes = %+v, %v", sc, err)
	}
	cfg.Storage.CompactBytes = -1
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatalf("negative compact_bytes accepted")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Reminders.Title = "Heads up"
	nc, err := mapNotifierConfig(cfg)
	if err != nil || !nc.Enabled || nc.Title != "Heads up" {
		t.Fatalf("omitted section = %+v, %v", nc, err)
	}

	cfg.Notifier = &config.NotifierConfig{Enabled: false, KeyedWindow: "48h", RetryBase: "250ms", PersistDedup: true}
	nc, err = mapNotifierConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if nc.Enabled || nc.KeyedWindow != 48*time.Hour || nc.RetryBase != 250*time.Millisecond || !nc.PersistDedup {
		t.Fatalf("mapped = %+v", nc)
	}
}

func TestNotificationChatsFallBackToOwners(t *testing.T) {
	t.Parallel()

	got := notificationChats(config.TelegramConfig{OwnerUserIDs: []int64{7, 8}})
	if len(got) != 2 || got[0].ChatID != 7 {
		t.Fatalf("owners fallback = %+v", got)
	}
	got = notificationChats(config.TelegramConfig{OwnerUserIDs: []int64{7}, ChatIDs: []int64{-100}})
	if len(got) != 1 || got[0].ChatID != -100 {
		t.Fatalf("explicit chats = %+v", got)
	}
}
