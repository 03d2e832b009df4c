package config

// Config is the on-disk configuration (YAML or JSON). Durations are Go
// duration strings ("500ms", "10s", "1h").
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	Source     SourceConfig      `json:"source"`
	Fetch      FetchConfig       `json:"fetch"`
	Cache      CacheConfig       `json:"cache"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Reminders  RemindersConfig   `json:"reminders"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Telegram   TelegramConfig    `json:"telegram"`
	Journal    JournalConfig     `json:"journal"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SourceConfig points at the GitHub repository holding conference YAML
// files, one directory per category.
type SourceConfig struct {
	Owner      string   `json:"owner"`
	Repo       string   `json:"repo"`
	Branch     string   `json:"branch,omitempty"`
	Path       string   `json:"path,omitempty"`
	Categories []string `json:"categories,omitempty"`
	// Token is optional and raises the API rate limit (do not log).
	Token   string `json:"token,omitempty"`
	APIBase string `json:"api_base,omitempty"`
}

type FetchConfig struct {
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
}

type CacheConfig struct {
	TTL string `json:"ttl,omitempty"`
	// Refresh is a schedule (cron, HH:MM interval or duration) for
	// background refreshes. Empty disables them; reads still refresh lazily.
	Refresh string `json:"refresh,omitempty"`
}

// StorageConfig selects the key/value backend.
//
//	"storage": { "driver": "file", "path": "./confwatch_store" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite
	CompactEvery int    `json:"compact_every,omitempty"` // file
	CompactBytes int64  `json:"compact_bytes,omitempty"` // file
}

type SchedulerConfig struct {
	// Timezone of calendar-day math and timers. Empty means Local.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls execution of fired timers and scheduled jobs.
//
// Defaults: workers 2, queue_size 256, history_size 200, retry_max 0.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

type RemindersConfig struct {
	// TimeOfDay is the local HH:MM reminders fire at. Empty means midnight.
	TimeOfDay string `json:"time_of_day,omitempty"`
	// Reconcile is a schedule for re-deriving timers from the subscription
	// store. Empty disables it.
	Reconcile string `json:"reconcile,omitempty"`
	Title     string `json:"title,omitempty"`
}

// NotifierConfig controls the async notification pipeline. When the section
// is omitted the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	KeyedWindow     string `json:"keyed_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	// Log also writes every notification to the process log.
	Log bool `json:"log,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// ChatIDs receive notifications. Empty means the owners' private chats.
	ChatIDs     []int64 `json:"chat_ids,omitempty"`
	PollTimeout string  `json:"poll_timeout,omitempty"`
}

type JournalConfig struct {
	Enabled    bool   `json:"enabled"`
	Identifier string `json:"identifier,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Source: SourceConfig{
			Owner:  "chateda-ichip",
			Repo:   "ConfTrack",
			Branch: "main",
			Path:   "conference",
		},
		Fetch:     FetchConfig{Timeout: "20s", RatePerSec: 5, Burst: 5},
		Cache:     CacheConfig{TTL: "1h", Refresh: "6h"},
		Storage:   &StorageConfig{Driver: "file", Path: "./confwatch_store"},
		Reminders: RemindersConfig{TimeOfDay: "09:00", Reconcile: "@every 30m"},
	}
}
