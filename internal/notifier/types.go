package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Title           string // default title for Show
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	KeyedWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

const DefaultTitle = "Conference reminder"

type HistoryItem struct {
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
	Sinks []string  `json:"sinks"`
}

// Permission reports whether notifications may be shown right now.
type Permission interface {
	Allowed(ctx context.Context) bool
}

type PermissionFunc func(ctx context.Context) bool

func (f PermissionFunc) Allowed(ctx context.Context) bool { return f(ctx) }

// AllowAll grants every request.
var AllowAll Permission = PermissionFunc(func(context.Context) bool { return true })

// NotificationEvent is the Data of notifier.* bus events.
type NotificationEvent struct {
	ID    string    `json:"id"`
	Sink  string    `json:"sink,omitempty"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
