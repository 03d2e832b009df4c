package scheduler

import (
	"context"
	"sync"
	"time"

	"confwatch/internal/eventbus"
	"confwatch/internal/task/engine"
	logx "confwatch/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

type TaskOptions = engine.TaskOptions

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

type Job func(ctx context.Context) error

type scheduleDef struct {
	name        string
	spec        string // cron spec or @every
	timeout     time.Duration
	job         Job
	entryID     cron.EntryID
	firstOffset time.Duration
	opt         TaskOptions
	state       *engine.RunState
}

// onceDef survives Stop so Start can re-arm it. ver discards callbacks of
// replaced timers.
type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	tmu     sync.Mutex
	once    map[string]*onceDef
	running bool
	verSeq  uint64
}

type ScheduleInfo struct {
	Name        string        `json:"name"`
	Spec        string        `json:"spec"`
	Timeout     time.Duration `json:"timeout"`
	FirstOffset time.Duration `json:"first_offset,omitempty"` // interval jobs only
	Next        time.Time     `json:"next"`
	Prev        time.Time     `json:"prev"`
}

type TimerInfo struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

type Snapshot struct {
	Timezone  string
	Schedules []ScheduleInfo
	Timers    []TimerInfo
	Engine    engine.Snapshot
}
