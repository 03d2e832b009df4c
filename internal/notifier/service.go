package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"confwatch/internal/eventbus"
	rtsup "confwatch/internal/runtime/supervisor"
	"confwatch/internal/storage"
	kit "confwatch/internal/transport"
	logx "confwatch/pkg/logx"
)

var (
	ErrDisabled         = errors.New("notifier disabled")
	ErrQueueFull        = errors.New("notifier queue full")
	ErrStopped          = errors.New("notifier stopped")
	ErrPermissionDenied = errors.New("notification permission denied")
)

const historyMax = 300

type job struct {
	id       string
	n        kit.Notification
	dedupKey string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store storage.KV
	perm  Permission
	sinks []kit.Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	persistCh chan dedupWrite

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sinks []kit.Sink, log logx.Logger, bus eventbus.Bus, store storage.KV, perm Permission) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if perm == nil {
		perm = AllowAll
	}
	s := &Service{
		log:   log.With(logx.String("comp", "notifier")),
		bus:   bus,
		store: store,
		perm:  perm,
		sinks: append([]kit.Sink(nil), sinks...),
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Workers and queue size take effect on next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetSinks replaces the delivery targets.
func (s *Service) SetSinks(sinks []kit.Sink) {
	s.mu.Lock()
	s.sinks = append([]kit.Sink(nil), sinks...)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.KeyedWindow <= 0 {
		cfg.KeyedWindow = 7 * 24 * time.Hour
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	// burst = rate so short spikes pass.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	// Notification failures must not take the process down.
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup, q, pch, st := s.sup, s.queue, s.persistCh, s.store
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return s.loopExit(c, "persist")
		})
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return s.loopExit(c, "worker")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("sinks", len(s.sinkSnapshot())))
}

// loopExit maps a loop return to the supervisor: clean on shutdown, an error otherwise.
func (s *Service) loopExit(c context.Context, what string) error {
	s.mu.Lock()
	stopping := s.stopDone != nil
	s.mu.Unlock()
	if stopping {
		return nil
	}
	if c.Err() != nil {
		return c.Err()
	}
	return fmt.Errorf("notifier %s loop exited unexpectedly", what)
}

// Stop stops intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight enqueues finish before the queue closes.
		s.sendWG.Wait()
		if pch != nil {
			close(pch)
		}
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.persistCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		s.log.Info("notifier stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Show displays a notification. Failures are logged, never returned.
func (s *Service) Show(ctx context.Context, title, message string) {
	s.show(ctx, "", title, message)
}

// ShowKeyed is Show with an explicit dedup key held for KeyedWindow.
func (s *Service) ShowKeyed(ctx context.Context, key, title, message string) {
	s.show(ctx, key, title, message)
}

func (s *Service) show(ctx context.Context, key, title, message string) {
	if !s.perm.Allowed(ctx) {
		s.log.Debug("notification suppressed", logx.Err(ErrPermissionDenied), logx.String("key", key))
		return
	}
	if title == "" {
		s.mu.Lock()
		title = s.cfg.Title
		s.mu.Unlock()
	}
	err := s.Notify(ctx, kit.Notification{Title: title, Text: message, Key: key, At: time.Now()})
	if err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Warn("notification not queued", logx.Err(err), logx.String("key", key))
	}
}

// Notify enqueues n. A suppressed duplicate returns nil.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	if n.Key != "" {
		window = s.cfg.KeyedWindow
	}
	dedupMax := s.cfg.DedupMaxEntries
	st := s.store
	if !s.cfg.PersistDedup {
		st = nil
	}
	pch := s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	id := uuid.NewString()
	key := dedupKey(n)
	now := time.Now()
	var until time.Time
	if window > 0 {
		var ok bool
		if until, ok = s.dedupReserve(ctx, key, now, window, dedupMax, st); !ok {
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifierDeduped, Time: now, Data: NotificationEvent{ID: id, Key: key, At: now}})
			return nil
		}
	}

	select {
	case q <- job{id: id, n: n, dedupKey: key}:
		if window > 0 && pch != nil {
			select {
			case pch <- dedupWrite{key: key, until: until}:
			default:
			}
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifierQueued, Time: now, Data: NotificationEvent{ID: id, Key: key, At: now}})
		return nil
	default:
		if window > 0 {
			s.dedupRelease(key, until)
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifierDropped, Time: now, Data: NotificationEvent{ID: id, Key: key, At: now, Error: ErrQueueFull.Error()}})
		return ErrQueueFull
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}

func (s *Service) sinkSnapshot() []kit.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]kit.Sink(nil), s.sinks...)
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.KV) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			err := st.Set(cctx, storage.PrefixDedup+w.key, []byte(w.until.UTC().Format(time.RFC3339Nano)))
			cancel()
			if err != nil {
				s.log.Debug("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

// deliver sends j to every sink. A notification counts as shown when at
// least one sink accepted it.
func (s *Service) deliver(ctx context.Context, j job) {
	var delivered []string
	for _, sink := range s.sinkSnapshot() {
		if err := s.sendWithRetry(ctx, sink, j); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("notification delivery failed", logx.String("sink", sink.Name()), logx.Err(err))
			now := time.Now()
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifierFailed, Time: now, Data: NotificationEvent{ID: j.id, Sink: sink.Name(), Key: j.dedupKey, At: now, Error: err.Error()}})
			continue
		}
		delivered = append(delivered, sink.Name())
		now := time.Now()
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifierSent, Time: now, Data: NotificationEvent{ID: j.id, Sink: sink.Name(), Key: j.dedupKey, At: now}})
	}
	if len(delivered) > 0 {
		s.appendHistory(HistoryItem{ID: j.id, At: time.Now(), Title: j.n.Title, Text: j.n.Text, Sinks: delivered})
	}
}

func (s *Service) sendWithRetry(ctx context.Context, sink kit.Sink, j job) error {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sink.Deliver(callCtx, j.n)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("sink", sink.Name()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

// dedupKey hashes the explicit key, or the content when there is none.
func dedupKey(n kit.Notification) string {
	h := fnv.New64a()
	if n.Key != "" {
		_, _ = h.Write([]byte("key|" + n.Key))
	} else {
		_, _ = h.Write([]byte(strings.Join([]string{n.Title, n.Text}, "|")))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupReserve claims key for window unless an earlier claim is still live.
// The claim is held in memory; Notify persists it once the job is queued.
func (s *Service) dedupReserve(ctx context.Context, key string, now time.Time, window time.Duration, max int, st storage.KV) (time.Time, bool) {
	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return time.Time{}, false
	}
	s.dmu.Unlock()

	// Persisted windows cover restarts.
	if st != nil {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		raw, ok, err := st.Get(cctx, storage.PrefixDedup+key)
		cancel()
		if err == nil && ok {
			if until, perr := time.Parse(time.RFC3339Nano, string(raw)); perr == nil && now.Before(until) {
				s.dmu.Lock()
				s.dedup[key] = until
				s.dmu.Unlock()
				return time.Time{}, false
			}
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	// Evict earliest expiry until within cap.
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()
	return until, true
}

// dedupRelease drops a claim whose job never made it into the queue.
func (s *Service) dedupRelease(key string, until time.Time) {
	s.dmu.Lock()
	if u, ok := s.dedup[key]; ok && u.Equal(until) {
		delete(s.dedup, key)
	}
	s.dmu.Unlock()
}

// retryDelay is the wait before attempt+1: exponential with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
