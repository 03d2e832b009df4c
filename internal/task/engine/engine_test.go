package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	logx "confwatch/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueueRunsAndRetries(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, RetryMax: 2}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "refresh",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("flaky")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	h := s.Snapshot().History[0]
	if h.Attempts != 3 || h.Error != "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, RetryMax: 5}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Enqueue(Task{Name: "bad", Run: func(context.Context) error { return NoRetry(errors.New("permanent")) }})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if h := s.Snapshot().History[0]; h.Attempts != 1 || h.Error != "permanent" {
		t.Fatalf("history = %+v", h)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1, RetryMax: -1}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Enqueue(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error { panic("oops") }})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if h := s.Snapshot().History[0]; h.Error != "panic: oops" {
		t.Fatalf("history = %+v", h)
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	release := make(chan struct{})
	st := &RunState{}
	task := Task{Name: "reconcile", State: st, Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error {
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue = %v, want ErrOverlapSkip", err)
	}
	close(release)
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("Enqueue after completion: %v", err)
	}
}

func TestEnqueueWhenStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v", err)
	}
}

func TestBackoffDelayBounded(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{}.withDefaults(Config{})
	rng := rand.New(rand.NewSource(1))
	for retry := 1; retry < 20; retry++ {
		d := backoffDelay(opt, retry, rng)
		if d < 0 || d > opt.RetryMaxDelay {
			t.Fatalf("retry %d: delay %v out of bounds", retry, d)
		}
	}
}
