package scheduler

import (
	"context"
	"time"

	"confwatch/internal/host"
)

// HostTimer adapts the one-shot timers to host.Timer. A fired timer emits
// host.EventAlarm on the services it was bound to.
type HostTimer struct {
	svc     *Service
	hs      *host.Services
	timeout time.Duration
}

func NewHostTimer(svc *Service, hs *host.Services, timeout time.Duration) *HostTimer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HostTimer{svc: svc, hs: hs, timeout: timeout}
}

func (t *HostTimer) Schedule(ctx context.Context, name string, at time.Time) error {
	_ = ctx
	return t.svc.AddOnce(name, at, t.timeout, func(ctx context.Context) error {
		t.hs.Alarm(ctx, name)
		return nil
	})
}

func (t *HostTimer) Clear(ctx context.Context, name string) error {
	_ = ctx
	t.svc.Remove(name)
	return nil
}

func (t *HostTimer) Names(ctx context.Context, prefix string) ([]string, error) {
	_ = ctx
	return t.svc.Names(prefix), nil
}
