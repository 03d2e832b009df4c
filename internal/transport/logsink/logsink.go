// Package logsink delivers notifications to the process log.
package logsink

import (
	"context"

	"confwatch/internal/transport"
	logx "confwatch/pkg/logx"
)

type Sink struct {
	log logx.Logger
}

func New(log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{log: log.With(logx.String("comp", "notify.log"))}
}

func (s *Sink) Name() string { return "log" }

func (s *Sink) Deliver(ctx context.Context, n transport.Notification) error {
	_ = ctx
	s.log.Info(n.Text, logx.String("title", n.Title), logx.Int("priority", n.Priority))
	return nil
}
