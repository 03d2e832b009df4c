// Package journal delivers notifications to the systemd journal with
// structured fields so they can be filtered with journalctl.
package journal

import (
	"context"
	"errors"
	"strconv"

	"github.com/coreos/go-systemd/v22/journal"

	"confwatch/internal/transport"
)

var ErrUnavailable = errors.New("systemd journal unavailable")

// sendFunc is swapped in tests.
type sendFunc func(msg string, p journal.Priority, vars map[string]string) error

type Sink struct {
	identifier string
	send       sendFunc
	enabled    func() bool
}

func New(identifier string) *Sink {
	if identifier == "" {
		identifier = "confwatch"
	}
	return &Sink{identifier: identifier, send: journal.Send, enabled: journal.Enabled}
}

func (s *Sink) Name() string { return "journal" }

func (s *Sink) Deliver(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.enabled() {
		return ErrUnavailable
	}
	vars := map[string]string{
		"SYSLOG_IDENTIFIER":   s.identifier,
		"CONFWATCH_TITLE":     n.Title,
		"CONFWATCH_PRIORITY":  strconv.Itoa(n.Priority),
		"CONFWATCH_DEDUP_KEY": n.Key,
	}
	return s.send(n.Text, priorityFor(n.Priority), vars)
}

func priorityFor(p int) journal.Priority {
	switch {
	case p >= 9:
		return journal.PriCrit
	case p >= 7:
		return journal.PriWarning
	case p >= 5:
		return journal.PriNotice
	default:
		return journal.PriInfo
	}
}
