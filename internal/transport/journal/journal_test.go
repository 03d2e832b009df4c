package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/coreos/go-systemd/v22/journal"

	"confwatch/internal/transport"
)

func TestDeliverFields(t *testing.T) {
	t.Parallel()
	var (
		gotMsg  string
		gotPri  journal.Priority
		gotVars map[string]string
	)
	s := New("")
	s.enabled = func() bool { return true }
	s.send = func(msg string, p journal.Priority, vars map[string]string) error {
		gotMsg, gotPri, gotVars = msg, p, vars
		return nil
	}
	err := s.Deliver(context.Background(), transport.Notification{Title: "Conference reminder", Text: "hi", Key: "k", Priority: 7})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotMsg != "hi" || gotPri != journal.PriWarning {
		t.Fatalf("msg=%q pri=%v", gotMsg, gotPri)
	}
	if gotVars["SYSLOG_IDENTIFIER"] != "confwatch" || gotVars["CONFWATCH_DEDUP_KEY"] != "k" {
		t.Fatalf("vars = %v", gotVars)
	}
}

func TestDeliverUnavailable(t *testing.T) {
	t.Parallel()
	s := New("x")
	s.enabled = func() bool { return false }
	if err := s.Deliver(context.Background(), transport.Notification{Text: "hi"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}
