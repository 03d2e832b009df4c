package app

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"confwatch/internal/conference"
	"confwatch/internal/reminder"
	"confwatch/internal/storage"
	kit "confwatch/internal/transport"
	"confwatch/internal/transport/telegram/router"
	logx "confwatch/pkg/logx"
)

type chatRecorder struct {
	mu   sync.Mutex
	sent []string
}

func (c *chatRecorder) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *chatRecorder) Stop(context.Context) error                     { return nil }
func (c *chatRecorder) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (c *chatRecorder) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func TestChatCommands(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestApp(t, testConfig(), WithStore(storage.NewMemory()))
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	chat := &chatRecorder{}
	r := router.New(logx.Nop(), chat, []int64{42}, 1)
	r.SetCommands(ctx, a.commands())
	updates := make(chan kit.Update, 8)
	go func() { _ = r.Run(ctx, updates) }()

	send := func(text string) string {
		t.Helper()
		n := len(chat.texts())
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, FromID: 42, Text: text}}
		waitFor(t, "reply to "+text, func() bool { return len(chat.texts()) > n })
		return chat.texts()[n]
	}

	if got := send("/conferences neur"); !strings.Contains(got, "NeurIPS") || strings.Contains(got, "ICML") {
		t.Fatalf("/conferences = %q", got)
	}
	if got := send("/subscribe neurips-next"); !strings.HasPrefix(got, "subscribed neurips-next (10 reminders)") {
		t.Fatalf("/subscribe = %q", got)
	}
	if got := send("/subs"); !strings.Contains(got, "neurips-next: NeurIPS") || !strings.Contains(got, "next reminder") {
		t.Fatalf("/subs = %q", got)
	}
	if got := send("/subscribe Nope 2020"); !strings.HasPrefix(got, "error: conference not found") {
		t.Fatalf("/subscribe unknown = %q", got)
	}
	if got := send("/unsubscribe neurips-next"); got != "unsubscribed neurips-next" {
		t.Fatalf("/unsubscribe = %q", got)
	}
	if n := len(a.sched.Names(reminder.NamePrefix)); n != 0 {
		t.Fatalf("timers left after unsubscribe: %d", n)
	}
	if got := send("/unsubscribe neurips-next"); got != "not subscribed: neurips-next" {
		t.Fatalf("second /unsubscribe = %q", got)
	}
	if got := send("/refresh"); got != "refreshed: 2 conferences" {
		t.Fatalf("/refresh = %q", got)
	}
	if got := send("/status"); !strings.Contains(got, "cache: 2 conferences") || !strings.Contains(got, "timezone: UTC") {
		t.Fatalf("/status = %q", got)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	recs := testRecords()
	year := time.Now().UTC().Year()
	cases := []struct {
		args []string
		id   string
		err  bool
	}{
		{[]string{"neurips-next"}, "neurips-next", false},
		{[]string{"NeurIPS"}, "neurips-next", false},
		{[]string{"neurips", strconv.Itoa(year - 1)}, conference.SubscriptionID("NeurIPS", conference.Instance{Year: year - 1}), false},
		{[]string{"neurips", "1999"}, "", true},
		{[]string{"Unknown", "Conf"}, "", true},
		{nil, "", true},
	}
	for _, tc := range cases {
		rec, in, err := Resolve(recs, tc.args)
		if tc.err {
			if err == nil {
				t.Fatalf("Resolve(%v) = %s, want error", tc.args, conference.SubscriptionID(rec.Title, in))
			}
			continue
		}
		if err != nil {
			t.Fatalf("Resolve(%v): %v", tc.args, err)
		}
		if got := conference.SubscriptionID(rec.Title, in); got != tc.id {
			t.Fatalf("Resolve(%v) = %s, want %s", tc.args, got, tc.id)
		}
	}
}

func TestFormatConferencesTruncates(t *testing.T) {
	t.Parallel()

	recs := make([]conference.Record, maxListed+3)
	for i := range recs {
		recs[i] = conference.Record{Title: "C", Category: "X"}
	}
	out := FormatConferences(recs, time.Now(), time.UTC)
	if !strings.HasSuffix(out, "... and 3 more, narrow the query") {
		t.Fatalf("tail = %q", out[len(out)-40:])
	}
}
