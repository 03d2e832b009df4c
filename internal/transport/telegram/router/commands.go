// Package router dispatches chat commands ("/name args...") to handlers on a
// bounded worker pool, with owner-only access control.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "confwatch/internal/runtime/supervisor"
	kit "confwatch/internal/transport"
	logx "confwatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	adapter kit.Adapter
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Router struct {
	mu     sync.RWMutex
	cmds   map[string]Command // name and aliases
	order  []Command
	owners []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64, workers int) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = 2
	}
	return &Router{
		cmds:    map[string]Command{},
		owners:  append([]int64(nil), owners...),
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		workers: workers,
		jobs:    make(chan func(), 64),
	}
}

// SetOwners replaces the owner allowlist. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetCommands replaces the registry. /help is always added.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "list commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	})
	m := map[string]Command{}
	order := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		m[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				m[a] = c
			}
		}
		order = append(order, c)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Name < order[j].Name })

	r.mu.Lock()
	r.cmds = m
	r.order = order
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := make([]kit.BotCommand, 0, len(order))
		for _, c := range order {
			menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(cctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	}
}

func (r *Router) helpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for _, c := range r.order {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Run dispatches updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for i := 0; i < r.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					func() {
						defer func() {
							if p := recover(); p != nil {
								r.log.Error("panic in command job", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))
	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				r.route(ctx, up.Message)
			}
		}
	}
}

func (r *Router) route(ctx context.Context, msg *kit.Message) {
	name, args, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	cmd, found := r.cmds[name]
	r.mu.RUnlock()
	if !found {
		_, _ = r.adapter.SendText(ctx, to, fmt.Sprintf("unknown command /%s, try: %s", name, r.commandList()), nil)
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Chat:    to,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Logger:  r.log.With(logx.String("rid", rid), logx.String("cmd", cmd.Name)),
		adapter: r.adapter,
	}
	final := Chain(cmd.Handle, replyError(), logOutcome(), recoverPanic(), ownerOnly(cmd.Access, r.ownerList), deadline(cmd.Timeout))
	job := func() { _ = final(ctx, req) }
	select {
	case r.jobs <- job:
	default:
		_, _ = r.adapter.SendText(ctx, to, "busy, try again", nil)
	}
}

// ParseCommand splits "/name@bot a b" into ("name", ["a","b"]).
func ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func (r *Router) ownerList() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners
}

func (r *Router) commandList() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, c := range r.order {
		names = append(names, "/"+c.Name)
	}
	return strings.Join(names, " ")
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
