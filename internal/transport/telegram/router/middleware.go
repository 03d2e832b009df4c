package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "confwatch/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// ErrUnauthorized is returned when a non-owner runs an owner-only command.
var ErrUnauthorized = errors.New("unauthorized")

const slowCommand = 750 * time.Millisecond

// Chain wraps h so that m[0] runs outermost.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// replyError answers the chat when the handler fails.
func replyError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			text := "error: " + err.Error()
			switch {
			case errors.Is(err, ErrUnauthorized):
				text = "unauthorized"
			case errors.Is(err, context.DeadlineExceeded):
				text = fmt.Sprintf("/%s timed out, try again later", req.Command)
			}
			// The handler's deadline may be spent; the reply gets its own.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = req.Reply(rctx, text)
			return err
		}
	}
}

func logOutcome() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.Int("args", len(req.Args)),
				logx.Duration("dur", d),
			}
			switch {
			case errors.Is(err, ErrUnauthorized):
				req.Logger.Info("command refused", fields...)
			case err != nil:
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			case d >= slowCommand:
				req.Logger.Info("command ok", fields...)
			default:
				req.Logger.Debug("command ok", fields...)
			}
			return err
		}
	}
}

func recoverPanic() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("command panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("internal error in /%s", req.Command)
				}
			}()
			return next(ctx, req)
		}
	}
}

// ownerOnly reads the allowlist per request so SetOwners applies immediately.
func ownerOnly(access Access, owners func() []int64) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if access != AccessOwnerOnly {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			if !isOwner(req.FromID, owners()) {
				return ErrUnauthorized
			}
			return next(ctx, req)
		}
	}
}

func deadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}
