package pbjx

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in pbjx (prevents collisions).
type ctxKey string

const (
	runtimeCtxKey ctxKey = "pbjx:runtime"
	loggerCtxKey  ctxKey = "pbjx:logger"
	clockCtxKey   ctxKey = "pbjx:clock"
)

// WithRuntime attaches p to ctx for code that cannot take the runtime as a
// parameter. Receive paths do this automatically.
func WithRuntime(ctx context.Context, p *Pbjx) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, runtimeCtxKey, p)
}

// FromContext retrieves a runtime previously attached with WithRuntime.
func FromContext(ctx context.Context) (*Pbjx, bool) {
	if v := ctx.Value(runtimeCtxKey); v != nil {
		if p, ok := v.(*Pbjx); ok && p != nil {
			return p, true
		}
	}
	return nil, false
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

// InjectAll attaches the runtime with its logger and clock.
func InjectAll(ctx context.Context, p *Pbjx) context.Context {
	if p == nil {
		return ctx
	}
	if cur, ok := FromContext(ctx); ok && cur == p {
		return ctx
	}
	ctx = WithRuntime(ctx, p)
	ctx = injectLogger(ctx, p.logger)
	ctx = injectClock(ctx, p.clock)
	return ctx
}
