package redisstream

import (
	"github.com/trickstertwo/pbjx"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Option configures the pbjx.Builder when calling Use.
type Option func(*pbjx.Builder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *pbjx.Builder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *pbjx.Builder) { b.WithClock(c) }
}

// WithHandlers installs the handler registry consumers dispatch to.
func WithHandlers(r *pbjx.HandlerRegistry) Option {
	return func(b *pbjx.Builder) { b.WithHandlers(r) }
}

// WithDispatcher installs a dispatcher with listeners already registered.
func WithDispatcher(d *pbjx.Dispatcher) Option {
	return func(b *pbjx.Builder) { b.WithDispatcher(d) }
}

// WithMiddleware adds handler middlewares.
func WithMiddleware(mw ...pbjx.Middleware) Option {
	return func(b *pbjx.Builder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches telemetry observers.
func WithObserver(obs ...pbjx.Observer) Option {
	return func(b *pbjx.Builder) { b.WithObserver(obs...) }
}

// WithExceptionHandler replaces the default logging exception handler.
func WithExceptionHandler(h pbjx.ExceptionHandler) Option {
	return func(b *pbjx.Builder) { b.WithExceptionHandler(h) }
}
