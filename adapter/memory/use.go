package memory

import (
	"fmt"

	"github.com/trickstertwo/pbjx"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Use builds a Pbjx with the in-memory transport and sets it as the default.
//
// Example:
//
//	p := memory.Use(memory.Config{RoundTrip: true},
//	    memory.WithLogger(logger),
//	    memory.WithHandlers(handlers),
//	)
func Use(cfg Config, opts ...Option) *pbjx.Pbjx {
	b := pbjx.NewBuilder().
		WithTransport(TransportName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}

	p, err := b.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}

	pbjx.SetDefault(p)
	return p
}

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

// WithHandlers installs the handler registry.
func WithHandlers(r *pbjx.HandlerRegistry) Option {
	return func(b *pbjx.Builder) { b.WithHandlers(r) }
}

// WithDispatcher installs a dispatcher with listeners already registered.
func WithDispatcher(d *pbjx.Dispatcher) Option {
	return func(b *pbjx.Builder) { b.WithDispatcher(d) }
}

// WithExceptionHandler replaces the default logging exception handler.
func WithExceptionHandler(h pbjx.ExceptionHandler) Option {
	return func(b *pbjx.Builder) { b.WithExceptionHandler(h) }
}

// WithMiddleware adds handler middlewares (retry, timeout, etc).
func WithMiddleware(mw ...pbjx.Middleware) Option {
	return func(b *pbjx.Builder) { b.WithMiddleware(mw...) }
}

// WithObserver attaches telemetry observers.
func WithObserver(obs ...pbjx.Observer) Option {
	return func(b *pbjx.Builder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *pbjx.Builder) { b.WithObserverPool(workers, bufferSize) }
}

// WithMaxRecursion bounds nested message triggering.
func WithMaxRecursion(n int) Option {
	return func(b *pbjx.Builder) { b.WithMaxRecursion(n) }
}
