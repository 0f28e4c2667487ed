package pbjx

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Builder constructs Pbjx instances.
type Builder struct {
	transportName string
	transportCfg  map[string]any
	transportInst Transport

	dispatcher   *Dispatcher
	handlers     *HandlerRegistry
	exceptions   ExceptionHandler
	middlewares  []Middleware
	observers    []Observer
	logger       *xlog.Logger
	clock        xclock.Clock
	maxRecursion int

	poolWorkers int
	poolBuffer  int
}

// NewBuilder returns a builder with the default recursion bound and no
// observer pool.
func NewBuilder() *Builder {
	return &Builder{maxRecursion: DefaultMaxRecursion}
}

// WithTransport selects a registered transport factory by name.
func (b *Builder) WithTransport(name string, cfg map[string]any) *Builder {
	b.transportName = name
	b.transportCfg = cfg
	return b
}

// WithTransportInstance accepts a ready Transport instance (e.g., from adapter Use()).
func (b *Builder) WithTransportInstance(t Transport) *Builder {
	b.transportInst = t
	return b
}

func (b *Builder) WithDispatcher(d *Dispatcher) *Builder {
	b.dispatcher = d
	return b
}

func (b *Builder) WithHandlers(r *HandlerRegistry) *Builder {
	b.handlers = r
	return b
}

func (b *Builder) WithExceptionHandler(h ExceptionHandler) *Builder {
	b.exceptions = h
	return b
}

// WithMiddleware wraps command and request handler invocation.
func (b *Builder) WithMiddleware(mw ...Middleware) *Builder {
	b.middlewares = append(b.middlewares, mw...)
	return b
}

func (b *Builder) WithObserver(obs ...Observer) *Builder {
	for _, o := range obs {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
	return b
}

// WithObserverPool dispatches telemetry asynchronously.
func (b *Builder) WithObserverPool(workers, bufferSize int) *Builder {
	b.poolWorkers = workers
	b.poolBuffer = bufferSize
	if b.poolWorkers < 1 {
		b.poolWorkers = 4
	}
	return b
}

func (b *Builder) WithLogger(l *xlog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithClock(c xclock.Clock) *Builder {
	b.clock = c
	return b
}

// WithMaxRecursion bounds nested message triggering. Values are clamped to
// [2,10]; non-positive values select the default of 10.
func (b *Builder) WithMaxRecursion(n int) *Builder {
	b.maxRecursion = n
	return b
}

func (b *Builder) Build() (*Pbjx, error) {
	var tr Transport
	var err error

	switch {
	case b.transportInst != nil:
		tr = b.transportInst
	case b.transportName != "":
		tr, err = NewTransport(b.transportName, b.transportCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoTransportConfigured
	}

	p := &Pbjx{
		transport:    tr,
		dispatcher:   b.dispatcher,
		handlers:     b.handlers,
		exceptions:   b.exceptions,
		clock:        b.clock,
		logger:       b.logger,
		middlewares:  b.middlewares,
		maxRecursion: clampMaxRecursion(b.maxRecursion),
		metrics:      &pbjxMetrics{},
	}
	if p.dispatcher == nil {
		p.dispatcher = NewDispatcher()
	}
	if p.handlers == nil {
		p.handlers = NewHandlerRegistry()
	}
	if p.clock == nil {
		p.clock = xclock.Default()
	}
	if p.logger == nil {
		p.logger = xlog.Default()
	}
	if p.exceptions == nil {
		p.exceptions = LogExceptionHandler{Logger: p.logger}
	}
	if b.poolWorkers > 0 {
		p.observerPool = NewObserverPool(context.Background(), b.poolWorkers, b.poolBuffer)
	}
	p.commandBus = newCommandBus(p)
	p.eventBus = newEventBus(p)
	p.requestBus = newRequestBus(p)

	// Logging observer first unless one was supplied.
	hasLoggingObserver := false
	for _, o := range b.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		p.AddObserver(LoggingObserver{Logger: p.logger})
	}
	for _, o := range b.observers {
		p.AddObserver(o)
	}
	return p, nil
}

// New constructs a Pbjx via Builder and returns a close func for convenience.
func New(init func(b *Builder)) (*Pbjx, func() error, error) {
	b := NewBuilder()
	if init != nil {
		init(b)
	}
	p, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return p.Close(context.Background()) }
	return p, closeFn, nil
}
