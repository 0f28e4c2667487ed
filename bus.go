package pbjx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/pbjx/pbj"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ API = (*Pbjx)(nil)
var _ HealthChecker = (*Pbjx)(nil)

// Pbjx is the runtime handle: it owns the transport, the dispatcher, the
// handler registry and the three buses. Listeners and handlers receive it
// as a parameter.
type Pbjx struct {
	transport    Transport
	dispatcher   *Dispatcher
	handlers     *HandlerRegistry
	exceptions   ExceptionHandler
	clock        xclock.Clock
	logger       *xlog.Logger
	middlewares  []Middleware
	maxRecursion int

	commandBus *CommandBus
	eventBus   *EventBus
	requestBus *RequestBus

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	metrics      *pbjxMetrics
	closed       atomic.Bool
	closeOnce    sync.Once
}

// pbjxMetrics uses lock-free atomics.
type pbjxMetrics struct {
	sentCount            atomic.Uint64
	publishedCount       atomic.Uint64
	requestedCount       atomic.Uint64
	handledCount         atomic.Uint64
	handlerFailureCount  atomic.Uint64
	listenerFailureCount atomic.Uint64
	transportErrorCount  atomic.Uint64
	errorCount           atomic.Uint64
	processingNs         atomic.Int64
}

func (p *Pbjx) Dispatcher() *Dispatcher            { return p.dispatcher }
func (p *Pbjx) Handlers() *HandlerRegistry         { return p.handlers }
func (p *Pbjx) Transport() Transport               { return p.transport }
func (p *Pbjx) Logger() *xlog.Logger               { return p.logger }
func (p *Pbjx) Clock() xclock.Clock                { return p.clock }
func (p *Pbjx) MaxRecursion() int                  { return p.maxRecursion }
func (p *Pbjx) CommandBus() *CommandBus            { return p.commandBus }
func (p *Pbjx) EventBus() *EventBus                { return p.eventBus }
func (p *Pbjx) RequestBus() *RequestBus            { return p.requestBus }
func (p *Pbjx) ExceptionHandler() ExceptionHandler { return p.exceptions }

// On registers a lifecycle listener on the runtime's dispatcher.
func (p *Pbjx) On(key string, l LifecycleListener) { p.dispatcher.On(key, l) }

// Subscribe registers an event subscriber on the runtime's dispatcher.
func (p *Pbjx) Subscribe(key string, s EventSubscriber) { p.dispatcher.Subscribe(key, s) }

// ReceiveCommand is called by transports on the consuming side.
func (p *Pbjx) ReceiveCommand(ctx context.Context, command *pbj.Message) {
	p.commandBus.Receive(InjectAll(ctx, p), command)
}

// ReceiveEvent is called by transports on the consuming side.
func (p *Pbjx) ReceiveEvent(ctx context.Context, event *pbj.Message) {
	p.eventBus.Receive(InjectAll(ctx, p), event)
}

// ReceiveRequest is called by transports on the consuming side.
func (p *Pbjx) ReceiveRequest(ctx context.Context, request *pbj.Message) *pbj.Message {
	return p.requestBus.Receive(InjectAll(ctx, p), request)
}

// GetMetrics returns current runtime metrics.
func (p *Pbjx) GetMetrics() Metrics {
	m := Metrics{
		Sent:                p.metrics.sentCount.Load(),
		Published:           p.metrics.publishedCount.Load(),
		Requested:           p.metrics.requestedCount.Load(),
		Handled:             p.metrics.handledCount.Load(),
		HandlerFailures:     p.metrics.handlerFailureCount.Load(),
		ListenerFailures:    p.metrics.listenerFailureCount.Load(),
		TransportErrors:     p.metrics.transportErrorCount.Load(),
		Errors:              p.metrics.errorCount.Load(),
		AvgProcessingTimeMs: float64(p.metrics.processingNs.Load()) / 1e6,
	}
	if p.observerPool != nil {
		m.EventsDropped = p.observerPool.Stats().Dropped
	}
	return m
}

// Health checks runtime health for Kubernetes probes.
func (p *Pbjx) Health(ctx context.Context) HealthStatus {
	if p.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: p.clock.Now(),
			Message:   "pbjx is closed",
		}
	}

	metrics := p.GetMetrics()
	status := "healthy"

	// degraded above a 5% error rate
	total := metrics.Sent + metrics.Published + metrics.Requested
	if metrics.Errors > 0 && total > 0 {
		if float64(metrics.Errors)/float64(total) > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: p.clock.Now(),
	}
}

// Close drains observers and closes the transport. Idempotent.
func (p *Pbjx) Close(ctx context.Context) error {
	var closeErr error

	p.closeOnce.Do(func() {
		p.closed.Store(true)

		if p.observerPool != nil {
			if err := p.observerPool.Close(5 * time.Second); err != nil {
				p.logger.Warn().Err(err).Msg("pbjx: observer pool shutdown timeout")
				closeErr = err
			}
		}

		if err := p.transport.Close(ctx); err != nil {
			p.logger.Error().Err(err).Msg("pbjx: transport close failed")
			closeErr = err
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (p *Pbjx) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	p.observersMu.Lock()
	p.observers = append(p.observers, obs)
	p.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (p *Pbjx) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	p.observersMu.Lock()
	defer p.observersMu.Unlock()

	for i, o := range p.observers {
		if o == obs {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync hands telemetry to the observer pool, or calls observers
// inline when no pool is configured.
func (p *Pbjx) notifyAsync(t Telemetry) {
	if p.closed.Load() {
		return
	}

	p.observersMu.RLock()
	if len(p.observers) == 0 {
		p.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.observersMu.RUnlock()

	if p.observerPool == nil {
		for _, o := range observers {
			o.OnTelemetry(t)
		}
		return
	}
	p.observerPool.Notify(t, observers)
}

// recordProcessingTime keeps an exponential moving average.
func (p *Pbjx) recordProcessingTime(ns int64) {
	const alpha = 0.2
	current := p.metrics.processingNs.Load()
	if current == 0 {
		p.metrics.processingNs.Store(ns)
		return
	}
	p.metrics.processingNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
