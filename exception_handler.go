package pbjx

import (
	"context"

	"github.com/trickstertwo/xlog"
)

// Dispatch keys used by LogExceptionHandler. Lifecycle listeners registered
// under them receive the exception event after it has been logged.
const (
	KeyCommandBusException = "pbjx.command_bus.exception"
	KeyEventBusException   = "pbjx.event_bus.exception"
	KeyRequestBusException = "pbjx.request_bus.exception"
	KeyTransportException  = "pbjx.transport.exception"
)

// ExceptionHandler receives the failures the buses and transports isolate.
// Implementations must not panic and should not block for long.
type ExceptionHandler interface {
	OnCommandBusException(ctx context.Context, p *Pbjx, e *BusExceptionEvent)
	OnEventBusException(ctx context.Context, p *Pbjx, e *BusExceptionEvent)
	OnRequestBusException(ctx context.Context, p *Pbjx, e *BusExceptionEvent)
	OnTransportException(ctx context.Context, p *Pbjx, e *TransportExceptionEvent)
}

// LogExceptionHandler logs every failure and then dispatches it to the
// listeners registered under the matching Key*Exception key. Listener
// errors are logged and dropped.
type LogExceptionHandler struct {
	Logger *xlog.Logger
}

func (h LogExceptionHandler) OnCommandBusException(ctx context.Context, p *Pbjx, e *BusExceptionEvent) {
	h.log(p, e, "command bus exception")
	h.dispatch(ctx, p, KeyCommandBusException, e)
}

func (h LogExceptionHandler) OnEventBusException(ctx context.Context, p *Pbjx, e *BusExceptionEvent) {
	h.log(p, e, "event bus exception")
	h.dispatch(ctx, p, KeyEventBusException, e)
}

func (h LogExceptionHandler) OnRequestBusException(ctx context.Context, p *Pbjx, e *BusExceptionEvent) {
	h.log(p, e, "request bus exception")
	h.dispatch(ctx, p, KeyRequestBusException, e)
}

func (h LogExceptionHandler) OnTransportException(ctx context.Context, p *Pbjx, e *TransportExceptionEvent) {
	lg := h.logger(p)
	if lg != nil {
		lg.With(
			xlog.Str("transport", e.Transport()),
			xlog.Str("curie", e.Message().Schema().Curie()),
			xlog.Str("message_id", e.Message().ID()),
		).Error().Err(e.Err()).Msg("pbjx: transport exception")
	}
	h.dispatch(ctx, p, KeyTransportException, e)
}

func (h LogExceptionHandler) logger(p *Pbjx) *xlog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	if p != nil {
		return p.logger
	}
	return nil
}

func (h LogExceptionHandler) log(p *Pbjx, e *BusExceptionEvent, msg string) {
	lg := h.logger(p)
	if lg == nil {
		return
	}
	if m := e.Message(); m != nil {
		lg = lg.With(xlog.Str("curie", m.Schema().Curie()), xlog.Str("message_id", m.ID()))
	}
	lg.Error().Err(e.Err()).Msg("pbjx: " + msg)
}

func (h LogExceptionHandler) dispatch(ctx context.Context, p *Pbjx, key string, e LifecycleEvent) {
	if p == nil {
		return
	}
	for _, l := range p.dispatcher.lifecycleListeners(key) {
		if err := l(ctx, p, e); err != nil {
			if lg := h.logger(p); lg != nil {
				lg.With(xlog.Str("key", key)).Warn().Err(err).Msg("pbjx: exception listener failed")
			}
		}
	}
}

var _ ExceptionHandler = LogExceptionHandler{}
