package pbjx

import (
	"github.com/trickstertwo/xlog"
)

// Observer receives runtime telemetry. Implementations should be non-blocking.
type Observer interface {
	OnTelemetry(t Telemetry)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(t Telemetry)

func (f ObserverFunc) OnTelemetry(t Telemetry) { f(t) }

// LoggingObserver is an Adapter that emits telemetry via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnTelemetry(t Telemetry) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("kind", string(t.Kind)),
		xlog.Str("curie", t.Curie),
		xlog.Str("message_id", t.MessageID),
	)
	if t.Transport != "" {
		ev = ev.With(xlog.Str("transport", t.Transport))
	}
	switch {
	case t.Err != nil, t.Kind == ListenerFailed, t.Kind == TransportFailed:
		ev.Warn().Err(t.Err).Msg("pbjx telemetry")
	default:
		if t.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", t.Duration))
		}
		ev.Debug().Msg("pbjx telemetry")
	}
}
