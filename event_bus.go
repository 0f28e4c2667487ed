package pbjx

import (
	"context"
	"runtime/debug"

	"github.com/trickstertwo/pbjx/pbj"
)

// EventBus fans received events out to subscribers. A failing subscriber
// produces an event-execution-failed record that goes through the same
// bus. A failing subscriber of such a record goes to the exception
// handler instead, so the cascade stops after one level.
type EventBus struct {
	p *Pbjx
}

func newEventBus(p *Pbjx) *EventBus { return &EventBus{p: p} }

// SubscriberKeys returns the keys an event is dispatched to, in order:
// each mixin, curie major, curie, "vendor:package:*", "*".
func SubscriberKeys(s *pbj.Schema) []string {
	id := s.ID()
	keys := make([]string, 0, len(s.Mixins())+4)
	keys = append(keys, s.Mixins()...)
	return append(keys, s.CurieMajor(), s.Curie(), id.Vendor+":"+id.Package+":*", "*")
}

// Receive freezes the event and calls every matching subscriber. It always
// returns normally.
func (b *EventBus) Receive(ctx context.Context, event *pbj.Message) {
	event.Freeze()
	for _, key := range SubscriberKeys(event.Schema()) {
		for _, sub := range b.p.dispatcher.eventSubscribers(key) {
			if err := b.invoke(ctx, sub, event); err != nil {
				b.handleFailure(ctx, key, event, err)
			}
		}
	}
}

func (b *EventBus) invoke(ctx context.Context, sub EventSubscriber, event *pbj.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return sub(ctx, b.p, event)
}

func (b *EventBus) handleFailure(ctx context.Context, key string, event *pbj.Message, err error) {
	p := b.p
	p.metrics.listenerFailureCount.Add(1)
	curie := event.Schema().Curie()
	p.notifyAsync(Telemetry{Kind: ListenerFailed, Curie: curie, MessageID: event.ID(), Err: err})

	if curie == EventExecutionFailedSchema.Curie() {
		p.exceptions.OnEventBusException(ctx, p, NewBusExceptionEvent(event, err))
		return
	}

	failed := pbj.New(EventExecutionFailedSchema).
		Set(FieldEventID, pbj.GenerateID()).
		Set(FieldOccurredAt, pbj.NewMicrotime(p.clock.Now())).
		Set(FieldEvent, event).
		Set(FieldErrorCode, int64(ErrorCode(err))).
		Set(FieldErrorName, errorName(err)).
		Set(FieldErrorMessage, truncateMessage(err.Error()))
	if st := stackTrace(err); st != "" {
		failed.Set(FieldStackTrace, st)
	}
	if prev := prevErrorMessage(err); prev != "" {
		failed.Set(FieldPrevErrorMessage, prev)
	}
	CopyContext(event, failed)

	if lg, ok := LoggerFromContext(ctx); ok {
		lg.Debug().Msg("pbjx: subscriber of " + curie + " on " + key + " failed, publishing event-execution-failed")
	}
	b.Receive(ctx, failed)
}
