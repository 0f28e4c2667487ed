package pbjx

import (
	"context"
	"fmt"

	"github.com/trickstertwo/pbjx/pbj"
)

// prepare stamps the identity and occurred_at fields, runs bind, validate
// and enrich, then freezes msg. Frozen messages pass through untouched.
func (p *Pbjx) prepare(ctx context.Context, msg *pbj.Message) error {
	if msg.IsFrozen() {
		return nil
	}
	s := msg.Schema()
	if id := s.IDField(); id != "" && !msg.Has(id) {
		msg.Set(id, pbj.GenerateID())
	}
	if s.HasField(FieldOccurredAt) && !msg.Has(FieldOccurredAt) {
		msg.Set(FieldOccurredAt, pbj.NewMicrotime(p.clock.Now()))
	}
	if err := p.TriggerLifecycle(ctx, msg, true); err != nil {
		return err
	}
	msg.Freeze()
	return nil
}

func (p *Pbjx) checkKind(msg *pbj.Message, mixin string) error {
	if p.closed.Load() {
		return ErrPbjxClosed
	}
	if msg == nil || !msg.Schema().HasMixin(mixin) {
		name := "<nil>"
		if msg != nil {
			name = msg.Schema().Curie()
		}
		return fmt.Errorf("%w: %s does not have mixin %s", ErrWrongMessageKind, name, mixin)
	}
	return nil
}

func (p *Pbjx) transportFailed(ctx context.Context, msg *pbj.Message, err error) {
	p.metrics.transportErrorCount.Add(1)
	p.metrics.errorCount.Add(1)
	p.notifyAsync(Telemetry{Kind: TransportFailed, Curie: msg.Schema().Curie(), MessageID: msg.ID(), Transport: p.transport.Name(), Err: err})
	p.exceptions.OnTransportException(ctx, p, NewTransportExceptionEvent(p.transport.Name(), msg, err))
}

// Send runs the command through its lifecycle and hands it to the
// transport. Handler failures are never reported here; only transport
// failures are.
func (p *Pbjx) Send(ctx context.Context, command *pbj.Message) error {
	if err := p.checkKind(command, MixinCommand); err != nil {
		return err
	}
	if err := p.prepare(ctx, command); err != nil {
		p.metrics.errorCount.Add(1)
		return err
	}

	p.metrics.sentCount.Add(1)
	curie := command.Schema().Curie()
	start := p.clock.Now()
	p.notifyAsync(Telemetry{Kind: SendStart, Curie: curie, MessageID: command.ID(), Transport: p.transport.Name()})

	err := p.transport.SendCommand(ctx, p, command)

	p.notifyAsync(Telemetry{Kind: SendDone, Curie: curie, MessageID: command.ID(), Transport: p.transport.Name(), Duration: p.clock.Since(start), Err: err})
	if err != nil {
		p.transportFailed(ctx, command, err)
		return err
	}
	return nil
}

// Publish runs the event through its lifecycle and hands it to the
// transport. Subscriber failures are never reported here.
func (p *Pbjx) Publish(ctx context.Context, event *pbj.Message) error {
	if err := p.checkKind(event, MixinEvent); err != nil {
		return err
	}
	if err := p.prepare(ctx, event); err != nil {
		p.metrics.errorCount.Add(1)
		return err
	}

	p.metrics.publishedCount.Add(1)
	curie := event.Schema().Curie()
	start := p.clock.Now()
	p.notifyAsync(Telemetry{Kind: PublishStart, Curie: curie, MessageID: event.ID(), Transport: p.transport.Name()})

	err := p.transport.SendEvent(ctx, p, event)

	p.notifyAsync(Telemetry{Kind: PublishDone, Curie: curie, MessageID: event.ID(), Transport: p.transport.Name(), Duration: p.clock.Since(start), Err: err})
	if err != nil {
		p.transportFailed(ctx, event, err)
		return err
	}
	return nil
}

// Request runs the request through its lifecycle, gives before_handle
// listeners a chance to answer it, and otherwise sends it through the
// transport and waits for the response.
//
// A request-failed-response is returned as a *RequestHandlingFailed error.
// Failures of after_handle and created listeners go to the exception
// handler and do not affect the returned response.
func (p *Pbjx) Request(ctx context.Context, request *pbj.Message) (*pbj.Message, error) {
	if err := p.checkKind(request, MixinRequest); err != nil {
		return nil, err
	}
	if err := p.prepare(ctx, request); err != nil {
		p.metrics.errorCount.Add(1)
		return nil, err
	}

	p.metrics.requestedCount.Add(1)
	ctx = InjectAll(ctx, p)
	event := NewGetResponseEvent(request)
	if _, err := p.Trigger(ctx, request, PhaseBeforeHandle, event, false); err != nil {
		p.metrics.errorCount.Add(1)
		return nil, err
	}
	if event.HasResponse() {
		return event.Response(), nil
	}

	curie := request.Schema().Curie()
	start := p.clock.Now()
	p.notifyAsync(Telemetry{Kind: RequestStart, Curie: curie, MessageID: request.ID(), Transport: p.transport.Name()})

	resp, err := p.transport.SendRequest(ctx, p, request)

	p.notifyAsync(Telemetry{Kind: RequestDone, Curie: curie, MessageID: request.ID(), Transport: p.transport.Name(), Duration: p.clock.Since(start), Err: err})
	if err != nil {
		p.transportFailed(ctx, request, err)
		return nil, err
	}
	if resp == nil {
		p.metrics.errorCount.Add(1)
		return nil, ErrNilResponse
	}
	if resp.Schema().Curie() == RequestFailedResponseSchema.Curie() {
		p.metrics.errorCount.Add(1)
		return nil, &RequestHandlingFailed{Response: resp.Freeze()}
	}

	event.SetResponse(resp)
	if err := p.afterResponse(ctx, request, resp, event); err != nil {
		p.exceptions.OnRequestBusException(ctx, p, NewBusExceptionEvent(resp, err))
	}
	return resp.Freeze(), nil
}

func (p *Pbjx) afterResponse(ctx context.Context, request, resp *pbj.Message, event *GetResponseEvent) error {
	if _, err := p.Trigger(ctx, request, PhaseAfterHandle, event, false); err != nil {
		return err
	}
	_, err := p.Trigger(ctx, resp, PhaseCreated, NewResponseCreatedEvent(request, resp), false)
	return err
}
