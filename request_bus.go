package pbjx

import (
	"context"

	"github.com/trickstertwo/pbjx/pbj"
)

// RequestBus answers requests delivered by a transport. It never returns an
// error: failures become a request-failed-response.
type RequestBus struct {
	p        *Pbjx
	handlers handlerCache[RequestHandler]
}

func newRequestBus(p *Pbjx) *RequestBus {
	return &RequestBus{p: p, handlers: handlerCache[RequestHandler]{registry: p.handlers, kind: "RequestHandler"}}
}

// Receive freezes the request, runs its handler and returns the stamped
// response or a request-failed-response.
func (b *RequestBus) Receive(ctx context.Context, request *pbj.Message) *pbj.Message {
	p := b.p
	curie := request.Schema().Curie()
	start := p.clock.Now()
	p.notifyAsync(Telemetry{Kind: HandleStart, Curie: curie, MessageID: request.ID()})

	resp, err := b.handle(ctx, request)

	duration := p.clock.Since(start)
	p.recordProcessingTime(duration.Nanoseconds())
	p.metrics.handledCount.Add(1)
	p.notifyAsync(Telemetry{Kind: HandleDone, Curie: curie, MessageID: request.ID(), Duration: duration, Err: err})
	if err != nil {
		p.metrics.handlerFailureCount.Add(1)
		return b.failureResponse(request, err)
	}
	return resp
}

func (b *RequestBus) handle(ctx context.Context, request *pbj.Message) (*pbj.Message, error) {
	request.Freeze()
	h, err := b.handlers.get(request.Schema().Curie())
	if err != nil {
		return nil, err
	}
	invoke := Chain(RecoveryMiddleware()(func(ctx context.Context, msg *pbj.Message) (*pbj.Message, error) {
		return h.HandleRequest(ctx, b.p, msg)
	}), b.p.middlewares...)
	resp, err := invoke(ctx, request)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNilResponse
	}
	if resp.IsFrozen() {
		resp = resp.Clone()
	}
	b.stamp(request, resp)
	return resp, nil
}

// stamp links resp to request and carries over correlation and tenancy.
func (b *RequestBus) stamp(request, resp *pbj.Message) {
	s := resp.Schema()
	if id := s.IDField(); id != "" && !resp.Has(id) {
		resp.Set(id, pbj.GenerateID())
	}
	if s.HasField(FieldCreatedAt) && !resp.Has(FieldCreatedAt) {
		resp.Set(FieldCreatedAt, pbj.NewMicrotime(b.p.clock.Now()))
	}
	if s.HasField(FieldCtxRequestRef) {
		resp.Set(FieldCtxRequestRef, request.Ref())
	}
	if s.HasField(FieldCtxRequest) {
		resp.Set(FieldCtxRequest, request)
	}
	for _, name := range []string{FieldCtxCorrelatorRef, FieldCtxTenantID} {
		if s.HasField(name) && request.Has(name) {
			resp.Set(name, request.Get(name))
		}
	}
}

func (b *RequestBus) failureResponse(request *pbj.Message, err error) *pbj.Message {
	resp := pbj.New(RequestFailedResponseSchema).
		Set(FieldErrorCode, int64(ErrorCode(err))).
		Set(FieldErrorName, errorName(err)).
		Set(FieldErrorMessage, truncateMessage(err.Error()))
	if st := stackTrace(err); st != "" {
		resp.Set(FieldStackTrace, st)
	}
	if prev := prevErrorMessage(err); prev != "" {
		resp.Set(FieldPrevErrorMessage, prev)
	}
	b.stamp(request, resp)
	return resp
}
