package pbjx

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/pbjx/pbj"
)

var (
	testNodeSchema = func() *pbj.Schema {
		s := pbj.NewSchema("pbj:acme:test:node:node:1-0-0", []*pbj.Field{
			pbj.NewField("id", pbj.TypeIdentifier),
			pbj.NewField("child", pbj.TypeMessage),
			pbj.NewListField("children", pbj.TypeMessage),
		})
		pbj.Register(s)
		return s
	}()

	testPublishArticle = NewCommandSchema("pbj:acme:blog:command:publish-article:1-0-0", []*pbj.Field{
		pbj.NewField("title", pbj.TypeString),
		pbj.NewField("node", pbj.TypeMessage),
	})

	testArticlePublished = NewEventSchema("pbj:acme:blog:event:article-published:1-0-0", []*pbj.Field{
		pbj.NewField("title", pbj.TypeString),
	}, "acme:blog:mixin:publishable", MixinIndexed)

	testGetArticle = NewRequestSchema("pbj:acme:blog:request:get-article-request:1-0-0", []*pbj.Field{
		pbj.NewField("title", pbj.TypeString),
	})

	testGetArticleResponse = NewResponseSchema("pbj:acme:blog:request:get-article-response:1-0-0", []*pbj.Field{
		pbj.NewField("title", pbj.TypeString),
	})
)

func node(id string) *pbj.Message {
	return pbj.New(testNodeSchema).Set("id", id)
}

// syncTransport delivers in the calling goroutine, or fails with err.
type syncTransport struct {
	err error
}

func (t *syncTransport) Name() string { return "sync" }

func (t *syncTransport) SendCommand(ctx context.Context, p *Pbjx, command *pbj.Message) error {
	if t.err != nil {
		return t.err
	}
	p.ReceiveCommand(ctx, command)
	return nil
}

func (t *syncTransport) SendEvent(ctx context.Context, p *Pbjx, event *pbj.Message) error {
	if t.err != nil {
		return t.err
	}
	p.ReceiveEvent(ctx, event)
	return nil
}

func (t *syncTransport) SendRequest(ctx context.Context, p *Pbjx, request *pbj.Message) (*pbj.Message, error) {
	if t.err != nil {
		return nil, t.err
	}
	return p.ReceiveRequest(ctx, request), nil
}

func (t *syncTransport) Close(ctx context.Context) error { return nil }

// recordingExceptions captures every failure routed to the exception handler.
type recordingExceptions struct {
	mu        sync.Mutex
	command   []*BusExceptionEvent
	event     []*BusExceptionEvent
	request   []*BusExceptionEvent
	transport []*TransportExceptionEvent
}

func (r *recordingExceptions) OnCommandBusException(_ context.Context, _ *Pbjx, e *BusExceptionEvent) {
	r.mu.Lock()
	r.command = append(r.command, e)
	r.mu.Unlock()
}

func (r *recordingExceptions) OnEventBusException(_ context.Context, _ *Pbjx, e *BusExceptionEvent) {
	r.mu.Lock()
	r.event = append(r.event, e)
	r.mu.Unlock()
}

func (r *recordingExceptions) OnRequestBusException(_ context.Context, _ *Pbjx, e *BusExceptionEvent) {
	r.mu.Lock()
	r.request = append(r.request, e)
	r.mu.Unlock()
}

func (r *recordingExceptions) OnTransportException(_ context.Context, _ *Pbjx, e *TransportExceptionEvent) {
	r.mu.Lock()
	r.transport = append(r.transport, e)
	r.mu.Unlock()
}

func newTestPbjx(t *testing.T, opts ...func(*Builder)) (*Pbjx, *recordingExceptions) {
	t.Helper()
	exc := &recordingExceptions{}
	b := NewBuilder().
		WithTransportInstance(&syncTransport{}).
		WithExceptionHandler(exc)
	for _, o := range opts {
		o(b)
	}
	p, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, exc
}
