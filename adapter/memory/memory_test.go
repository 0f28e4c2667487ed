package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/pbjx"
	"github.com/trickstertwo/pbjx/adapter/memory"
	"github.com/trickstertwo/pbjx/pbj"
)

var (
	renameNote = pbjx.NewCommandSchema("pbj:acme:notes:command:rename-note:1-0-0", []*pbj.Field{
		pbj.NewField("name", pbj.TypeString),
	})
	noteRenamed = pbjx.NewEventSchema("pbj:acme:notes:event:note-renamed:1-0-0", []*pbj.Field{
		pbj.NewField("name", pbj.TypeString),
	})
	getNote = pbjx.NewRequestSchema("pbj:acme:notes:request:get-note-request:1-0-0", []*pbj.Field{
		pbj.NewField("name", pbj.TypeString),
	})
	getNoteResponse = pbjx.NewResponseSchema("pbj:acme:notes:request:get-note-response:1-0-0", []*pbj.Field{
		pbj.NewField("name", pbj.TypeString),
	})
)

func newPbjx(t *testing.T, cfg memory.Config) (*pbjx.Pbjx, *memory.Transport) {
	t.Helper()
	tr := memory.NewTransport(cfg)
	p, err := pbjx.NewBuilder().WithTransportInstance(tr).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, tr
}

func TestConfigFromMap(t *testing.T) {
	cfg := memory.ConfigFromMap(map[string]any{"round_trip": true, "serializer": "yaml"})
	assert.Equal(t, memory.Config{RoundTrip: true, Serializer: "yaml"}, cfg)

	cfg = memory.ConfigFromMap(nil)
	assert.Equal(t, memory.Config{Serializer: pbjx.SerializerJSON}, cfg)
}

func TestTransport_Synchronous(t *testing.T) {
	for _, cfg := range []memory.Config{{}, {RoundTrip: true}, {RoundTrip: true, Serializer: pbjx.SerializerYAML}} {
		p, tr := newPbjx(t, cfg)

		var handled, published string
		require.NoError(t, p.Handlers().RegisterCommandHandler(renameNote.Curie(),
			pbjx.CommandHandlerFunc(func(ctx context.Context, p *pbjx.Pbjx, cmd *pbj.Message) error {
				handled = cmd.GetString("name")
				evt := pbj.New(noteRenamed).Set("name", cmd.GetString("name"))
				pbjx.CopyContext(cmd, evt)
				return p.Publish(ctx, evt)
			})))
		require.NoError(t, p.Handlers().RegisterRequestHandler(getNote.Curie(),
			pbjx.RequestHandlerFunc(func(_ context.Context, _ *pbjx.Pbjx, req *pbj.Message) (*pbj.Message, error) {
				return pbj.New(getNoteResponse).Set("name", req.GetString("name")), nil
			})))
		p.Subscribe(noteRenamed.Curie(), func(_ context.Context, _ *pbjx.Pbjx, e *pbj.Message) error {
			published = e.GetString("name")
			return nil
		})

		cmd := pbj.New(renameNote).Set("name", "groceries").Set(pbjx.FieldCtxTenantID, "t1")
		require.NoError(t, p.Send(context.Background(), cmd))
		assert.Equal(t, "groceries", handled, "Send returns after the handler ran")
		assert.Equal(t, "groceries", published)

		resp, err := p.Request(context.Background(), pbj.New(getNote).Set("name", "groceries"))
		require.NoError(t, err)
		assert.Equal(t, "groceries", resp.GetString("name"))

		stats := tr.Stats()
		assert.Equal(t, uint64(1), stats.Commands)
		assert.Equal(t, uint64(1), stats.Events)
		assert.Equal(t, uint64(1), stats.Requests)
		if cfg.RoundTrip {
			// command, event, request and response
			assert.Equal(t, uint64(4), stats.Envelopes)
		} else {
			assert.Zero(t, stats.Envelopes)
		}
	}
}

func TestTransport_RoundTripDeliversCopy(t *testing.T) {
	p, _ := newPbjx(t, memory.Config{RoundTrip: true})
	var got *pbj.Message
	require.NoError(t, p.Handlers().RegisterCommandHandler(renameNote.Curie(),
		pbjx.CommandHandlerFunc(func(_ context.Context, _ *pbjx.Pbjx, cmd *pbj.Message) error {
			got = cmd
			return nil
		})))

	cmd := pbj.New(renameNote).Set("name", "x")
	require.NoError(t, p.Send(context.Background(), cmd))
	require.NotNil(t, got)
	assert.NotSame(t, cmd, got)
	assert.Equal(t, cmd.ID(), got.ID())
	assert.True(t, got.IsFrozen())
}

func TestTransport_HandlerErrorNotReturned(t *testing.T) {
	p, _ := newPbjx(t, memory.Config{})
	require.NoError(t, p.Handlers().RegisterCommandHandler(renameNote.Curie(),
		pbjx.CommandHandlerFunc(func(context.Context, *pbjx.Pbjx, *pbj.Message) error {
			return errors.New("boom")
		})))
	assert.NoError(t, p.Send(context.Background(), pbj.New(renameNote)))
	assert.Equal(t, uint64(1), p.GetMetrics().HandlerFailures)
}

func TestTransport_Closed(t *testing.T) {
	tr := memory.NewTransport(memory.Config{})
	require.NoError(t, tr.Close(context.Background()))
	p, err := pbjx.NewBuilder().WithTransportInstance(tr).Build()
	require.NoError(t, err)

	err = p.Send(context.Background(), pbj.New(renameNote))
	assert.ErrorIs(t, err, memory.ErrTransportClosed)
}

func TestUse_InstallsDefault(t *testing.T) {
	t.Cleanup(pbjx.ResetDefault)
	handlers := pbjx.NewHandlerRegistry()
	called := false
	require.NoError(t, handlers.RegisterCommandHandler(renameNote.Curie(),
		pbjx.CommandHandlerFunc(func(context.Context, *pbjx.Pbjx, *pbj.Message) error {
			called = true
			return nil
		})))

	p := memory.Use(memory.Config{}, memory.WithHandlers(handlers), memory.WithMaxRecursion(4))
	defer p.Close(context.Background())

	assert.Equal(t, memory.TransportName, p.Transport().Name())
	assert.Equal(t, 4, p.MaxRecursion())
	require.NoError(t, pbjx.Send(context.Background(), pbj.New(renameNote)))
	assert.True(t, called)
}
