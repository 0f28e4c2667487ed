package eventstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/trickstertwo/pbjx"
	memtransport "github.com/trickstertwo/pbjx/adapter/memory"
	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/eventstore/memory"
	"github.com/trickstertwo/pbjx/pbj"
)

var commentAdded = pbjx.NewEventSchema("pbj:acme:blog:event:comment-added:1-0-0", []*pbj.Field{
	pbj.NewField("body", pbj.TypeString),
})

func comment(id string, at pbj.Microtime) *pbj.Message {
	return pbj.New(commentAdded).
		Set(pbjx.FieldEventID, id).
		Set(pbjx.FieldOccurredAt, at)
}

func TestParseStreamID(t *testing.T) {
	id, err := eventstore.ParseStreamID("article:1234")
	require.NoError(t, err)
	assert.Equal(t, eventstore.StreamID{Topic: "article", Partition: "1234"}, id)
	assert.Equal(t, "article:1234", id.String())

	id, err = eventstore.ParseStreamID("article:1234:comments:2024")
	require.NoError(t, err)
	assert.Equal(t, "comments:2024", id.SubPartition)
	assert.Equal(t, "article:1234:comments:2024", id.String())

	for _, bad := range []string{"", "article", "article:", ":1", "article:1:"} {
		_, err := eventstore.ParseStreamID(bad)
		assert.ErrorIs(t, err, eventstore.ErrInvalidStreamID, bad)
	}

	var text eventstore.StreamID
	require.NoError(t, text.UnmarshalText([]byte("user:42")))
	assert.Equal(t, eventstore.NewStreamID("user", "42"), text)
	assert.Panics(t, func() { eventstore.MustParseStreamID("nope") })
}

func TestClampCount(t *testing.T) {
	assert.Equal(t, eventstore.DefaultSliceCount, eventstore.ClampCount(0))
	assert.Equal(t, 1, eventstore.ClampCount(-5))
	assert.Equal(t, 42, eventstore.ClampCount(42))
	assert.Equal(t, 100, eventstore.ClampCount(1000))
}

func TestErrors(t *testing.T) {
	throttled := eventstore.NewError(codes.ResourceExhausted, "query article:1", errors.New("slow down"))
	assert.ErrorIs(t, throttled, eventstore.ErrThrottled)
	assert.True(t, eventstore.IsRetryable(throttled))
	assert.True(t, eventstore.IsRetryable(fmt.Errorf("wrapped: %w", eventstore.ErrUnavailable)))
	assert.False(t, eventstore.IsRetryable(eventstore.ErrWriteFailed))
	assert.Equal(t, "eventstore: query article:1: slow down", throttled.Error())

	assert.Equal(t, codes.OK, eventstore.CodeOf(nil))
	assert.Equal(t, codes.Unknown, eventstore.CodeOf(errors.New("plain")))
	// store errors carry their code onto failure records
	assert.Equal(t, codes.DataLoss, pbjx.ErrorCode(eventstore.ErrWriteFailed))
}

func TestCheckEtag(t *testing.T) {
	id := eventstore.NewStreamID("article", "1")
	assert.NoError(t, eventstore.CheckEtag(id, "", ""))
	assert.NoError(t, eventstore.CheckEtag(id, "e9", ""))
	assert.NoError(t, eventstore.CheckEtag(id, "e9", "e9"))
	assert.ErrorIs(t, eventstore.CheckEtag(id, "e9", "e8"), eventstore.ErrOptimisticCheckFailed)
	assert.ErrorIs(t, eventstore.CheckEtag(id, "", "e9"), eventstore.ErrOptimisticCheckFailed)
}

func TestHints(t *testing.T) {
	ctx := eventstore.WithHints(context.Background(), eventstore.Hints{TableName: "archive"})
	ctx = eventstore.WithoutPublishing(ctx)
	h := eventstore.HintsFromContext(ctx)
	assert.True(t, h.SkipPublish)
	assert.Equal(t, "archive", h.TableName)
	assert.Equal(t, eventstore.Hints{}, eventstore.HintsFromContext(context.Background()))
}

func TestPipeStream_StopsOnLoaderError(t *testing.T) {
	boom := eventstore.NewError(codes.Unavailable, "query", nil)
	calls := 0
	load := func(_ context.Context, id eventstore.StreamID, opts eventstore.SliceOptions) (*eventstore.StreamSlice, error) {
		calls++
		assert.Equal(t, eventstore.PipePageSize, opts.Count)
		assert.True(t, opts.Forward)
		if calls == 2 {
			assert.Equal(t, pbj.Microtime(2), opts.Since)
			return nil, boom
		}
		return eventstore.NewStreamSlice(id, []*pbj.Message{comment("a", 1), comment("b", 2)}, true, false, true), nil
	}

	var got []string
	var gotErr error
	for e, err := range eventstore.PipeStream(context.Background(), load, eventstore.NewStreamID("article", "1"), 0, 0) {
		if err != nil {
			gotErr = err
			continue
		}
		got = append(got, e.ID())
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.ErrorIs(t, gotErr, boom)
	assert.Equal(t, 2, calls)
}

type recordingPublisher struct {
	published []string
	fail      map[string]error
}

func (r *recordingPublisher) Publish(_ context.Context, event *pbj.Message) error {
	if err := r.fail[event.ID()]; err != nil {
		return err
	}
	r.published = append(r.published, event.ID())
	return nil
}

func TestPublishing(t *testing.T) {
	ctx := context.Background()
	id := eventstore.NewStreamID("article", "1")
	pub := &recordingPublisher{}
	store := eventstore.NewPublishing(memory.New(), pub)

	require.NoError(t, store.PutEvents(ctx, id, []*pbj.Message{comment("e1", 1), comment("e2", 2)}, ""))
	assert.Equal(t, []string{"e1", "e2"}, pub.published)

	require.NoError(t, store.PutEvents(eventstore.WithoutPublishing(ctx), id, []*pbj.Message{comment("e3", 3)}, "e2"))
	assert.Equal(t, []string{"e1", "e2"}, pub.published)

	err := store.PutEvents(ctx, id, []*pbj.Message{comment("e4", 4)}, "stale")
	assert.ErrorIs(t, err, eventstore.ErrOptimisticCheckFailed)
	assert.Equal(t, []string{"e1", "e2"}, pub.published)

	pub.fail = map[string]error{"e5": errors.New("transport down")}
	err = store.PutEvents(ctx, id, []*pbj.Message{comment("e5", 5), comment("e6", 6)}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish e5")
	assert.Equal(t, []string{"e1", "e2", "e6"}, pub.published)

	// the write stands even though publishing failed
	_, err = store.GetEvent(ctx, "e5")
	assert.NoError(t, err)
	_, isMemory := store.Unwrap().(*memory.Store)
	assert.True(t, isMemory)
}

func TestPublishing_ThroughPbjx(t *testing.T) {
	p, err := pbjx.NewBuilder().WithTransportInstance(memtransport.NewTransport(memtransport.Config{})).Build()
	require.NoError(t, err)
	defer p.Close(context.Background())

	var seen []string
	p.Subscribe(commentAdded.Curie(), func(_ context.Context, _ *pbjx.Pbjx, e *pbj.Message) error {
		seen = append(seen, e.ID())
		return nil
	})
	store := eventstore.NewPublishing(memory.New(), p)
	require.NoError(t, store.PutEvents(context.Background(), eventstore.NewStreamID("article", "2"),
		[]*pbj.Message{comment("e1", 1)}, ""))
	assert.Equal(t, []string{"e1"}, seen)
}
