package eventstore

import (
	"context"
	"iter"

	"github.com/trickstertwo/pbjx/pbj"
)

// SliceLoader loads one page of a stream. EventStore.GetStreamSlice
// satisfies it.
type SliceLoader func(ctx context.Context, id StreamID, opts SliceOptions) (*StreamSlice, error)

// PipeStream pages through a stream with load, PipePageSize events at a
// time, and yields events oldest first. It stops at the first event at or
// after until, when a page reports no more events, or when the consumer
// stops ranging. Restart a pipe by passing the occurred_at of the last
// event seen as since.
func PipeStream(ctx context.Context, load SliceLoader, id StreamID, since, until pbj.Microtime) iter.Seq2[*pbj.Message, error] {
	return func(yield func(*pbj.Message, error) bool) {
		cursor := since
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			slice, err := load(ctx, id, SliceOptions{Since: cursor, Count: PipePageSize, Forward: true})
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range slice.Events {
				if !until.IsZero() && OccurredAt(e) >= until {
					return
				}
				if !yield(e, nil) {
					return
				}
			}
			if !slice.HasMore || slice.Len() == 0 {
				return
			}
			cursor = slice.LastOccurredAt()
		}
	}
}
