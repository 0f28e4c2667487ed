// Package eventstore defines the append-only event stream contract and the
// pieces shared by its implementations: stream ids, slices, the error
// taxonomy, the optimistic etag check, the slice pager and the
// write-then-publish decorator.
//
// Implementations live in subpackages:
//
//	eventstore/memory    in-process, for tests and local development
//	eventstore/dynamodb  Amazon DynamoDB
package eventstore

import (
	"context"
	"fmt"
	"iter"

	"github.com/trickstertwo/pbjx"
	"github.com/trickstertwo/pbjx/pbj"
	"google.golang.org/grpc/codes"
)

const (
	// MaxSliceCount bounds the number of events in one slice.
	MaxSliceCount = 100
	// DefaultSliceCount is used when SliceOptions.Count is zero.
	DefaultSliceCount = 25
	// PipePageSize is the slice size PipeStream pulls per page.
	PipePageSize = 100
)

// EventStore persists events in ordered, append-only streams.
//
// Within one stream events are ordered by occurred_at, which must be unique
// per stream. Pipes are lazy: nothing is read until the sequence is ranged
// over, and breaking out of the loop stops the underlying reads. A failure
// ends a pipe with a single (nil, err) pair.
type EventStore interface {
	// CreateStorage provisions the backing storage. It is idempotent.
	CreateStorage(ctx context.Context) error
	// DescribeStorage returns a human readable description of the storage.
	DescribeStorage(ctx context.Context) (string, error)

	// GetEvent returns the event with the given event_id, or an error
	// matching ErrEventNotFound.
	GetEvent(ctx context.Context, eventID string) (*pbj.Message, error)
	// GetEvents returns the events found for ids. Missing ids are skipped.
	GetEvents(ctx context.Context, eventIDs []string) ([]*pbj.Message, error)
	// DeleteEvent removes a single event. Deleting a missing event is not an
	// error.
	DeleteEvent(ctx context.Context, eventID string) error

	// GetStreamSlice returns one page of a stream. The slice is never nil,
	// even for a stream that does not exist.
	GetStreamSlice(ctx context.Context, id StreamID, opts SliceOptions) (*StreamSlice, error)
	// PutEvents appends events to a stream atomically. A non-empty
	// expectedEtag must equal the event_id of the stream's current head,
	// otherwise nothing is written and ErrOptimisticCheckFailed is returned.
	PutEvents(ctx context.Context, id StreamID, events []*pbj.Message, expectedEtag string) error

	// PipeEvents yields a stream's events oldest first, after since and
	// before until. Zero bounds are open.
	PipeEvents(ctx context.Context, id StreamID, since, until pbj.Microtime) iter.Seq2[*pbj.Message, error]
	// PipeAllEvents yields every stored event after since and before until.
	// Events are ordered within a stream, not across streams.
	PipeAllEvents(ctx context.Context, since, until pbj.Microtime) iter.Seq2[*pbj.Message, error]
}

// SliceOptions selects a page of a stream.
type SliceOptions struct {
	// Since is the exclusive cursor. Zero means the start of the stream when
	// reading forward and now when reading backward.
	Since pbj.Microtime
	// Count is clamped to [1, MaxSliceCount]; zero means DefaultSliceCount.
	Count      int
	Forward    bool
	Consistent bool
}

// ClampCount bounds a requested slice size.
func ClampCount(n int) int {
	if n == 0 {
		return DefaultSliceCount
	}
	return min(max(n, 1), MaxSliceCount)
}

// OccurredAt returns the event's occurred_at field.
func OccurredAt(event *pbj.Message) pbj.Microtime {
	return event.GetMicrotime(pbjx.FieldOccurredAt)
}

// InRange reports whether t lies strictly between since and until, treating
// zero bounds as open.
func InRange(t, since, until pbj.Microtime) bool {
	if !since.IsZero() && t <= since {
		return false
	}
	if !until.IsZero() && t >= until {
		return false
	}
	return true
}

// ValidateEvents checks that every message is an event carrying an
// event_id and an occurred_at, and that neither repeats in the batch.
func ValidateEvents(events []*pbj.Message) error {
	seen := make(map[pbj.Microtime]struct{}, len(events))
	ids := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || !pbjx.IsEvent(e) {
			return NewError(codes.InvalidArgument, "only events can be stored", nil)
		}
		if e.ID() == "" {
			return NewError(codes.InvalidArgument, fmt.Sprintf("%s has no event_id", e.Schema().Curie()), nil)
		}
		if _, dup := ids[e.ID()]; dup {
			return NewError(codes.InvalidArgument, fmt.Sprintf("event %s is used twice in one batch", e.ID()), nil)
		}
		ids[e.ID()] = struct{}{}
		t := OccurredAt(e)
		if t.IsZero() {
			return NewError(codes.InvalidArgument, fmt.Sprintf("event %s has no occurred_at", e.ID()), nil)
		}
		if _, dup := seen[t]; dup {
			return NewError(codes.InvalidArgument, fmt.Sprintf("occurred_at %s is used twice in one batch", t), nil)
		}
		seen[t] = struct{}{}
	}
	return nil
}
