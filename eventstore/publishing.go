package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/trickstertwo/pbjx/pbj"
)

// Publisher publishes events. *pbjx.Pbjx satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event *pbj.Message) error
}

// Publishing decorates an EventStore so that every successful PutEvents
// publishes the written events, in order, through the publisher. Calls
// made with WithoutPublishing(ctx) only write.
type Publishing struct {
	EventStore
	publisher Publisher
}

var _ EventStore = (*Publishing)(nil)

// NewPublishing wraps store.
func NewPublishing(store EventStore, publisher Publisher) *Publishing {
	return &Publishing{EventStore: store, publisher: publisher}
}

// Unwrap returns the decorated store.
func (s *Publishing) Unwrap() EventStore { return s.EventStore }

// PutEvents writes, then publishes. A write failure publishes nothing.
// Publish failures do not undo the write; every event is attempted and the
// failures are joined.
func (s *Publishing) PutEvents(ctx context.Context, id StreamID, events []*pbj.Message, expectedEtag string) error {
	if err := s.EventStore.PutEvents(ctx, id, events, expectedEtag); err != nil {
		return err
	}
	if HintsFromContext(ctx).SkipPublish {
		return nil
	}

	var errs []error
	for _, e := range events {
		if err := s.publisher.Publish(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", e.ID(), err))
		}
	}
	return errors.Join(errs...)
}
