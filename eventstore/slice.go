package eventstore

import "github.com/trickstertwo/pbjx/pbj"

// StreamSlice is one directional page of a stream.
type StreamSlice struct {
	Events     []*pbj.Message
	StreamID   StreamID
	Forward    bool
	Consistent bool
	// HasMore is true when events remain beyond the last one returned.
	HasMore bool
}

// NewStreamSlice returns a slice with a non-nil event list.
func NewStreamSlice(id StreamID, events []*pbj.Message, forward, consistent, hasMore bool) *StreamSlice {
	if events == nil {
		events = []*pbj.Message{}
	}
	return &StreamSlice{
		Events:     events,
		StreamID:   id,
		Forward:    forward,
		Consistent: consistent,
		HasMore:    hasMore,
	}
}

func (s *StreamSlice) Len() int { return len(s.Events) }

func (s *StreamSlice) First() *pbj.Message {
	if len(s.Events) == 0 {
		return nil
	}
	return s.Events[0]
}

func (s *StreamSlice) Last() *pbj.Message {
	if len(s.Events) == 0 {
		return nil
	}
	return s.Events[len(s.Events)-1]
}

// LastOccurredAt is the cursor for the next page, or zero for an empty slice.
func (s *StreamSlice) LastOccurredAt() pbj.Microtime {
	if last := s.Last(); last != nil {
		return OccurredAt(last)
	}
	return 0
}
