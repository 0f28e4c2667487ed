// Package memory is an in-process EventStore. Streams are kept sorted by
// occurred_at in a map guarded by a RWMutex; stored events are frozen and
// shared with readers.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/pbj"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"google.golang.org/grpc/codes"
)

// Store keeps every stream in memory.
type Store struct {
	mu      sync.RWMutex
	streams map[string][]*pbj.Message
	// event_id -> stream key
	index map[string]string

	clock  xclock.Clock
	logger *xlog.Logger
}

var _ eventstore.EventStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for the "now" cursor of backward slices.
func WithClock(c xclock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		streams: make(map[string][]*pbj.Message),
		index:   make(map[string]string),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.clock == nil {
		s.clock = xclock.Default()
	}
	if s.logger == nil {
		s.logger = xlog.Default()
	}
	return s
}

func (s *Store) CreateStorage(context.Context) error { return nil }

func (s *Store) DescribeStorage(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("memory event store: %d streams, %d events", len(s.streams), len(s.index)), nil
}

func (s *Store) GetEvent(_ context.Context, eventID string) (*pbj.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.lookup(eventID); e != nil {
		return e, nil
	}
	return nil, eventstore.NewError(codes.NotFound, fmt.Sprintf("event %s not found", eventID), nil)
}

func (s *Store) GetEvents(_ context.Context, eventIDs []string) ([]*pbj.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pbj.Message, 0, len(eventIDs))
	for _, id := range eventIDs {
		if e := s.lookup(id); e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// lookup must be called with mu held.
func (s *Store) lookup(eventID string) *pbj.Message {
	key, ok := s.index[eventID]
	if !ok {
		return nil
	}
	for _, e := range s.streams[key] {
		if e.ID() == eventID {
			return e
		}
	}
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.index[eventID]
	if !ok {
		return nil
	}
	delete(s.index, eventID)
	events := slices.DeleteFunc(s.streams[key], func(e *pbj.Message) bool { return e.ID() == eventID })
	if len(events) == 0 {
		delete(s.streams, key)
		return nil
	}
	s.streams[key] = events
	return nil
}

func (s *Store) GetStreamSlice(_ context.Context, id eventstore.StreamID, opts eventstore.SliceOptions) (*eventstore.StreamSlice, error) {
	count := eventstore.ClampCount(opts.Count)
	since := opts.Since
	if since.IsZero() && !opts.Forward {
		since = pbj.NewMicrotime(s.clock.Now())
	}

	s.mu.RLock()
	events := s.streams[id.String()]
	var page []*pbj.Message
	hasMore := false
	if opts.Forward {
		// first index with occurred_at > since
		i := sort.Search(len(events), func(i int) bool { return eventstore.OccurredAt(events[i]) > since })
		end := min(i+count, len(events))
		page = slices.Clone(events[i:end])
		hasMore = end < len(events)
	} else {
		// first index with occurred_at >= since; everything before is older
		i := sort.Search(len(events), func(i int) bool { return eventstore.OccurredAt(events[i]) >= since })
		start := max(i-count, 0)
		page = slices.Clone(events[start:i])
		slices.Reverse(page)
		hasMore = start > 0
	}
	s.mu.RUnlock()

	return eventstore.NewStreamSlice(id, page, opts.Forward, opts.Consistent, hasMore), nil
}

// PutEvents checks the etag and appends all events, or nothing. Events are
// frozen once stored.
func (s *Store) PutEvents(_ context.Context, id eventstore.StreamID, events []*pbj.Message, expectedEtag string) error {
	if len(events) == 0 {
		return nil
	}
	if err := eventstore.ValidateEvents(events); err != nil {
		return err
	}

	key := id.String()
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[key]
	head := ""
	if len(stream) > 0 {
		head = stream[len(stream)-1].ID()
	}
	if err := eventstore.CheckEtag(id, head, expectedEtag); err != nil {
		return err
	}

	for _, e := range events {
		if _, dup := s.index[e.ID()]; dup {
			return eventstore.NewError(codes.DataLoss, fmt.Sprintf("event %s already exists", e.ID()), nil)
		}
		t := eventstore.OccurredAt(e)
		if _, found := slices.BinarySearchFunc(stream, t, compareOccurredAt); found {
			return eventstore.NewError(codes.DataLoss, fmt.Sprintf("stream %s already has an event at %s", id, t), nil)
		}
	}

	for _, e := range events {
		e.Freeze()
		i, _ := slices.BinarySearchFunc(stream, eventstore.OccurredAt(e), compareOccurredAt)
		stream = slices.Insert(stream, i, e)
		s.index[e.ID()] = key
	}
	s.streams[key] = stream
	s.logger.With(xlog.Str("stream_id", key)).Debug().Msg("eventstore/memory: events stored")
	return nil
}

func compareOccurredAt(e *pbj.Message, t pbj.Microtime) int {
	return cmp.Compare(eventstore.OccurredAt(e), t)
}

func (s *Store) PipeEvents(ctx context.Context, id eventstore.StreamID, since, until pbj.Microtime) iter.Seq2[*pbj.Message, error] {
	return eventstore.PipeStream(ctx, s.GetStreamSlice, id, since, until)
}

// PipeAllEvents yields a snapshot taken when ranging starts, stream by
// stream in stream id order.
func (s *Store) PipeAllEvents(ctx context.Context, since, until pbj.Microtime) iter.Seq2[*pbj.Message, error] {
	return func(yield func(*pbj.Message, error) bool) {
		s.mu.RLock()
		keys := make([]string, 0, len(s.streams))
		for k := range s.streams {
			keys = append(keys, k)
		}
		snapshot := make(map[string][]*pbj.Message, len(keys))
		for _, k := range keys {
			snapshot[k] = slices.Clone(s.streams[k])
		}
		s.mu.RUnlock()
		slices.Sort(keys)

		for _, k := range keys {
			for _, e := range snapshot[k] {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if !eventstore.InRange(eventstore.OccurredAt(e), since, until) {
					continue
				}
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}
