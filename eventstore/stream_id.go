package eventstore

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidStreamID = errors.New("eventstore: invalid stream id")

// StreamID names one ordered partition of events, written as
// topic:partition or topic:partition:subpartition.
type StreamID struct {
	Topic        string
	Partition    string
	SubPartition string
}

// NewStreamID builds a StreamID from its parts.
func NewStreamID(topic, partition string, subPartition ...string) StreamID {
	id := StreamID{Topic: topic, Partition: partition}
	if len(subPartition) > 0 {
		id.SubPartition = subPartition[0]
	}
	return id
}

// ParseStreamID parses the string form. The subpartition may itself contain
// colons.
func ParseStreamID(s string) (StreamID, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return StreamID{}, fmt.Errorf("%w: %q", ErrInvalidStreamID, s)
	}
	id := StreamID{Topic: parts[0], Partition: parts[1]}
	if len(parts) == 3 {
		if parts[2] == "" {
			return StreamID{}, fmt.Errorf("%w: %q", ErrInvalidStreamID, s)
		}
		id.SubPartition = parts[2]
	}
	return id, nil
}

// MustParseStreamID is ParseStreamID that panics on error.
func MustParseStreamID(s string) StreamID {
	id, err := ParseStreamID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id StreamID) String() string {
	if id.SubPartition == "" {
		return id.Topic + ":" + id.Partition
	}
	return id.Topic + ":" + id.Partition + ":" + id.SubPartition
}

func (id StreamID) IsZero() bool { return id.Topic == "" && id.Partition == "" }

func (id StreamID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *StreamID) UnmarshalText(b []byte) error {
	v, err := ParseStreamID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
