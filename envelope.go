package pbjx

import (
	"encoding/json"
	"fmt"

	"github.com/trickstertwo/pbjx/pbj"
)

// Envelope wraps a message for transports that cross process boundaries.
//
// Wire form (JSON):
//
//	{"serializer":"json","is_replay":false,"message":"<serialized message>"}
type Envelope struct {
	Serializer string
	IsReplay   bool
	Message    *pbj.Message
}

type envelopeWire struct {
	Serializer string `json:"serializer"`
	IsReplay   bool   `json:"is_replay"`
	Message    string `json:"message"`
}

// NewEnvelope wraps m using the named serializer, carrying m's replay flag.
func NewEnvelope(m *pbj.Message, serializer string) *Envelope {
	if serializer == "" {
		serializer = SerializerJSON
	}
	return &Envelope{Serializer: serializer, IsReplay: m.IsReplay(), Message: m}
}

// ToString encodes the envelope.
func (e *Envelope) ToString() (string, error) {
	s, err := NewSerializer(e.Serializer)
	if err != nil {
		return "", err
	}
	payload, err := s.Serialize(e.Message)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(envelopeWire{
		Serializer: e.Serializer,
		IsReplay:   e.IsReplay,
		Message:    string(payload),
	})
	if err != nil {
		return "", fmt.Errorf("pbjx: encode envelope: %w", err)
	}
	return string(b), nil
}

// EnvelopeFromString decodes the output of ToString. The decoded message
// carries the envelope's replay flag.
func EnvelopeFromString(s string) (*Envelope, error) {
	var w envelopeWire
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil, fmt.Errorf("pbjx: decode envelope: %w", err)
	}
	if w.Serializer == "" {
		w.Serializer = SerializerJSON
	}
	ser, err := NewSerializer(w.Serializer)
	if err != nil {
		return nil, err
	}
	m, err := ser.Deserialize([]byte(w.Message))
	if err != nil {
		return nil, err
	}
	m.SetReplay(w.IsReplay)
	return &Envelope{Serializer: w.Serializer, IsReplay: w.IsReplay, Message: m}, nil
}
