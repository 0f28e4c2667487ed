package pbjx

import (
	"bytes"
	"fmt"

	"github.com/trickstertwo/pbjx/pbj"
	"gopkg.in/yaml.v3"
)

// Serializer names accepted in transport envelopes.
const (
	SerializerJSON = "json"
	SerializerYAML = "yaml"
	SerializerPHP  = "php"
)

// Serializer is the Strategy for encoding messages inside an envelope.
type Serializer interface {
	Serialize(m *pbj.Message) ([]byte, error)
	Deserialize(data []byte) (*pbj.Message, error)
	Name() string
}

// JSONSerializer is the default implementation.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(m *pbj.Message) ([]byte, error) { return m.MarshalJSON() }
func (JSONSerializer) Deserialize(b []byte) (*pbj.Message, error) { return pbj.Unmarshal(b) }
func (JSONSerializer) Name() string                                { return SerializerJSON }

// YAMLSerializer encodes the same map form as JSON using yaml.v3.
type YAMLSerializer struct{}

func (YAMLSerializer) Serialize(m *pbj.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m.ToMap()); err != nil {
		return nil, fmt.Errorf("pbjx: yaml encode %s: %w", m.Schema().Curie(), err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (YAMLSerializer) Deserialize(b []byte) (*pbj.Message, error) {
	var data map[string]any
	if err := yaml.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("pbjx: yaml decode: %w", err)
	}
	return pbj.FromMap(data)
}

func (YAMLSerializer) Name() string { return SerializerYAML }
