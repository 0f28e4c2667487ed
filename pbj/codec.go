package pbj

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// GenerateID returns a new random identifier suitable for *_id fields.
func GenerateID() string { return uuid.NewString() }

// numberLike matches json.Number and the DynamoDB attributevalue.Number.
type numberLike interface {
	Int64() (int64, error)
	String() string
}

func toAnySlice(v any) []any {
	switch t := v.(type) {
	case []*Message:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = it
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = it
		}
		return out
	case []int64:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = it
		}
		return out
	case []MessageRef:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = it
		}
		return out
	}
	return nil
}

// normalize coerces v into the canonical in-memory representation of f.
func normalize(f *Field, v any) (any, error) {
	bad := func() (any, error) {
		return nil, fmt.Errorf("%w: %s expects %s, got %T", ErrInvalidValue, f.Name, f.Type, v)
	}
	switch f.Type {
	case TypeString:
		switch t := v.(type) {
		case string:
			return t, nil
		case fmt.Stringer:
			return t.String(), nil
		}
	case TypeIdentifier:
		switch t := v.(type) {
		case string:
			return t, nil
		case uuid.UUID:
			return t.String(), nil
		case fmt.Stringer:
			return t.String(), nil
		}
	case TypeInt:
		switch t := v.(type) {
		case int:
			return int64(t), nil
		case int32:
			return int64(t), nil
		case int64:
			return t, nil
		case uint32:
			return int64(t), nil
		case float64:
			if t != math.Trunc(t) {
				return bad()
			}
			return int64(t), nil
		case string:
			n, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return bad()
			}
			return n, nil
		case numberLike:
			n, err := t.Int64()
			if err != nil {
				return bad()
			}
			return n, nil
		}
	case TypeFloat:
		switch t := v.(type) {
		case float64:
			return t, nil
		case float32:
			return float64(t), nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case numberLike:
			n, err := strconv.ParseFloat(t.String(), 64)
			if err != nil {
				return bad()
			}
			return n, nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeMicrotime:
		switch t := v.(type) {
		case Microtime:
			return t, nil
		case int64:
			return Microtime(t), nil
		case int:
			return Microtime(t), nil
		case float64:
			return Microtime(int64(t)), nil
		case string:
			m, err := ParseMicrotime(t)
			if err != nil {
				return bad()
			}
			return m, nil
		case fmt.Stringer:
			m, err := ParseMicrotime(t.String())
			if err != nil {
				return bad()
			}
			return m, nil
		}
	case TypeMessageRef:
		switch t := v.(type) {
		case MessageRef:
			return t, nil
		case string:
			r, err := ParseMessageRef(t)
			if err != nil {
				return bad()
			}
			return r, nil
		}
	case TypeMessage:
		switch t := v.(type) {
		case *Message:
			if t == nil {
				return bad()
			}
			return t, nil
		case map[string]any:
			return FromMap(t)
		}
	case TypeObject:
		if o, ok := v.(map[string]any); ok {
			return o, nil
		}
	}
	return bad()
}

// ToMap converts the message into plain values: strings, int64, float64,
// bool, map[string]any and []any. Microtimes and refs become strings. The
// schema id is stored under SchemaKey.
func (m *Message) ToMap() map[string]any {
	out := make(map[string]any, len(m.fields)+1)
	out[SchemaKey] = m.schema.ID().String()
	for _, f := range m.schema.fields {
		v, ok := m.fields[f.Name]
		if !ok {
			continue
		}
		if l, isList := v.([]any); isList {
			items := make([]any, len(l))
			for i, it := range l {
				items[i] = plain(it)
			}
			out[f.Name] = items
			continue
		}
		out[f.Name] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case *Message:
		return t.ToMap()
	case Microtime:
		return t.String()
	case MessageRef:
		return t.String()
	default:
		return v
	}
}

// FromMap rebuilds a message from the output of ToMap (or any decoder that
// produced equivalent loosely typed values). The schema is resolved through
// the registry. Keys that are not declared fields are ignored.
func FromMap(data map[string]any) (*Message, error) {
	raw, ok := data[SchemaKey]
	if !ok {
		return nil, fmt.Errorf("pbj: missing %s", SchemaKey)
	}
	sid, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("pbj: %s must be a string, got %T", SchemaKey, raw)
	}
	s, err := Lookup(sid)
	if err != nil {
		return nil, err
	}
	m := New(s)
	for _, f := range s.fields {
		v, ok := data[f.Name]
		if !ok || v == nil {
			continue
		}
		if f.List {
			items, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s expects a list, got %T", ErrInvalidValue, s.Curie(), f.Name, v)
			}
			list := make([]any, 0, len(items))
			for _, it := range items {
				nv, err := decodeValue(f, it)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", s.Curie(), f.Name, err)
				}
				list = append(list, nv)
			}
			m.fields[f.Name] = list
			continue
		}
		nv, err := decodeValue(f, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", s.Curie(), f.Name, err)
		}
		m.fields[f.Name] = nv
	}
	return m, nil
}

func decodeValue(f *Field, v any) (any, error) {
	if f.Type == TypeObject {
		if o, ok := v.(map[string]any); ok {
			return plainValue(o), nil
		}
	}
	return normalize(f, v)
}

// plainValue replaces decoder number types inside a decoded object with
// int64, or float64 when the number is not integral. Maps and slices are
// rewritten in place.
func plainValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = plainValue(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = plainValue(e)
		}
		return t
	case numberLike:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ToMap())
}

// UnmarshalJSON decodes into m, replacing its schema with the one named by
// the payload.
func (m *Message) UnmarshalJSON(b []byte) error {
	if m.frozen.Load() {
		return ErrFrozenMessage
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return fmt.Errorf("pbj: decode message: %w", err)
	}
	decoded, err := FromMap(data)
	if err != nil {
		return err
	}
	m.schema = decoded.schema
	m.fields = decoded.fields
	return nil
}

// Unmarshal decodes a JSON encoded message.
func Unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	if err := m.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return m, nil
}
