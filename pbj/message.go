package pbj

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// SchemaKey is the reserved key carrying the schema id in encoded messages.
const SchemaKey = "_schema"

var (
	ErrFrozenMessage = errors.New("pbj: message is frozen")
	ErrUnknownField  = errors.New("pbj: unknown field")
	ErrInvalidValue  = errors.New("pbj: invalid field value")
)

// Message is a schema-bound record. Messages are mutable until Freeze is
// called; after that every mutator panics. Freezing is deep: nested messages
// are frozen with their parent.
//
// A Message is not safe for concurrent mutation. Frozen messages may be read
// from any goroutine.
type Message struct {
	schema *Schema
	fields map[string]any
	frozen atomic.Bool
	replay atomic.Bool
}

// New returns an empty, mutable message of the given schema.
func New(s *Schema) *Message {
	if s == nil {
		panic("pbj: New called with nil schema")
	}
	return &Message{schema: s, fields: make(map[string]any, len(s.fields))}
}

func (m *Message) Schema() *Schema { return m.schema }

// Has reports whether the field holds a value. Empty lists count as unset.
func (m *Message) Has(name string) bool {
	v, ok := m.fields[name]
	if !ok {
		return false
	}
	if l, isList := v.([]any); isList {
		return len(l) > 0
	}
	return true
}

// Get returns the raw value of a field, nil when unset. List fields return []any.
func (m *Message) Get(name string) any { return m.fields[name] }

func (m *Message) GetString(name string) string {
	s, _ := m.fields[name].(string)
	return s
}

func (m *Message) GetInt(name string) int64 {
	n, _ := m.fields[name].(int64)
	return n
}

func (m *Message) GetBool(name string) bool {
	b, _ := m.fields[name].(bool)
	return b
}

func (m *Message) GetMicrotime(name string) Microtime {
	t, _ := m.fields[name].(Microtime)
	return t
}

func (m *Message) GetRef(name string) MessageRef {
	r, _ := m.fields[name].(MessageRef)
	return r
}

func (m *Message) GetMessage(name string) *Message {
	c, _ := m.fields[name].(*Message)
	return c
}

func (m *Message) GetObject(name string) map[string]any {
	o, _ := m.fields[name].(map[string]any)
	return o
}

// GetMessages returns the nested messages of a repeated message field.
func (m *Message) GetMessages(name string) []*Message {
	l, _ := m.fields[name].([]any)
	out := make([]*Message, 0, len(l))
	for _, v := range l {
		if c, ok := v.(*Message); ok {
			out = append(out, c)
		}
	}
	return out
}

// Set assigns a field. A nil value clears it. Mutating a frozen message,
// an undeclared field, or assigning a value of the wrong kind is a
// programming error and panics.
func (m *Message) Set(name string, v any) *Message {
	f := m.mustField(name)
	if v == nil {
		delete(m.fields, name)
		return m
	}
	if f.List {
		items, ok := v.([]any)
		if !ok {
			items = toAnySlice(v)
			if items == nil {
				panic(fmt.Errorf("%w: %s.%s expects a list, got %T", ErrInvalidValue, m.schema.Curie(), name, v))
			}
		}
		list := make([]any, 0, len(items))
		for _, it := range items {
			nv, err := normalize(f, it)
			if err != nil {
				panic(fmt.Errorf("%s.%s: %w", m.schema.Curie(), name, err))
			}
			list = append(list, nv)
		}
		m.fields[name] = list
		return m
	}
	nv, err := normalize(f, v)
	if err != nil {
		panic(fmt.Errorf("%s.%s: %w", m.schema.Curie(), name, err))
	}
	m.fields[name] = nv
	return m
}

// Add appends values to a list field.
func (m *Message) Add(name string, values ...any) *Message {
	f := m.mustField(name)
	if !f.List {
		panic(fmt.Errorf("%w: %s.%s is not a list", ErrInvalidValue, m.schema.Curie(), name))
	}
	list, _ := m.fields[name].([]any)
	for _, it := range values {
		nv, err := normalize(f, it)
		if err != nil {
			panic(fmt.Errorf("%s.%s: %w", m.schema.Curie(), name, err))
		}
		list = append(list, nv)
	}
	m.fields[name] = list
	return m
}

func (m *Message) Clear(name string) *Message {
	m.mustField(name)
	delete(m.fields, name)
	return m
}

func (m *Message) mustField(name string) *Field {
	if m.frozen.Load() {
		panic(fmt.Errorf("%w: cannot modify %s.%s", ErrFrozenMessage, m.schema.Curie(), name))
	}
	f, ok := m.schema.byName[name]
	if !ok {
		panic(fmt.Errorf("%w: %s has no field %q", ErrUnknownField, m.schema.Curie(), name))
	}
	return f
}

// Freeze makes the message and every nested message immutable.
func (m *Message) Freeze() *Message {
	if m.frozen.Swap(true) {
		return m
	}
	for _, c := range m.ChildMessages() {
		c.Freeze()
	}
	return m
}

func (m *Message) IsFrozen() bool { return m.frozen.Load() }

// IsReplay reports whether the message is being redelivered from history.
// It is transport metadata, not a field, and may be set on a frozen message.
func (m *Message) IsReplay() bool { return m.replay.Load() }

func (m *Message) SetReplay(v bool) *Message {
	m.replay.Store(v)
	return m
}

// Clone returns a deep, mutable copy.
func (m *Message) Clone() *Message {
	c := New(m.schema)
	for k, v := range m.fields {
		c.fields[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Message:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = cloneValue(it)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, it := range t {
			out[k] = cloneValue(it)
		}
		return out
	default:
		return v
	}
}

// ChildMessages returns the nested messages in field declaration order, and
// in list order within repeated fields.
func (m *Message) ChildMessages() []*Message {
	var out []*Message
	for _, f := range m.schema.fields {
		if f.Type != TypeMessage {
			continue
		}
		switch v := m.fields[f.Name].(type) {
		case *Message:
			out = append(out, v)
		case []any:
			for _, it := range v {
				if c, ok := it.(*Message); ok {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// ID returns the value of the schema's identity field as a string.
func (m *Message) ID() string {
	if m.schema.idField == "" {
		return ""
	}
	return m.GetString(m.schema.idField)
}

// Ref returns a reference to this message.
func (m *Message) Ref() MessageRef {
	return MessageRef{Curie: m.schema.Curie(), ID: m.ID()}
}

func (m *Message) String() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return m.schema.ID().String()
	}
	return string(b)
}
