package pbj

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldType enumerates the value kinds a schema field can hold.
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeInt        FieldType = "int"
	TypeFloat      FieldType = "float"
	TypeBool       FieldType = "bool"
	TypeMicrotime  FieldType = "microtime"
	TypeIdentifier FieldType = "identifier"
	TypeMessage    FieldType = "message"
	TypeMessageRef FieldType = "message-ref"
	TypeObject     FieldType = "object"
)

// Field describes one named field of a schema.
type Field struct {
	Name string
	Type FieldType
	// List marks a repeated field; values are kept in insertion order.
	List bool
}

// NewField returns a single-valued field.
func NewField(name string, t FieldType) *Field {
	return &Field{Name: name, Type: t}
}

// NewListField returns a repeated field.
func NewListField(name string, t FieldType) *Field {
	return &Field{Name: name, Type: t, List: true}
}

var ErrInvalidSchemaID = errors.New("pbj: invalid schema id")

// SchemaID identifies a versioned message type:
// pbj:vendor:package:category:message:major-minor-patch
type SchemaID struct {
	Vendor   string
	Package  string
	Category string
	Message  string
	Major    int
	Minor    int
	Patch    int
}

// ParseSchemaID parses the canonical "pbj:" prefixed form.
func ParseSchemaID(s string) (SchemaID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 || parts[0] != "pbj" {
		return SchemaID{}, fmt.Errorf("%w: %q", ErrInvalidSchemaID, s)
	}
	for _, p := range parts[1:5] {
		if p == "" {
			return SchemaID{}, fmt.Errorf("%w: %q", ErrInvalidSchemaID, s)
		}
	}
	ver := strings.Split(parts[5], "-")
	if len(ver) != 3 {
		return SchemaID{}, fmt.Errorf("%w: bad version in %q", ErrInvalidSchemaID, s)
	}
	nums := make([]int, 3)
	for i, v := range ver {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return SchemaID{}, fmt.Errorf("%w: bad version in %q", ErrInvalidSchemaID, s)
		}
		nums[i] = n
	}
	return SchemaID{
		Vendor:   parts[1],
		Package:  parts[2],
		Category: parts[3],
		Message:  parts[4],
		Major:    nums[0],
		Minor:    nums[1],
		Patch:    nums[2],
	}, nil
}

// MustParseSchemaID is like ParseSchemaID but panics on error.
func MustParseSchemaID(s string) SchemaID {
	id, err := ParseSchemaID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id SchemaID) String() string {
	return fmt.Sprintf("pbj:%s:%d-%d-%d", id.Curie(), id.Major, id.Minor, id.Patch)
}

// Curie is the unversioned type name vendor:package:category:message.
func (id SchemaID) Curie() string {
	return id.Vendor + ":" + id.Package + ":" + id.Category + ":" + id.Message
}

// CurieMajor qualifies the curie with the major version, e.g. acme:blog:event:published:v1.
func (id SchemaID) CurieMajor() string {
	return id.Curie() + ":v" + strconv.Itoa(id.Major)
}

// idFieldCandidates are checked in order to find the identity field of a schema.
var idFieldCandidates = []string{"command_id", "event_id", "request_id", "response_id", "id"}

// Schema describes a message type: identity, mixins and fields.
type Schema struct {
	id      SchemaID
	mixins  []string
	fields  []*Field
	byName  map[string]*Field
	idField string
}

// NewSchema builds a schema. It panics on a malformed id or duplicate field
// names since schemas are declared once at startup.
func NewSchema(id string, fields []*Field, mixins ...string) *Schema {
	sid := MustParseSchemaID(id)
	s := &Schema{
		id:     sid,
		mixins: append([]string(nil), mixins...),
		fields: make([]*Field, 0, len(fields)),
		byName: make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		if f == nil || f.Name == "" {
			panic(fmt.Sprintf("pbj: schema %s has an unnamed field", id))
		}
		if f.Name == SchemaKey {
			panic(fmt.Sprintf("pbj: schema %s uses reserved field %q", id, SchemaKey))
		}
		if _, dup := s.byName[f.Name]; dup {
			panic(fmt.Sprintf("pbj: schema %s declares field %q twice", id, f.Name))
		}
		s.fields = append(s.fields, f)
		s.byName[f.Name] = f
	}
	for _, name := range idFieldCandidates {
		if _, ok := s.byName[name]; ok {
			s.idField = name
			break
		}
	}
	return s
}

func (s *Schema) ID() SchemaID       { return s.id }
func (s *Schema) Curie() string      { return s.id.Curie() }
func (s *Schema) CurieMajor() string { return s.id.CurieMajor() }

// Mixins returns the mixin tags in declaration order.
func (s *Schema) Mixins() []string { return s.mixins }

func (s *Schema) HasMixin(mixin string) bool {
	for _, m := range s.mixins {
		if m == mixin {
			return true
		}
	}
	return false
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []*Field { return s.fields }

func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

func (s *Schema) HasField(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// IDField is the name of the field holding the message identity, or "" if none.
func (s *Schema) IDField() string { return s.idField }
