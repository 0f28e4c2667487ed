package pbj

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testCommentSchema = NewSchema("pbj:acme:blog:node:comment:1-0-0", []*Field{
		NewField("id", TypeIdentifier),
		NewField("body", TypeString),
	})
	testArticleSchema = NewSchema("pbj:acme:blog:event:article-published:1-2-0", []*Field{
		NewField("event_id", TypeIdentifier),
		NewField("occurred_at", TypeMicrotime),
		NewField("title", TypeString),
		NewField("views", TypeInt),
		NewField("score", TypeFloat),
		NewField("draft", TypeBool),
		NewField("author_ref", TypeMessageRef),
		NewField("meta", TypeObject),
		NewField("lead", TypeMessage),
		NewListField("comments", TypeMessage),
		NewListField("tags", TypeString),
	}, "acme:blog:mixin:publishable")
)

func init() {
	Register(testCommentSchema)
	Register(testArticleSchema)
}

func comment(id, body string) *Message {
	return New(testCommentSchema).Set("id", id).Set("body", body)
}

func TestParseSchemaID(t *testing.T) {
	id, err := ParseSchemaID("pbj:acme:blog:event:article-published:1-2-0")
	require.NoError(t, err)
	assert.Equal(t, "acme:blog:event:article-published", id.Curie())
	assert.Equal(t, "acme:blog:event:article-published:v1", id.CurieMajor())
	assert.Equal(t, "pbj:acme:blog:event:article-published:1-2-0", id.String())

	for _, bad := range []string{"", "acme:blog:event:x:1-0-0", "pbj:acme:blog:event:x:1-0", "pbj:acme::event:x:1-0-0", "pbj:a:b:c:d:1-x-0"} {
		_, err := ParseSchemaID(bad)
		assert.ErrorIs(t, err, ErrInvalidSchemaID, bad)
	}
}

func TestSchema_IDFieldAndMixins(t *testing.T) {
	assert.Equal(t, "event_id", testArticleSchema.IDField())
	assert.Equal(t, "id", testCommentSchema.IDField())
	assert.True(t, testArticleSchema.HasMixin("acme:blog:mixin:publishable"))
	assert.False(t, testCommentSchema.HasMixin("acme:blog:mixin:publishable"))
	assert.Panics(t, func() {
		NewSchema("pbj:acme:blog:node:dup:1-0-0", []*Field{NewField("a", TypeString), NewField("a", TypeInt)})
	})
}

func TestLookup(t *testing.T) {
	s, err := Lookup("acme:blog:node:comment")
	require.NoError(t, err)
	assert.Same(t, testCommentSchema, s)

	s, err = Lookup("pbj:acme:blog:node:comment:1-4-2")
	require.NoError(t, err)
	assert.Same(t, testCommentSchema, s)

	_, err = Lookup("acme:blog:node:missing")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestMessage_SetGet(t *testing.T) {
	m := New(testArticleSchema).
		Set("title", "hello").
		Set("views", 3).
		Set("score", 1.5).
		Set("draft", true).
		Set("tags", []string{"a", "b"})

	assert.Equal(t, "hello", m.GetString("title"))
	assert.Equal(t, int64(3), m.GetInt("views"))
	assert.True(t, m.GetBool("draft"))
	assert.Equal(t, []any{"a", "b"}, m.Get("tags"))
	assert.True(t, m.Has("tags"))

	m.Set("tags", []string{})
	assert.False(t, m.Has("tags"))

	m.Set("title", nil)
	assert.False(t, m.Has("title"))

	assert.Panics(t, func() { m.Set("nope", 1) })
	assert.Panics(t, func() { m.Set("views", "many") })
	assert.Panics(t, func() { m.Set("tags", "not-a-list") })
}

func TestMessage_FreezeIsDeep(t *testing.T) {
	lead := comment("c0", "lead")
	m := New(testArticleSchema).Set("lead", lead).Add("comments", comment("c1", "x"))
	m.Freeze()

	assert.True(t, m.IsFrozen())
	assert.True(t, lead.IsFrozen())
	assert.True(t, m.GetMessages("comments")[0].IsFrozen())
	assert.Panics(t, func() { m.Set("title", "x") })
	assert.Panics(t, func() { lead.Set("body", "y") })

	// replay is transport metadata and stays writable.
	m.SetReplay(true)
	assert.True(t, m.IsReplay())

	c := m.Clone()
	assert.False(t, c.IsFrozen())
	assert.False(t, c.GetMessage("lead").IsFrozen())
	c.Set("title", "changed")
	assert.False(t, m.Has("title"))
}

func TestMessage_ChildMessagesOrder(t *testing.T) {
	m := New(testArticleSchema).
		Add("comments", comment("c1", "one"), comment("c2", "two")).
		Set("lead", comment("c0", "lead"))

	var ids []string
	for _, c := range m.ChildMessages() {
		ids = append(ids, c.ID())
	}
	// lead is declared before comments.
	assert.Equal(t, []string{"c0", "c1", "c2"}, ids)
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	at := NewMicrotime(time.Date(2017, 3, 10, 7, 39, 15, 504330000, time.UTC))
	m := New(testArticleSchema).
		Set("event_id", "e1").
		Set("occurred_at", at).
		Set("title", "hello").
		Set("views", int64(1)<<53+1).
		Set("author_ref", "acme:user:node:user:u1").
		Set("meta", map[string]any{"k": "v"}).
		Set("lead", comment("c0", "lead")).
		Add("comments", comment("c1", "x"))

	b, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "pbj:acme:blog:event:article-published:1-2-0", raw[SchemaKey])
	assert.Equal(t, at.String(), raw["occurred_at"])

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID())
	assert.Equal(t, at, got.GetMicrotime("occurred_at"))
	assert.Equal(t, int64(1)<<53+1, got.GetInt("views"))
	assert.Equal(t, MessageRef{Curie: "acme:user:node:user", ID: "u1"}, got.GetRef("author_ref"))
	assert.Equal(t, "lead", got.GetMessage("lead").GetString("body"))
	require.Len(t, got.GetMessages("comments"), 1)
	assert.Equal(t, "c1", got.GetMessages("comments")[0].ID())
	assert.Equal(t, m.ToMap(), got.ToMap())
}

func TestFromMap_ObjectNumbers(t *testing.T) {
	m, err := FromMap(map[string]any{
		SchemaKey: testArticleSchema.ID().String(),
		"meta": map[string]any{
			"n":    json.Number("3"),
			"f":    json.Number("1.25"),
			"list": []any{json.Number("7"), "s"},
			"deep": map[string]any{"big": json.Number("9007199254740993")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"n":    int64(3),
		"f":    1.25,
		"list": []any{int64(7), "s"},
		"deep": map[string]any{"big": int64(9007199254740993)},
	}, m.GetObject("meta"))

	got, err := Unmarshal([]byte(`{"_schema":"pbj:acme:blog:event:article-published:1-2-0","meta":{"n":3}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.GetObject("meta")["n"])
}

func TestUnmarshal_UnknownSchema(t *testing.T) {
	_, err := Unmarshal([]byte(`{"_schema":"pbj:acme:blog:event:unknown:1-0-0"}`))
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	_, err = Unmarshal([]byte(`{"title":"x"}`))
	assert.Error(t, err)
}

func TestMicrotime(t *testing.T) {
	m, err := ParseMicrotime("1489129155504330")
	require.NoError(t, err)
	assert.Equal(t, Microtime(1489129155504330), m)

	m2, err := ParseMicrotime("1489129155.50433")
	require.NoError(t, err)
	assert.Equal(t, m, m2)

	assert.Equal(t, int64(1489129155), m.Time().Unix())
	_, err = ParseMicrotime("abc")
	assert.Error(t, err)
}

func TestMessageRef(t *testing.T) {
	r, err := ParseMessageRef("acme:blog:node:article:a:b#tag")
	require.NoError(t, err)
	assert.Equal(t, "acme:blog:node:article", r.Curie)
	assert.Equal(t, "a:b", r.ID)
	assert.Equal(t, "tag", r.Tag)
	assert.Equal(t, "acme:blog:node:article:a:b#tag", r.String())

	_, err = ParseMessageRef("acme:blog:article")
	assert.Error(t, err)

	ref := comment("c9", "x").Ref()
	assert.Equal(t, "acme:blog:node:comment:c9", ref.String())
}
