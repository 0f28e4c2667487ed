package pbjx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/pbjx/pbj"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	for _, serializer := range []string{SerializerJSON, SerializerYAML} {
		t.Run(serializer, func(t *testing.T) {
			cmd := pbj.New(testPublishArticle).
				Set(FieldCommandID, "7c9a").
				Set(FieldOccurredAt, pbj.Microtime(1489129155504330)).
				Set(FieldCtxTenantID, "t1").
				Set("title", "hello").
				Set("node", node("n1").Add("children", node("n2")))
			cmd.SetReplay(true)

			s, err := NewEnvelope(cmd, serializer).ToString()
			require.NoError(t, err)

			env, err := EnvelopeFromString(s)
			require.NoError(t, err)
			assert.Equal(t, serializer, env.Serializer)
			assert.True(t, env.IsReplay)
			assert.True(t, env.Message.IsReplay())

			got := env.Message
			assert.Equal(t, testPublishArticle, got.Schema())
			assert.Equal(t, "7c9a", got.ID())
			assert.Equal(t, pbj.Microtime(1489129155504330), got.GetMicrotime(FieldOccurredAt))
			assert.Equal(t, "hello", got.GetString("title"))
			require.NotNil(t, got.GetMessage("node"))
			children := got.GetMessage("node").GetMessages("children")
			require.Len(t, children, 1)
			assert.Equal(t, "n2", children[0].ID())
		})
	}
}

func TestEnvelope_Serializers(t *testing.T) {
	_, err := NewEnvelope(pbj.New(testPublishArticle), SerializerPHP).ToString()
	assert.ErrorIs(t, err, ErrUnsupportedSerializer)

	_, err = NewSerializer("msgpack")
	assert.ErrorAs(t, err, new(ErrUnknownSerializer))

	_, err = EnvelopeFromString(`{"serializer":"php","is_replay":false,"message":"a:0:{}"}`)
	assert.ErrorIs(t, err, ErrUnsupportedSerializer)

	_, err = EnvelopeFromString("not json")
	assert.Error(t, err)

	env, err := EnvelopeFromString(`{"message":"{\"_schema\":\"pbj:acme:blog:command:publish-article:1-0-0\",\"title\":\"x\"}"}`)
	require.NoError(t, err)
	assert.Equal(t, SerializerJSON, env.Serializer)
	assert.False(t, env.Message.IsReplay())
	assert.Equal(t, "x", env.Message.GetString("title"))
}
