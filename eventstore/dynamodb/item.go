package dynamodb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/trickstertwo/pbjx"
	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/pbj"
)

// Table layout. Attributes with a "__" prefix belong to the store, the rest
// are the event's own fields.
const (
	attrStreamID   = "__stream_id"
	attrIndexed    = "__indexed"
	attrOccurredAt = pbjx.FieldOccurredAt
	attrEventID    = pbjx.FieldEventID
	eventIDIndex   = "event_id_index"
	reservedPrefix = "__"
)

var errNotAnItem = errors.New("item has no event")

// marshalEvent converts event into an item of stream id. occurred_at is
// written as a number so it can serve as the range key.
func marshalEvent(id eventstore.StreamID, event *pbj.Message) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(event.ToMap())
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.ID(), err)
	}
	item[attrStreamID] = &types.AttributeValueMemberS{Value: id.String()}
	item[attrOccurredAt] = &types.AttributeValueMemberN{Value: eventstore.OccurredAt(event).String()}
	item[attrIndexed] = &types.AttributeValueMemberBOOL{Value: event.Schema().HasMixin(pbjx.MixinIndexed)}
	return item, nil
}

// unmarshalEvent rebuilds a frozen event from an item.
func unmarshalEvent(item map[string]types.AttributeValue) (*pbj.Message, error) {
	if _, ok := item[pbj.SchemaKey]; !ok {
		return nil, errNotAnItem
	}
	var data map[string]any
	dec := attributevalue.NewDecoder(func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err := dec.Decode(&types.AttributeValueMemberM{Value: item}, &data); err != nil {
		return nil, err
	}
	for k := range data {
		if strings.HasPrefix(k, reservedPrefix) {
			delete(data, k)
		}
	}
	m, err := pbj.FromMap(data)
	if err != nil {
		return nil, err
	}
	return m.Freeze(), nil
}

// itemKey extracts the primary key of an item, or of a keys-only index entry.
func itemKey(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrStreamID:   item[attrStreamID],
		attrOccurredAt: item[attrOccurredAt],
	}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
