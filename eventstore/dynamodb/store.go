// Package dynamodb stores event streams in an Amazon DynamoDB table.
//
// Each event is one item keyed by __stream_id (hash) and occurred_at
// (range). A keys-only global secondary index on event_id serves point
// lookups. Writes are TransactWriteItems calls, so a batch lands whole or
// not at all.
package dynamodb

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"google.golang.org/grpc/codes"

	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/pbj"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

const (
	// DynamoDB limits
	batchGetSize       = 100
	maxTransactItems   = 100
	maxBatchGetRetries = 5
)

// Store is an EventStore on DynamoDB.
type Store struct {
	cfg    Config
	client Client
	clock  xclock.Clock
	logger *xlog.Logger
}

var _ eventstore.EventStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used for the "now" cursor of backward slices.
func WithClock(c xclock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New loads the AWS config and returns a store backed by a new client.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(cfg, client, opts...), nil
}

// NewWithClient returns a store using client.
func NewWithClient(cfg Config, client Client, opts ...Option) *Store {
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = Defaults().CreateTimeout
	}
	s := &Store{cfg: cfg, client: client}
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

// table returns the table for this call, honoring Hints.TableName.
func (s *Store) table(ctx context.Context) string {
	if t := eventstore.HintsFromContext(ctx).TableName; t != "" {
		return t
	}
	return s.cfg.TableName
}

// CreateStorage creates the table and its event_id index, then waits until
// the table is ACTIVE. An existing table is left alone.
func (s *Store) CreateStorage(ctx context.Context) error {
	table := s.table(ctx)
	log := s.logger.With(xlog.Str("table", table))

	in := &ddb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrStreamID), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrOccurredAt), AttributeType: types.ScalarAttributeTypeN},
			{AttributeName: aws.String(attrEventID), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrStreamID), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrOccurredAt), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(eventIDIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrEventID), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
		}},
		BillingMode: types.BillingModePayPerRequest,
	}
	if s.cfg.ReadCapacity > 0 {
		throughput := &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(s.cfg.ReadCapacity),
			WriteCapacityUnits: aws.Int64(s.cfg.WriteCapacity),
		}
		in.BillingMode = types.BillingModeProvisioned
		in.ProvisionedThroughput = throughput
		in.GlobalSecondaryIndexes[0].ProvisionedThroughput = throughput
	}

	if _, err := s.client.CreateTable(ctx, in); err != nil {
		if isResourceInUse(err) {
			log.Info().Msg("eventstore/dynamodb: table already exists")
			return nil
		}
		return mapError("create table "+table, err, true)
	}

	waiter := ddb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &ddb.DescribeTableInput{TableName: aws.String(table)}, s.cfg.CreateTimeout); err != nil {
		return mapError("wait for table "+table, err, false)
	}
	log.Info().Msg("eventstore/dynamodb: table created")
	return nil
}

// DescribeStorage returns the table's status, size and indexes.
func (s *Store) DescribeStorage(ctx context.Context) (string, error) {
	table := s.table(ctx)
	out, err := s.client.DescribeTable(ctx, &ddb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return "", mapError("describe table "+table, err, false)
	}

	t := out.Table
	var b strings.Builder
	fmt.Fprintf(&b, "DynamoDB table %s\n", aws.ToString(t.TableName))
	fmt.Fprintf(&b, "  arn:        %s\n", aws.ToString(t.TableArn))
	fmt.Fprintf(&b, "  status:     %s\n", t.TableStatus)
	fmt.Fprintf(&b, "  items:      %d\n", aws.ToInt64(t.ItemCount))
	fmt.Fprintf(&b, "  size_bytes: %d\n", aws.ToInt64(t.TableSizeBytes))
	if t.CreationDateTime != nil {
		fmt.Fprintf(&b, "  created:    %s\n", t.CreationDateTime.UTC().Format("2006-01-02T15:04:05Z"))
	}
	for _, gsi := range t.GlobalSecondaryIndexes {
		fmt.Fprintf(&b, "  index:      %s (%s)\n", aws.ToString(gsi.IndexName), gsi.IndexStatus)
	}
	return b.String(), nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*pbj.Message, error) {
	events, err := s.GetEvents(ctx, []string{eventID})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, notFound(eventID)
	}
	return events[0], nil
}

// GetEvents resolves each id through the event_id index, then loads the
// items with BatchGetItem, 100 keys per call. The result follows the order
// of eventIDs.
func (s *Store) GetEvents(ctx context.Context, eventIDs []string) ([]*pbj.Message, error) {
	table := s.table(ctx)
	keys := make([]map[string]types.AttributeValue, 0, len(eventIDs))
	for _, id := range eventIDs {
		key, err := s.lookupKey(ctx, table, id)
		if err != nil {
			return nil, err
		}
		if key != nil {
			keys = append(keys, key)
		}
	}

	byID := make(map[string]*pbj.Message, len(keys))
	for chunk := range slices.Chunk(keys, batchGetSize) {
		items, err := s.batchGet(ctx, table, chunk)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if e := s.decode(table, item); e != nil {
				byID[e.ID()] = e
			}
		}
	}

	out := make([]*pbj.Message, 0, len(byID))
	for _, id := range eventIDs {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// lookupKey returns the primary key of eventID, or nil when it is unknown.
func (s *Store) lookupKey(ctx context.Context, table, eventID string) (map[string]types.AttributeValue, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(attrEventID).Equal(expression.Value(eventID))).
		Build()
	if err != nil {
		return nil, eventstore.NewError(codes.Internal, "build event_id query", err)
	}
	out, err := s.client.Query(ctx, &ddb.QueryInput{
		TableName:                 aws.String(table),
		IndexName:                 aws.String(eventIDIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, mapError("query "+eventIDIndex, err, false)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return itemKey(out.Items[0]), nil
}

func (s *Store) batchGet(ctx context.Context, table string, keys []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	request := map[string]types.KeysAndAttributes{table: {Keys: keys}}
	for attempt := 0; len(request) > 0; attempt++ {
		if attempt == maxBatchGetRetries {
			return nil, eventstore.NewError(codes.ResourceExhausted,
				fmt.Sprintf("batch get on %s left unprocessed keys after %d attempts", table, attempt), nil)
		}
		out, err := s.client.BatchGetItem(ctx, &ddb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return nil, mapError("batch get "+table, err, false)
		}
		items = append(items, out.Responses[table]...)
		request = out.UnprocessedKeys
	}
	return items, nil
}

// DeleteEvent removes the item of eventID. Unknown ids are ignored.
func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	table := s.table(ctx)
	key, err := s.lookupKey(ctx, table, eventID)
	if err != nil || key == nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &ddb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       key,
	})
	return mapError("delete event "+eventID, err, true)
}

// GetStreamSlice queries one page past opts.Since. One extra item is
// requested to tell whether more remain.
func (s *Store) GetStreamSlice(ctx context.Context, id eventstore.StreamID, opts eventstore.SliceOptions) (*eventstore.StreamSlice, error) {
	table := s.table(ctx)
	count := eventstore.ClampCount(opts.Count)
	since := opts.Since
	if since.IsZero() && !opts.Forward {
		since = pbj.NewMicrotime(s.clock.Now())
	}

	keyCond := expression.Key(attrStreamID).Equal(expression.Value(id.String()))
	if opts.Forward {
		keyCond = keyCond.And(expression.Key(attrOccurredAt).GreaterThan(expression.Value(int64(since))))
	} else {
		keyCond = keyCond.And(expression.Key(attrOccurredAt).LessThan(expression.Value(int64(since))))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, eventstore.NewError(codes.Internal, "build slice query", err)
	}

	out, err := s.client.Query(ctx, &ddb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(opts.Forward),
		ConsistentRead:            aws.Bool(opts.Consistent),
		Limit:                     aws.Int32(int32(count + 1)),
	})
	if err != nil {
		return nil, mapError("query stream "+id.String(), err, false)
	}

	items := out.Items
	hasMore := len(items) > count || len(out.LastEvaluatedKey) > 0
	if len(items) > count {
		items = items[:count]
	}
	events := make([]*pbj.Message, 0, len(items))
	for _, item := range items {
		if e := s.decode(table, item); e != nil {
			events = append(events, e)
		}
	}
	return eventstore.NewStreamSlice(id, events, opts.Forward, opts.Consistent, hasMore), nil
}

// PutEvents writes up to 100 events in one transaction. Each put is
// conditional on the key being new, so an occurred_at collision cancels the
// whole batch.
func (s *Store) PutEvents(ctx context.Context, id eventstore.StreamID, events []*pbj.Message, expectedEtag string) error {
	if len(events) == 0 {
		return nil
	}
	if len(events) > maxTransactItems {
		return eventstore.NewError(codes.InvalidArgument,
			fmt.Sprintf("at most %d events can be written at once, got %d", maxTransactItems, len(events)), nil)
	}
	if err := eventstore.ValidateEvents(events); err != nil {
		return err
	}

	table := s.table(ctx)
	if expectedEtag != "" {
		head, err := s.headEventID(ctx, table, id)
		if err != nil {
			return err
		}
		if err := eventstore.CheckEtag(id, head, expectedEtag); err != nil {
			return err
		}
	}

	cond, err := expression.NewBuilder().
		WithCondition(expression.Name(attrOccurredAt).AttributeNotExists()).
		Build()
	if err != nil {
		return eventstore.NewError(codes.Internal, "build put condition", err)
	}

	writes := make([]types.TransactWriteItem, 0, len(events))
	for _, e := range events {
		item, err := marshalEvent(id, e)
		if err != nil {
			return eventstore.NewError(codes.InvalidArgument, "marshal event", err)
		}
		writes = append(writes, types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(table),
			Item:                     item,
			ConditionExpression:      cond.Condition(),
			ExpressionAttributeNames: cond.Names(),
		}})
	}

	if _, err := s.client.TransactWriteItems(ctx, &ddb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		return mapError("put events on "+id.String(), err, true)
	}
	for _, e := range events {
		e.Freeze()
	}
	return nil
}

// headEventID returns the event_id of the newest event of id with a
// consistent read, or "" for an empty stream.
func (s *Store) headEventID(ctx context.Context, table string, id eventstore.StreamID) (string, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(attrStreamID).Equal(expression.Value(id.String()))).
		WithProjection(expression.NamesList(expression.Name(attrEventID))).
		Build()
	if err != nil {
		return "", eventstore.NewError(codes.Internal, "build head query", err)
	}
	out, err := s.client.Query(ctx, &ddb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		ConsistentRead:            aws.Bool(true),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return "", mapError("query head of "+id.String(), err, false)
	}
	if len(out.Items) == 0 {
		return "", nil
	}
	return stringAttr(out.Items[0], attrEventID), nil
}

func (s *Store) PipeEvents(ctx context.Context, id eventstore.StreamID, since, until pbj.Microtime) iter.Seq2[*pbj.Message, error] {
	return eventstore.PipeStream(ctx, s.GetStreamSlice, id, since, until)
}

// decode logs and skips items that do not decode.
func (s *Store) decode(table string, item map[string]types.AttributeValue) *pbj.Message {
	e, err := unmarshalEvent(item)
	if err != nil {
		s.logger.With(
			xlog.Str("table", table),
			xlog.Str("stream_id", stringAttr(item, attrStreamID)),
			xlog.Str("event_id", stringAttr(item, attrEventID)),
		).Error().Err(err).Msg("eventstore/dynamodb: skipping item that failed to decode")
		return nil
	}
	return e
}
