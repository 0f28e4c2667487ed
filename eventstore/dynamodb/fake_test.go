package dynamodb

import (
	"cmp"
	"context"
	"hash/fnv"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeClient is a single-table DynamoDB good enough for the store: it
// evaluates the simple comparisons the expression builder emits, pages
// scans and enforces attribute_not_exists on transactional puts.
type fakeClient struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	createInput *ddb.CreateTableInput
	createErr   error

	scanPageSize int
	scanErr      map[int]error
	scanDelay    time.Duration
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32

	// unprocessed makes the next BatchGetItem return its keys unprocessed.
	unprocessed int

	tables   []string
	queries  []*ddb.QueryInput
	writes   int
	batchGet int
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: map[string]map[string]types.AttributeValue{}, scanPageSize: 3}
}

var condRe = regexp.MustCompile(`(#\w+)\s*(=|<|>)\s*(:\w+)`)

type cond struct {
	name  string
	op    string
	value types.AttributeValue
}

func parseConds(expr *string, names map[string]string, values map[string]types.AttributeValue) []cond {
	var out []cond
	for _, m := range condRe.FindAllStringSubmatch(aws.ToString(expr), -1) {
		out = append(out, cond{name: names[m[1]], op: m[2], value: values[m[3]]})
	}
	return out
}

func compareAV(a, b types.AttributeValue) int {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		return cmp.Compare(av.Value, b.(*types.AttributeValueMemberS).Value)
	case *types.AttributeValueMemberN:
		x, _ := strconv.ParseInt(av.Value, 10, 64)
		y, _ := strconv.ParseInt(b.(*types.AttributeValueMemberN).Value, 10, 64)
		return cmp.Compare(x, y)
	}
	return -2
}

func matches(item map[string]types.AttributeValue, conds []cond) bool {
	for _, c := range conds {
		v, ok := item[c.name]
		if !ok {
			return false
		}
		r := compareAV(v, c.value)
		switch c.op {
		case "=":
			if r != 0 {
				return false
			}
		case ">":
			if r != 1 {
				return false
			}
		case "<":
			if r != -1 {
				return false
			}
		}
	}
	return true
}

func keyOf(item map[string]types.AttributeValue) string {
	return stringAttr(item, attrStreamID) + "|" + item[attrOccurredAt].(*types.AttributeValueMemberN).Value
}

func occurredAtOf(item map[string]types.AttributeValue) int64 {
	n, _ := strconv.ParseInt(item[attrOccurredAt].(*types.AttributeValueMemberN).Value, 10, 64)
	return n
}

// sorted returns the items by stream then occurred_at. Callers hold mu.
func (f *fakeClient) sorted(filter func(map[string]types.AttributeValue) bool) []map[string]types.AttributeValue {
	var out []map[string]types.AttributeValue
	for _, it := range f.items {
		if filter(it) {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b map[string]types.AttributeValue) int {
		if c := cmp.Compare(stringAttr(a, attrStreamID), stringAttr(b, attrStreamID)); c != 0 {
			return c
		}
		return cmp.Compare(occurredAtOf(a), occurredAtOf(b))
	})
	return out
}

func (f *fakeClient) put(item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[keyOf(item)] = item
}

func (f *fakeClient) CreateTable(_ context.Context, in *ddb.CreateTableInput, _ ...func(*ddb.Options)) (*ddb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createInput = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &ddb.CreateTableOutput{}, nil
}

func (f *fakeClient) DescribeTable(_ context.Context, in *ddb.DescribeTableInput, _ ...func(*ddb.Options)) (*ddb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ddb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableArn:    aws.String("arn:aws:dynamodb:us-east-1:000000000000:table/" + aws.ToString(in.TableName)),
		TableStatus: types.TableStatusActive,
		ItemCount:   aws.Int64(int64(len(f.items))),
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndexDescription{
			{IndexName: aws.String(eventIDIndex), IndexStatus: types.IndexStatusActive},
		},
	}}, nil
}

func (f *fakeClient) BatchGetItem(_ context.Context, in *ddb.BatchGetItemInput, _ ...func(*ddb.Options)) (*ddb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchGet++
	out := &ddb.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for table, ka := range in.RequestItems {
		f.tables = append(f.tables, table)
		if f.unprocessed > 0 {
			f.unprocessed--
			out.UnprocessedKeys = map[string]types.KeysAndAttributes{table: ka}
			continue
		}
		for _, k := range ka.Keys {
			if it, ok := f.items[keyOf(k)]; ok {
				out.Responses[table] = append(out.Responses[table], it)
			}
		}
	}
	return out, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, in *ddb.DeleteItemInput, _ ...func(*ddb.Options)) (*ddb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append(f.tables, aws.ToString(in.TableName))
	delete(f.items, keyOf(in.Key))
	return &ddb.DeleteItemOutput{}, nil
}

func (f *fakeClient) Query(_ context.Context, in *ddb.QueryInput, _ ...func(*ddb.Options)) (*ddb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append(f.tables, aws.ToString(in.TableName))
	f.queries = append(f.queries, in)

	conds := parseConds(in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	found := f.sorted(func(it map[string]types.AttributeValue) bool { return matches(it, conds) })

	if aws.ToString(in.IndexName) == eventIDIndex {
		keys := make([]map[string]types.AttributeValue, 0, len(found))
		for _, it := range found {
			keys = append(keys, map[string]types.AttributeValue{
				attrStreamID:   it[attrStreamID],
				attrOccurredAt: it[attrOccurredAt],
				attrEventID:    it[attrEventID],
			})
		}
		return &ddb.QueryOutput{Items: keys}, nil
	}

	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		slices.Reverse(found)
	}
	out := &ddb.QueryOutput{Items: found}
	if limit := int(aws.ToInt32(in.Limit)); limit > 0 && len(found) > limit {
		out.Items = found[:limit]
		out.LastEvaluatedKey = itemKey(found[limit-1])
	}
	return out, nil
}

func segmentOf(stream string, total int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(stream))
	return int(h.Sum32() % uint32(total))
}

func (f *fakeClient) Scan(ctx context.Context, in *ddb.ScanInput, _ ...func(*ddb.Options)) (*ddb.ScanOutput, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.scanDelay > 0 {
		select {
		case <-time.After(f.scanDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	segment, total := int(aws.ToInt32(in.Segment)), int(aws.ToInt32(in.TotalSegments))
	if err := f.scanErr[segment]; err != nil {
		return nil, err
	}

	all := f.sorted(func(it map[string]types.AttributeValue) bool {
		return segmentOf(stringAttr(it, attrStreamID), total) == segment
	})
	start := 0
	if in.ExclusiveStartKey != nil {
		after := keyOf(in.ExclusiveStartKey)
		start = slices.IndexFunc(all, func(it map[string]types.AttributeValue) bool { return keyOf(it) == after }) + 1
	}
	end := min(start+f.scanPageSize, len(all))
	page := all[start:end]

	filter := parseConds(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	out := &ddb.ScanOutput{}
	for _, it := range page {
		if matches(it, filter) {
			out.Items = append(out.Items, it)
		}
	}
	if end < len(all) {
		out.LastEvaluatedKey = itemKey(page[len(page)-1])
	}
	return out, nil
}

func (f *fakeClient) TransactWriteItems(_ context.Context, in *ddb.TransactWriteItemsInput, _ ...func(*ddb.Options)) (*ddb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, w := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		f.tables = append(f.tables, aws.ToString(w.Put.TableName))
		if _, exists := f.items[keyOf(w.Put.Item)]; exists {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range in.TransactItems {
		f.items[keyOf(w.Put.Item)] = w.Put.Item
	}
	return &ddb.TransactWriteItemsOutput{}, nil
}
