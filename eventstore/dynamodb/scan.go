package dynamodb

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"google.golang.org/grpc/codes"

	"github.com/trickstertwo/pbjx/eventstore"
	"github.com/trickstertwo/pbjx/pbj"
	"github.com/trickstertwo/xlog"
)

type scanTask struct {
	segment  int
	startKey map[string]types.AttributeValue
}

type scanPage struct {
	task  scanTask
	items []map[string]types.AttributeValue
	next  map[string]types.AttributeValue
	err   error
}

// PipeAllEvents scans the table as TotalSegments parallel segments with at
// most Concurrency requests in flight. Each round issues one Scan per
// segment that still has data and yields pages as they complete; the
// continuation keys of a round make up the next one. A stream lives in a
// single segment, so its events come out in order.
func (s *Store) PipeAllEvents(ctx context.Context, since, until pbj.Microtime) iter.Seq2[*pbj.Message, error] {
	return func(yield func(*pbj.Message, error) bool) {
		table := s.table(ctx)
		base, err := scanInput(table, since, until)
		if err != nil {
			yield(nil, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		total := s.cfg.segments()
		pending := make([]scanTask, total)
		for i := range pending {
			pending[i] = scanTask{segment: i}
		}
		for round := 1; len(pending) > 0; round++ {
			next, ok := s.scanRound(ctx, cancel, base, total, pending, yield)
			if !ok {
				return
			}
			s.logger.With(
				xlog.Str("table", table),
				xlog.Str("round", fmt.Sprint(round)),
				xlog.Str("continuations", fmt.Sprint(len(next))),
			).Debug().Msg("eventstore/dynamodb: scan round done")
			pending = next
		}
	}
}

// scanRound runs tasks through the worker pool and drains their pages. It
// returns the continuations, or false when the pipe has to stop. Workers
// have exited by the time it returns.
func (s *Store) scanRound(
	ctx context.Context,
	cancel context.CancelFunc,
	base *ddb.ScanInput,
	total int,
	tasks []scanTask,
	yield func(*pbj.Message, error) bool,
) ([]scanTask, bool) {
	taskCh := make(chan scanTask)
	// room for every page of the round, so workers never block on send
	pageCh := make(chan scanPage, len(tasks))

	var wg sync.WaitGroup
	for range min(s.cfg.concurrency(), len(tasks)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				pageCh <- s.scanSegment(ctx, base, total, t)
			}
		}()
	}
	go func() {
		defer close(taskCh)
		for _, t := range tasks {
			select {
			case taskCh <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(pageCh)
	}()

	stop := func() ([]scanTask, bool) {
		cancel()
		for range pageCh {
		}
		return nil, false
	}

	var next []scanTask
	for page := range pageCh {
		if page.err != nil {
			if s.cfg.SkipErrors && ctx.Err() == nil {
				s.logger.With(
					xlog.Str("table", aws.ToString(base.TableName)),
					xlog.Str("segment", fmt.Sprint(page.task.segment)),
				).Warn().Err(page.err).Msg("eventstore/dynamodb: skipping failed scan segment")
				continue
			}
			yield(nil, page.err)
			return stop()
		}
		for _, item := range page.items {
			e := s.decode(aws.ToString(base.TableName), item)
			if e == nil {
				continue
			}
			if !yield(e, nil) {
				return stop()
			}
		}
		if len(page.next) > 0 {
			next = append(next, scanTask{segment: page.task.segment, startKey: page.next})
		}
	}
	if err := ctx.Err(); err != nil {
		yield(nil, err)
		return nil, false
	}
	return next, true
}

func (s *Store) scanSegment(ctx context.Context, base *ddb.ScanInput, total int, t scanTask) scanPage {
	in := *base
	in.Segment = aws.Int32(int32(t.segment))
	in.TotalSegments = aws.Int32(int32(total))
	in.ExclusiveStartKey = t.startKey

	out, err := s.client.Scan(ctx, &in)
	if err != nil {
		return scanPage{task: t, err: mapError(fmt.Sprintf("scan segment %d of %d", t.segment, total), err, false)}
	}
	return scanPage{task: t, items: out.Items, next: out.LastEvaluatedKey}
}

// scanInput filters on occurred_at when either bound is set.
func scanInput(table string, since, until pbj.Microtime) (*ddb.ScanInput, error) {
	in := &ddb.ScanInput{TableName: aws.String(table)}

	var conds []expression.ConditionBuilder
	if !since.IsZero() {
		conds = append(conds, expression.Name(attrOccurredAt).GreaterThan(expression.Value(int64(since))))
	}
	if !until.IsZero() {
		conds = append(conds, expression.Name(attrOccurredAt).LessThan(expression.Value(int64(until))))
	}
	if len(conds) == 0 {
		return in, nil
	}
	filter := conds[0]
	if len(conds) == 2 {
		filter = filter.And(conds[1])
	}
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, eventstore.NewError(codes.Internal, "build scan filter", err)
	}
	in.FilterExpression = expr.Filter()
	in.ExpressionAttributeNames = expr.Names()
	in.ExpressionAttributeValues = expr.Values()
	return in, nil
}
