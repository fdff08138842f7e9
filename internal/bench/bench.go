package bench

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"ddb-loadgen/internal/harness"
	"ddb-loadgen/internal/store"
)

// ReadAPI is the slice of the DynamoDB client the benchmark operations use.
type ReadAPI interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Runner fires one operation type at the table from a fixed set of threads
// for a fixed duration, drawing targets from the collected key set.
type Runner struct {
	Client     ReadAPI
	Table      string
	Keys       []harness.Record
	Op         string // "batchget", "query" or "get"
	Threads    int
	Duration   time.Duration
	Warmup     time.Duration // measured window starts after the warmup resets the trackers
	BatchSize  int           // keys per BatchGetItem call, capped at 100
	QueryLimit int32         // page size for the query operation
	Partition  string        // partition key attribute, used by the query operation
	Retry      harness.RetryPolicy
	Counters   *harness.Counters
	Metrics    *Metrics
	Logger     *zap.Logger

	op          int
	warmupDone  int32
	measured    time.Duration
	measureFrom time.Time
}

func (r *Runner) validate() error {
	if len(r.Keys) == 0 {
		return fmt.Errorf("no keys to benchmark against")
	}
	if r.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", r.Threads)
	}
	if r.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", r.Duration)
	}
	if r.BatchSize < 1 {
		r.BatchSize = 25
	}
	if r.BatchSize > 100 {
		r.BatchSize = 100 // BatchGetItem limit
	}
	if r.QueryLimit < 1 {
		r.QueryLimit = 100
	}

	switch r.Op {
	case "batchget":
		r.op = OpBatchGet
	case "query":
		r.op = OpQuery
		if r.Partition == "" {
			return fmt.Errorf("query operation needs the partition key attribute")
		}
	case "get":
		r.op = OpGet
	default:
		return fmt.Errorf("op must be 'batchget', 'query' or 'get', got %q", r.Op)
	}
	return nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// Run drives the benchmark to completion or cancellation. The measured
// window excludes the warmup.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.validate(); err != nil {
		return err
	}
	if r.Metrics == nil {
		r.Metrics = NewMetrics()
	}
	if r.Counters == nil {
		r.Counters = &harness.Counters{}
	}

	logger := r.logger()
	logger.Info("starting benchmark",
		zap.String("op", r.Op),
		zap.Int("threads", r.Threads),
		zap.Int("keys", len(r.Keys)),
		zap.Duration("duration", r.Duration),
		zap.Duration("warmup", r.Warmup))

	stopChan := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < r.Threads; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.runWorker(ctx, workerID, stopChan)
		}(i)
	}

	go r.report(stopChan)

	if r.Warmup > 0 {
		select {
		case <-time.After(r.Warmup):
			r.Metrics.Reset()
			atomic.StoreInt32(&r.warmupDone, 1)
			logger.Info("warmup complete, measuring")
		case <-ctx.Done():
			close(stopChan)
			wg.Wait()
			return ctx.Err()
		}
	} else {
		atomic.StoreInt32(&r.warmupDone, 1)
	}
	r.measureFrom = time.Now()

	select {
	case <-time.After(r.Duration):
		logger.Info("benchmark duration completed")
	case <-ctx.Done():
		logger.Info("benchmark interrupted")
	}

	r.measured = time.Since(r.measureFrom)
	close(stopChan)
	wg.Wait()
	return nil
}

func (r *Runner) runWorker(ctx context.Context, workerID int, stopChan <-chan struct{}) {
	// Per-worker random source, same reasoning as the load pool: no global
	// rand mutex on the hot path.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		switch r.op {
		case OpBatchGet:
			r.performBatchGet(ctx, rng)
		case OpQuery:
			r.performQuery(ctx, rng)
		case OpGet:
			r.performGet(ctx, rng)
		}
	}
}

// sampleKeys draws up to r.BatchSize distinct keys.
func (r *Runner) sampleKeys(rng *rand.Rand) []harness.Record {
	n := r.BatchSize
	if n >= len(r.Keys) {
		out := make([]harness.Record, len(r.Keys))
		copy(out, r.Keys)
		return out
	}

	used := make(map[int]struct{}, n)
	out := make([]harness.Record, 0, n)
	for len(out) < n {
		idx := rng.Intn(len(r.Keys))
		if _, dup := used[idx]; dup {
			continue
		}
		used[idx] = struct{}{}
		out = append(out, r.Keys[idx])
	}
	return out
}

func (r *Runner) performBatchGet(ctx context.Context, rng *rand.Rand) {
	keys := r.sampleKeys(rng)
	sub := &harness.GetSubmitter{Client: r.Client, Table: r.Table}

	start := time.Now()
	ok, err := harness.SubmitWithRetry(ctx, sub, keys, r.Retry, r.Counters, rng)
	latencyUs := time.Since(start).Microseconds()

	switch {
	case err != nil && store.IsShutdown(err):
	case err != nil || !ok:
		r.Metrics.RecordError(OpBatchGet)
	default:
		r.Metrics.Record(OpBatchGet, latencyUs)
	}
}

func (r *Runner) performQuery(ctx context.Context, rng *rand.Rand) {
	key := r.Keys[rng.Intn(len(r.Keys))]
	partValue, ok := key[r.Partition]
	if !ok {
		r.Metrics.RecordError(OpQuery)
		return
	}

	keyCond := expression.Key(r.Partition).Equal(expression.Value(attrAny(partValue)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		r.Metrics.RecordError(OpQuery)
		return
	}

	start := time.Now()
	_, err = r.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(r.QueryLimit),
	})
	latencyUs := time.Since(start).Microseconds()

	switch {
	case err != nil && store.IsShutdown(err):
	case err != nil:
		r.Metrics.RecordError(OpQuery)
	default:
		r.Metrics.Record(OpQuery, latencyUs)
	}
}

func (r *Runner) performGet(ctx context.Context, rng *rand.Rand) {
	key := r.Keys[rng.Intn(len(r.Keys))]

	start := time.Now()
	_, err := r.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.Table),
		Key:       key,
	})
	latencyUs := time.Since(start).Microseconds()

	switch {
	case err != nil && store.IsShutdown(err):
	case err != nil:
		r.Metrics.RecordError(OpGet)
	default:
		r.Metrics.Record(OpGet, latencyUs)
	}
}

// attrAny unwraps an attribute value into the native type the expression
// builder expects.
func attrAny(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		if i, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			return f
		}
		return v.Value
	case *types.AttributeValueMemberB:
		return v.Value
	default:
		return av
	}
}
