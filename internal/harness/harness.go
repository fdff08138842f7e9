// Package harness is the batch submission engine behind the load tools. A
// producer slices the input range into batches, a fixed pool of workers
// submits each batch with remainder-aware retries, and an atomic counter set
// keeps the books for the progress reporter.
package harness

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"ddb-loadgen/internal/store"
)

// Record is one marshaled DynamoDB item for writes, or a bare key map for
// reads and deletes.
type Record = map[string]types.AttributeValue

// Generator produces the records for one batch. Batch must be a pure
// function of offset and size: the same arguments always yield the same
// records, no matter which worker asks or when. Retried and resumed runs
// depend on that.
type Generator interface {
	Batch(offset, size int) []Record
}

// Submitter performs one storage call for a batch and returns the records
// the store did not take. An empty remainder means the whole slice was
// accepted. A non-nil error means the call itself failed; the retry loop
// decides whether the error class is worth another attempt.
type Submitter interface {
	Submit(ctx context.Context, records []Record) ([]Record, error)
}

// Config sizes a pool run.
type Config struct {
	TotalRecords int
	StartOffset  int
	BatchSize    int // records per batch, capped at 25 by the BatchWriteItem limit
	Workers      int
	QueueDepth   int // pending batches between producer and workers (0 = 2x Workers)
	Retry        RetryPolicy
}

// Validate rejects configurations the pool cannot run.
func (c *Config) Validate() error {
	if c.TotalRecords < 1 {
		return fmt.Errorf("total records must be at least 1, got %d", c.TotalRecords)
	}
	if c.StartOffset < 0 {
		return fmt.Errorf("start offset must be non-negative, got %d", c.StartOffset)
	}
	if c.BatchSize < 1 || c.BatchSize > 25 {
		return fmt.Errorf("batch size must be between 1 and 25, got %d", c.BatchSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("queue depth must be non-negative, got %d", c.QueueDepth)
	}
	return nil
}

func (c *Config) queueDepth() int {
	if c.QueueDepth > 0 {
		return c.QueueDepth
	}
	return c.Workers * 2
}

// job is one batch assignment handed from the producer to a worker.
type job struct {
	offset int
	size   int
}

// Pool runs a fixed set of workers against a bounded job queue.
type Pool struct {
	cfg      Config
	counters *Counters
	logger   *zap.Logger
}

// NewPool validates cfg and returns a pool that reports into counters.
func NewPool(cfg Config, counters *Counters, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if counters == nil {
		counters = &Counters{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{cfg: cfg, counters: counters, logger: logger}, nil
}

// Counters returns the counter set the pool reports into.
func (p *Pool) Counters() *Counters {
	return p.counters
}

// Run drives the full input range through gen and sub. The producer closes
// the queue once every batch is enqueued, which is the completion signal the
// workers drain on. A batch that exhausts its retries or hits a permanent
// error is counted failed and the run keeps going; Run only returns an error
// when the context is cancelled before the input range is finished.
func (p *Pool) Run(ctx context.Context, gen Generator, sub Submitter) error {
	jobs := make(chan job, p.cfg.queueDepth())

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.runWorker(ctx, workerID, jobs, gen, sub)
		}(i)
	}

	// Producer. Blocks when the queue is full, so generation never runs
	// further ahead than the queue depth allows.
	end := p.cfg.StartOffset + p.cfg.TotalRecords
produce:
	for offset := p.cfg.StartOffset; offset < end; offset += p.cfg.BatchSize {
		size := p.cfg.BatchSize
		if remaining := end - offset; remaining < size {
			size = remaining
		}
		select {
		case <-ctx.Done():
			break produce
		case jobs <- job{offset: offset, size: size}:
		}
	}
	close(jobs)

	wg.Wait()
	return ctx.Err()
}

func (p *Pool) runWorker(ctx context.Context, workerID int, jobs <-chan job, gen Generator, sub Submitter) {
	// Per-worker random source for retry jitter, avoiding the global rand mutex.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	p.logger.Debug("worker started", zap.Int("worker", workerID))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker stopping", zap.Int("worker", workerID))
			return
		case j, ok := <-jobs:
			if !ok {
				p.logger.Debug("worker drained", zap.Int("worker", workerID))
				return
			}
			records := gen.Batch(j.offset, j.size)
			ok, err := SubmitWithRetry(ctx, sub, records, p.cfg.Retry, p.counters, rng)
			switch {
			case err != nil && store.IsShutdown(err):
				p.logger.Debug("worker stopping mid-batch", zap.Int("worker", workerID), zap.Int("offset", j.offset))
				return
			case err != nil:
				p.logger.Warn("batch abandoned",
					zap.Int("offset", j.offset),
					zap.Int("size", j.size),
					zap.Error(err))
			case !ok:
				p.logger.Warn("batch gave up after retries",
					zap.Int("offset", j.offset),
					zap.Int("size", j.size))
			}
		}
	}
}
