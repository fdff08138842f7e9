// table-bench measures read throughput and latency against an existing
// table. Keys come from a key file written by table-scan, or from a fresh
// scan when no file is given.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ddb-loadgen/internal/bench"
	"ddb-loadgen/internal/harness"
	"ddb-loadgen/internal/keyset"
	"ddb-loadgen/internal/logging"
	"ddb-loadgen/internal/store"
)

var (
	tableName  = flag.String("table", "map_tiles", "Table to benchmark")
	op         = flag.String("op", "batchget", "Operation: 'batchget', 'query' or 'get'")
	threads    = flag.Int("threads", 16, "Number of concurrent worker threads")
	duration   = flag.Duration("duration", 60*time.Second, "Measured benchmark window")
	warmup     = flag.Duration("warmup", 10*time.Second, "Warmup period (metrics discarded)")
	keysFile   = flag.String("keys-file", "", "Key file written by table-scan ('' scans the table instead)")
	maxKeys    = flag.Int("max-keys", 100_000, "Cap on keys collected by the pre-scan")
	batchSize  = flag.Int("batch-size", 25, "Keys per BatchGetItem call (max 100)")
	queryLimit = flag.Int("query-limit", 100, "Page size for the query operation")
	debug      = flag.Bool("debug", false, "Enable debug logging")

	storeOpts = store.BindFlags(flag.CommandLine)
)

func main() {
	flag.Parse()

	logger := logging.New(*debug)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("signal received, stopping", zap.String("signal", sig.String()))
		cancel()
	}()

	storeOpts.PoolHint = *threads
	client, err := store.NewClient(ctx, storeOpts, logger)
	if err != nil {
		logger.Fatal("failed to create client", zap.Error(err))
	}

	attrs, err := store.DescribeKeyAttrs(ctx, client, *tableName)
	if err != nil {
		logger.Fatal("failed to read table schema", zap.Error(err))
	}

	var keys []harness.Record
	if *keysFile != "" {
		keys, err = keyset.Load(*keysFile)
		if err != nil {
			logger.Fatal("failed to load key file", zap.Error(err))
		}
		logger.Info("loaded key file", zap.String("path", *keysFile), zap.Int("keys", len(keys)))
	} else {
		keys, err = keyset.Collect(ctx, client, *tableName, attrs, *maxKeys, logger)
		if err != nil {
			logger.Fatal("failed to scan keys", zap.Error(err))
		}
	}
	if len(keys) == 0 {
		logger.Fatal("no keys found, nothing to benchmark", zap.String("table", *tableName))
	}

	runner := &bench.Runner{
		Client:     client,
		Table:      *tableName,
		Keys:       keys,
		Op:         *op,
		Threads:    *threads,
		Duration:   *duration,
		Warmup:     *warmup,
		BatchSize:  *batchSize,
		QueryLimit: int32(*queryLimit),
		Partition:  attrs.PartitionKey,
		Counters:   &harness.Counters{},
		Metrics:    bench.NewMetrics(),
		Logger:     logger,
	}

	if err := runner.Run(ctx); err != nil && !store.IsShutdown(err) {
		logger.Fatal("benchmark failed", zap.Error(err))
	}

	runner.PrintSummary()
}
