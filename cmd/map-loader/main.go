// map-loader bulk-writes one of the synthetic map datasets with a fixed
// worker pool, reporting throughput as it goes and checkpointing its offset
// so an interrupted load can resume.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ddb-loadgen/internal/harness"
	"ddb-loadgen/internal/logging"
	"ddb-loadgen/internal/mapdata"
	"ddb-loadgen/internal/progress"
	"ddb-loadgen/internal/store"
)

var (
	count       = flag.Int("count", 100_000, "Number of records to write")
	batchSize   = flag.Int("batch-size", 25, "Records per BatchWriteItem (max 25)")
	workers     = flag.Int("workers", 8, "Number of concurrent workers")
	tableName   = flag.String("table", "map_tiles", "Table to load into")
	dataset     = flag.String("dataset", "tile", "Dataset to generate: 'tile' or 'elements'")
	startOffset = flag.Int("start-offset", 0, "First record index to generate")
	resume      = flag.Bool("resume", false, "Resume from the checkpoint file when present")
	checkpoint  = flag.String("checkpoint", "loadgen_progress.json", "Checkpoint file path ('' disables)")
	reportEvery = flag.Duration("report-every", 5*time.Second, "Progress report interval")
	createTable = flag.Bool("create-table", false, "Create the table if it does not exist")
	maxRetries  = flag.Int("max-retries", harness.DefaultMaxAttempts, "Submit attempts per batch")
	baseDelay   = flag.Duration("base-delay", harness.DefaultBaseDelay, "First retry pause")
	maxDelay    = flag.Duration("max-delay", harness.DefaultMaxDelay, "Retry pause ceiling")
	seed        = flag.Int64("seed", 42, "Seed for the elements dataset")
	versions    = flag.Int("versions-per-element", 3, "Rows per element in the elements dataset")
	debug       = flag.Bool("debug", false, "Enable debug logging")

	storeOpts = store.BindFlags(flag.CommandLine)
)

func main() {
	flag.Parse()

	logger := logging.New(*debug)
	defer func() { _ = logger.Sync() }()

	if *dataset != "tile" && *dataset != "elements" {
		logger.Fatal("dataset must be 'tile' or 'elements'", zap.String("dataset", *dataset))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("signal received, stopping", zap.String("signal", sig.String()))
		cancel()
	}()

	storeOpts.PoolHint = *workers
	client, err := store.NewClient(ctx, storeOpts, logger)
	if err != nil {
		logger.Fatal("failed to create client", zap.Error(err))
	}

	var (
		gen  harness.Generator
		spec = mapdata.TileTableSpec(*tableName)
	)
	switch *dataset {
	case "tile":
		gen = mapdata.NewTileGenerator(time.Now())
	case "elements":
		gen = mapdata.NewElementGenerator(*seed, *versions, time.Now())
		spec = mapdata.ElementTableSpec(*tableName)
	}

	if *createTable {
		if err := store.EnsureTable(ctx, client, spec, logger); err != nil {
			logger.Fatal("failed to create table", zap.Error(err))
		}
	}

	start := *startOffset
	ckpt := progress.Checkpoint{Path: *checkpoint}
	if *resume {
		if idx, ok := ckpt.Load(); ok {
			start = int(idx)
			logger.Info("resuming from checkpoint", zap.Int64("last_index", idx))
		} else {
			logger.Info("no usable checkpoint, starting fresh", zap.Int("start_offset", start))
		}
	}

	cfg := harness.Config{
		TotalRecords: *count,
		StartOffset:  start,
		BatchSize:    *batchSize,
		Workers:      *workers,
		Retry: harness.RetryPolicy{
			MaxAttempts: *maxRetries,
			BaseDelay:   *baseDelay,
			MaxDelay:    *maxDelay,
		},
	}

	counters := &harness.Counters{}
	pool, err := harness.NewPool(cfg, counters, logger)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	reporter := &progress.Reporter{
		Counters:    counters,
		Total:       int64(*count),
		StartOffset: int64(start),
		Interval:    *reportEvery,
		Checkpoint:  ckpt,
		Logger:      logger,
	}

	logger.Info("starting load",
		zap.String("dataset", *dataset),
		zap.String("table", *tableName),
		zap.Int("count", *count),
		zap.Int("start_offset", start),
		zap.Int("batch_size", *batchSize),
		zap.Int("workers", *workers))

	repCtx, repCancel := context.WithCancel(context.Background())
	var repWG sync.WaitGroup
	repWG.Add(1)
	go func() {
		defer repWG.Done()
		reporter.Run(repCtx)
	}()

	started := time.Now()
	runErr := pool.Run(ctx, gen, &harness.WriteSubmitter{Client: client, Table: *tableName})
	elapsed := time.Since(started)

	repCancel()
	repWG.Wait()

	snap := counters.Snapshot()
	printSummary(snap, elapsed, start)

	if runErr != nil {
		logger.Warn("load interrupted", zap.Error(runErr), zap.Int64("last_index", int64(start)+snap.Succeeded))
		return
	}
	if snap.Failed > 0 {
		logger.Warn("load finished with failures", zap.Int64("failed", snap.Failed))
		return
	}
	logger.Info("load complete")
}

func printSummary(snap harness.Snapshot, elapsed time.Duration, start int) {
	fmt.Println("\n========== LOAD RESULTS ==========")
	fmt.Printf("Dataset:            %s\n", *dataset)
	fmt.Printf("Table:              %s\n", *tableName)
	fmt.Printf("Workers:            %d\n", *workers)
	fmt.Printf("Start Offset:       %d\n", start)
	fmt.Printf("Succeeded:          %d\n", snap.Succeeded)
	fmt.Printf("Failed:             %d\n", snap.Failed)
	fmt.Printf("Store Calls:        %d\n", snap.Calls)
	fmt.Printf("Retries:            %d\n", snap.Retries)
	fmt.Printf("Elapsed:            %.1fs\n", elapsed.Seconds())
	if s := elapsed.Seconds(); s > 0 {
		fmt.Printf("Records/Second:     %.0f\n", float64(snap.Succeeded)/s)
	}
	fmt.Println("==================================")
}
