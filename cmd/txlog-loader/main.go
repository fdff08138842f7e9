// txlog-loader bulk-writes the synthetic transaction event log. Traffic is
// skewed toward a hot set of accounts, whose addresses are written to a file
// for txlog-query to target.
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
	"ddb-loadgen/internal/progress"
	"ddb-loadgen/internal/store"
	"ddb-loadgen/internal/txlog"
)

var (
	count        = flag.Int("count", 100_000, "Number of events to write")
	batchSize    = flag.Int("batch-size", 25, "Events per BatchWriteItem (max 25)")
	workers      = flag.Int("workers", 8, "Number of concurrent workers")
	tableName    = flag.String("table", "tx_events", "Table to load into")
	accounts     = flag.Int("accounts", 1000, "Size of the account pool")
	hotAccounts  = flag.Int("hot-accounts", 10, "Accounts in the hot set")
	hotShare     = flag.Float64("hot-share", 0.3, "Fraction of events routed to the hot set")
	accountsFile = flag.String("accounts-file", "large_accounts.txt", "File to write the hot account list to ('' disables)")
	seed         = flag.Int64("seed", 42, "Generator seed")
	baseBlock    = flag.Int64("base-block", 250_000_000, "First block number")
	startOffset  = flag.Int("start-offset", 0, "First event index to generate")
	resume       = flag.Bool("resume", false, "Resume from the checkpoint file when present")
	checkpoint   = flag.String("checkpoint", "txlog_progress.json", "Checkpoint file path ('' disables)")
	reportEvery  = flag.Duration("report-every", 5*time.Second, "Progress report interval")
	createTable  = flag.Bool("create-table", false, "Create the table if it does not exist")
	debug        = flag.Bool("debug", false, "Enable debug logging")

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

	storeOpts.PoolHint = *workers
	client, err := store.NewClient(ctx, storeOpts, logger)
	if err != nil {
		logger.Fatal("failed to create client", zap.Error(err))
	}

	if *createTable {
		if err := store.EnsureTable(ctx, client, txlog.TableSpec(*tableName), logger); err != nil {
			logger.Fatal("failed to create table", zap.Error(err))
		}
	}

	gen := txlog.NewGenerator(*seed, *accounts, *hotAccounts, *hotShare, *baseBlock, time.Now().Unix())
	if *accountsFile != "" {
		if err := gen.WriteHotAccounts(*accountsFile); err != nil {
			logger.Warn("failed to write hot account list", zap.Error(err))
		} else {
			logger.Info("hot account list written",
				zap.String("path", *accountsFile),
				zap.Int("accounts", *hotAccounts))
		}
	}

	start := *startOffset
	ckpt := progress.Checkpoint{Path: *checkpoint}
	if *resume {
		if idx, ok := ckpt.Load(); ok {
			start = int(idx)
			logger.Info("resuming from checkpoint", zap.Int64("last_index", idx))
		}
	}

	cfg := harness.Config{
		TotalRecords: *count,
		StartOffset:  start,
		BatchSize:    *batchSize,
		Workers:      *workers,
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
	repCtx, repCancel := context.WithCancel(context.Background())
	var repWG sync.WaitGroup
	repWG.Add(1)
	go func() {
		defer repWG.Done()
		reporter.Run(repCtx)
	}()

	logger.Info("starting load",
		zap.String("table", *tableName),
		zap.Int("count", *count),
		zap.Int("accounts", *accounts),
		zap.Int("hot_accounts", *hotAccounts),
		zap.Float64("hot_share", *hotShare))

	started := time.Now()
	runErr := pool.Run(ctx, gen, &harness.WriteSubmitter{Client: client, Table: *tableName})
	elapsed := time.Since(started)

	repCancel()
	repWG.Wait()

	snap := counters.Snapshot()
	fmt.Println("\n========== LOAD RESULTS ==========")
	fmt.Printf("Table:              %s\n", *tableName)
	fmt.Printf("Succeeded:          %d\n", snap.Succeeded)
	fmt.Printf("Failed:             %d\n", snap.Failed)
	fmt.Printf("Store Calls:        %d\n", snap.Calls)
	fmt.Printf("Retries:            %d\n", snap.Retries)
	fmt.Printf("Elapsed:            %.1fs\n", elapsed.Seconds())
	if s := elapsed.Seconds(); s > 0 {
		fmt.Printf("Events/Second:      %.0f\n", float64(snap.Succeeded)/s)
	}
	fmt.Println("==================================")

	if runErr != nil {
		logger.Warn("load interrupted", zap.Error(runErr))
		return
	}
	if snap.Failed > 0 {
		logger.Warn("load finished with failures", zap.Int64("failed", snap.Failed))
	}
}
