// table-purge deletes every item in a table. It discovers the key schema,
// scans the keys, and batch-deletes them through the same worker pool the
// loaders use. Destructive, so it asks first.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ddb-loadgen/internal/harness"
	"ddb-loadgen/internal/keyset"
	"ddb-loadgen/internal/logging"
	"ddb-loadgen/internal/progress"
	"ddb-loadgen/internal/store"
)

var (
	tableName = flag.String("table", "", "Table to purge")
	workers   = flag.Int("workers", 8, "Number of concurrent delete workers")
	batchSize = flag.Int("batch-size", 25, "Keys per BatchWriteItem (max 25)")
	force     = flag.Bool("force", false, "Skip the confirmation prompt")
	dropTable = flag.Bool("drop-table", false, "Drop the table instead of deleting items one by one")
	debug     = flag.Bool("debug", false, "Enable debug logging")

	storeOpts = store.BindFlags(flag.CommandLine)
)

func main() {
	flag.Parse()

	logger := logging.New(*debug)
	defer func() { _ = logger.Sync() }()

	if *tableName == "" {
		logger.Fatal("table is required")
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

	if !*force && !confirm(*tableName) {
		fmt.Println("Aborted.")
		return
	}

	storeOpts.PoolHint = *workers
	client, err := store.NewClient(ctx, storeOpts, logger)
	if err != nil {
		logger.Fatal("failed to create client", zap.Error(err))
	}

	if *dropTable {
		if err := store.DeleteTable(ctx, client, *tableName, logger); err != nil {
			logger.Fatal("failed to drop table", zap.Error(err))
		}
		fmt.Printf("Dropped table %s\n", *tableName)
		return
	}

	attrs, err := store.DescribeKeyAttrs(ctx, client, *tableName)
	if err != nil {
		logger.Fatal("failed to read table schema", zap.Error(err))
	}

	keys, err := keyset.Collect(ctx, client, *tableName, attrs, 0, logger)
	if err != nil {
		logger.Fatal("failed to scan keys", zap.Error(err))
	}
	if len(keys) == 0 {
		fmt.Printf("Table %s is already empty\n", *tableName)
		return
	}
	logger.Info("deleting items", zap.Int("count", len(keys)), zap.Int("workers", *workers))

	cfg := harness.Config{
		TotalRecords: len(keys),
		BatchSize:    *batchSize,
		Workers:      *workers,
	}
	counters := &harness.Counters{}
	pool, err := harness.NewPool(cfg, counters, logger)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	reporter := &progress.Reporter{
		Counters: counters,
		Total:    int64(len(keys)),
		Logger:   logger,
	}
	repCtx, repCancel := context.WithCancel(context.Background())
	go reporter.Run(repCtx)

	started := time.Now()
	runErr := pool.Run(ctx, keyset.Slice(keys), &harness.DeleteSubmitter{Client: client, Table: *tableName})
	repCancel()

	snap := counters.Snapshot()
	fmt.Printf("\nDeleted %d of %d items from %s in %.1fs (%d failed, %d retries)\n",
		snap.Succeeded, len(keys), *tableName, time.Since(started).Seconds(), snap.Failed, snap.Retries)

	if runErr != nil {
		logger.Warn("purge interrupted", zap.Error(runErr))
		return
	}
	if snap.Failed > 0 {
		os.Exit(1)
	}
}

func confirm(table string) bool {
	fmt.Printf("This deletes ALL items from table %q. Type 'yes' to continue: ", table)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
