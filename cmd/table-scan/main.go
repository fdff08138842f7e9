// table-scan walks a table page by page and saves its primary keys to a
// JSON file for the bench tools to replay.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ddb-loadgen/internal/keyset"
	"ddb-loadgen/internal/logging"
	"ddb-loadgen/internal/store"
)

var (
	tableName = flag.String("table", "map_tiles", "Table to scan")
	output    = flag.String("output", "table_keys.json", "Key file to write")
	maxKeys   = flag.Int("max-keys", 0, "Stop after collecting this many keys (0 = all)")
	debug     = flag.Bool("debug", false, "Enable debug logging")

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
		<-sigChan
		cancel()
	}()

	client, err := store.NewClient(ctx, storeOpts, logger)
	if err != nil {
		logger.Fatal("failed to create client", zap.Error(err))
	}

	attrs, err := store.DescribeKeyAttrs(ctx, client, *tableName)
	if err != nil {
		logger.Fatal("failed to read table schema", zap.Error(err))
	}
	logger.Info("scanning table",
		zap.String("table", *tableName),
		zap.String("partition_key", attrs.PartitionKey),
		zap.String("sort_key", attrs.SortKey))

	started := time.Now()
	keys, err := keyset.Collect(ctx, client, *tableName, attrs, *maxKeys, logger)
	if err != nil {
		logger.Fatal("scan failed", zap.Error(err))
	}
	if len(keys) == 0 {
		logger.Error("table is empty, no key file written", zap.String("table", *tableName))
		os.Exit(1)
	}

	if err := keyset.Save(*output, keys); err != nil {
		logger.Fatal("failed to write key file", zap.Error(err))
	}

	fmt.Printf("Saved %d keys from %s to %s in %.1fs\n",
		len(keys), *tableName, *output, time.Since(started).Seconds())
}
