// map-query reads the map datasets back: the newest version of every
// element in a tile or block, or the full version history of one element.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"ddb-loadgen/internal/logging"
	"ddb-loadgen/internal/mapdata"
	"ddb-loadgen/internal/store"
)

var (
	tableName = flag.String("table", "map_tiles", "Table to query")
	dataset   = flag.String("dataset", "tile", "Dataset layout: 'tile' or 'elements'")
	mode      = flag.String("mode", "latest", "Query mode: 'latest' or 'versions'")
	partition = flag.String("partition", "", "Partition to query: a tile id like t00042, a block id, or a full element id for -mode versions")
	minSort   = flag.Int64("min-sort", 0, "Ignore rows with a sort key below this value")
	limit     = flag.Int("limit", 50, "Rows to print (versions mode fetch limit)")
	pageSize  = flag.Int("page-size", 0, "Query page size (0 = server default)")
	showRows  = flag.Bool("print-rows", true, "Print the matching rows")
	debug     = flag.Bool("debug", false, "Enable debug logging")

	storeOpts = store.BindFlags(flag.CommandLine)
)

func main() {
	flag.Parse()

	logger := logging.New(*debug)
	defer func() { _ = logger.Sync() }()

	if *partition == "" {
		logger.Fatal("partition is required")
	}
	if *mode != "latest" && *mode != "versions" {
		logger.Fatal("mode must be 'latest' or 'versions'", zap.String("mode", *mode))
	}

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

	query := &mapdata.LatestQuery{
		Client:   client,
		Table:    *tableName,
		PageSize: int32(*pageSize),
		Logger:   logger,
	}
	switch *dataset {
	case "tile":
		query.Index = mapdata.TileIndexName
		query.Partition = "tile"
		query.SortKey = "tsver"
		query.GroupAttr = "element_id"
	case "elements":
		query.Index = mapdata.ElementIndexName
		query.Partition = "block_id"
		query.SortKey = "version"
		query.GroupAttr = "ele_id"
	default:
		logger.Fatal("dataset must be 'tile' or 'elements'", zap.String("dataset", *dataset))
	}

	switch *mode {
	case "latest":
		runLatest(ctx, query, logger)
	case "versions":
		// Version history reads the base table: the partition is the full
		// element key, not a tile or block.
		query.Index = ""
		switch *dataset {
		case "tile":
			query.Partition = "bte"
		case "elements":
			query.Partition = "ele_id"
		}
		runVersions(ctx, query, logger)
	}
}

func runLatest(ctx context.Context, query *mapdata.LatestQuery, logger *zap.Logger) {
	started := time.Now()
	result, err := query.Latest(ctx, *partition, *minSort)
	if err != nil {
		logger.Fatal("latest query failed", zap.Error(err))
	}
	elapsed := time.Since(started)

	if *showRows {
		for i, item := range result.Items {
			if i >= *limit {
				fmt.Printf("... %d more\n", len(result.Items)-*limit)
				break
			}
			printRow(item, query.GroupAttr, query.SortKey)
		}
	}

	fmt.Printf("\n%d elements at their newest version (scanned %d rows over %d pages) in %.3fs\n",
		len(result.Items), result.Scanned, result.Pages, elapsed.Seconds())
	if len(result.Items) == 0 {
		os.Exit(1)
	}
}

func runVersions(ctx context.Context, query *mapdata.LatestQuery, logger *zap.Logger) {
	started := time.Now()
	items, err := query.Versions(ctx, *partition, int32(*limit))
	if err != nil {
		logger.Fatal("versions query failed", zap.Error(err))
	}
	elapsed := time.Since(started)

	if *showRows {
		for _, item := range items {
			printRow(item, query.Partition, query.SortKey)
		}
	}

	fmt.Printf("\n%d versions of %s in %.3fs\n", len(items), *partition, elapsed.Seconds())
	if len(items) == 0 {
		os.Exit(1)
	}
}

func printRow(item map[string]types.AttributeValue, groupAttr, sortAttr string) {
	group := "?"
	if s, ok := item[groupAttr].(*types.AttributeValueMemberS); ok {
		group = s.Value
	}
	sort := "?"
	if n, ok := item[sortAttr].(*types.AttributeValueMemberN); ok {
		sort = n.Value
	}
	fmt.Printf("  %-40s %s=%s\n", group, sortAttr, sort)
}
