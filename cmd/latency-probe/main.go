// latency-probe measures single-item round-trip latency: write a profile
// row, read it back, repeat. With -read-region the reads go through a second
// client in another region, which turns the probe into a global-table
// replication check.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ddb-loadgen/internal/bench"
	"ddb-loadgen/internal/logging"
	"ddb-loadgen/internal/store"
)

var (
	tableName   = flag.String("table", "probe_profiles", "Table to probe")
	count       = flag.Int("count", 100, "Number of write/read round trips")
	payloadSize = flag.Int("payload-size", 256, "Extra payload bytes per item")
	seed        = flag.Int64("seed", 0, "Item seed (0 = time-based)")
	readRegion  = flag.String("read-region", "", "Read through a second client in this region")
	readDelay   = flag.Duration("read-delay", 0, "Wait between the write and the read-back")
	interval    = flag.Duration("interval", 0, "Pause between round trips")
	consistent  = flag.Bool("consistent", false, "Use consistent reads (same-region only)")
	createTable = flag.Bool("create-table", false, "Create the table if it does not exist")
	debug       = flag.Bool("debug", false, "Enable debug logging")

	storeOpts = store.BindFlags(flag.CommandLine)
)

var (
	firstNames = [...]string{"alina", "bruno", "chen", "dara", "elias", "farah", "goran", "hana", "ivo", "jana"}
	cities     = [...]string{"Dublin", "Frankfurt", "Osaka", "Portland", "Singapore", "Stockholm", "Sydney", "Toronto"}
	tiers      = [...]string{"free", "basic", "pro", "enterprise"}
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

	writer, err := store.NewClient(ctx, storeOpts, logger)
	if err != nil {
		logger.Fatal("failed to create client", zap.Error(err))
	}

	// Reads default to the write client. A second region gets its own
	// client so the read path crosses the replication boundary.
	reader := writer
	if *readRegion != "" {
		readOpts := *storeOpts
		readOpts.Region = *readRegion
		reader, err = store.NewClient(ctx, &readOpts, logger)
		if err != nil {
			logger.Fatal("failed to create read client", zap.Error(err))
		}
	}

	if *createTable {
		spec := store.TableSpec{
			Name:             *tableName,
			PartitionKey:     "user_id",
			PartitionKeyType: types.ScalarAttributeTypeS,
		}
		if err := store.EnsureTable(ctx, writer, spec, logger); err != nil {
			logger.Fatal("failed to create table", zap.Error(err))
		}
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	putTracker := &bench.LatencyTracker{}
	getTracker := &bench.LatencyTracker{}
	misses := 0

	logger.Info("starting probe",
		zap.String("table", *tableName),
		zap.Int("count", *count),
		zap.String("read_region", *readRegion))

	for i := 0; i < *count; i++ {
		if ctx.Err() != nil {
			logger.Info("probe interrupted", zap.Int("completed", i))
			break
		}

		item, key := profileItem(rng, i)

		started := time.Now()
		_, err := writer.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(*tableName),
			Item:      item,
		})
		if err != nil {
			putTracker.RecordError()
			logger.Warn("put failed", zap.Int("probe", i), zap.Error(err))
			continue
		}
		putTracker.Record(time.Since(started).Microseconds())

		if *readDelay > 0 && !pause(ctx, *readDelay) {
			continue
		}

		started = time.Now()
		out, err := reader.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(*tableName),
			Key:            key,
			ConsistentRead: aws.Bool(*consistent),
		})
		if err != nil {
			getTracker.RecordError()
			logger.Warn("get failed", zap.Int("probe", i), zap.Error(err))
			continue
		}
		getTracker.Record(time.Since(started).Microseconds())
		if len(out.Item) == 0 {
			misses++
			logger.Debug("item not yet readable", zap.Int("probe", i))
		}

		if *interval > 0 && !pause(ctx, *interval) {
			break
		}
	}

	fmt.Println("\n========== PROBE RESULTS ==========")
	fmt.Printf("Table:              %s\n", *tableName)
	fmt.Printf("Round Trips:        %d\n", *count)
	if *readRegion != "" {
		fmt.Printf("Read Region:        %s\n", *readRegion)
	}
	if misses > 0 {
		fmt.Printf("Read Misses:        %d\n", misses)
	}
	printStats("PutItem", putTracker.Stats())
	printStats("GetItem", getTracker.Stats())
	fmt.Println("===================================")
}

// profileItem builds one synthetic user row and the key to read it back.
func profileItem(rng *rand.Rand, i int) (map[string]types.AttributeValue, map[string]types.AttributeValue) {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		panic(fmt.Sprintf("generate user id: %v", err))
	}
	userID := id.String()

	payload := make([]byte, *payloadSize)
	for p := range payload {
		payload[p] = 'a' + byte(rng.Intn(26))
	}
	name := fmt.Sprintf("%s%03d", firstNames[rng.Intn(len(firstNames))], rng.Intn(1000))

	item := map[string]types.AttributeValue{
		"user_id":    &types.AttributeValueMemberS{Value: userID},
		"username":   &types.AttributeValueMemberS{Value: name},
		"email":      &types.AttributeValueMemberS{Value: name + "@example.com"},
		"city":       &types.AttributeValueMemberS{Value: cities[rng.Intn(len(cities))]},
		"tier":       &types.AttributeValueMemberS{Value: tiers[rng.Intn(len(tiers))]},
		"score":      &types.AttributeValueMemberN{Value: strconv.Itoa(rng.Intn(100_000))},
		"seq":        &types.AttributeValueMemberN{Value: strconv.Itoa(i)},
		"created_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UnixMilli(), 10)},
		"payload":    &types.AttributeValueMemberS{Value: string(payload)},
	}
	key := map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
	return item, key
}

func pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func printStats(label string, st bench.Stats) {
	if st.Count == 0 && st.Errors == 0 {
		return
	}
	fmt.Printf("\n%s (%d ops, %d errors):\n", label, st.Count, st.Errors)
	if st.Count == 0 {
		return
	}
	fmt.Printf("  Avg: %8.2f ms\n", st.AvgMs)
	fmt.Printf("  Min: %8.2f ms\n", st.MinMs)
	fmt.Printf("  P50: %8.2f ms\n", st.P50Ms)
	fmt.Printf("  P95: %8.2f ms\n", st.P95Ms)
	fmt.Printf("  P99: %8.2f ms\n", st.P99Ms)
	fmt.Printf("  Max: %8.2f ms\n", st.MaxMs)
}
