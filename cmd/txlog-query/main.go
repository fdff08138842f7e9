// txlog-query reads the transaction log back: all events for one or more
// accounts, the highest-volume events of a type, or the union of both.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ddb-loadgen/internal/logging"
	"ddb-loadgen/internal/store"
	"ddb-loadgen/internal/txlog"
)

var (
	tableName    = flag.String("table", "tx_events", "Table to query")
	account      = flag.String("account", "", "Account address to query")
	accountsFile = flag.String("accounts-file", "", "File with one account address per line")
	eventType    = flag.String("event-type", "SWAP", "Event type for the volume query")
	minVolume    = flag.Float64("min-volume", 100_000, "Minimum traded volume in USD for the volume query")
	limit        = flag.Int("limit", 20, "Events to return")
	union        = flag.Bool("union", false, "Merge the account events with the volume query results")
	showRows     = flag.Bool("print-rows", true, "Print the matching events")
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
		<-sigChan
		cancel()
	}()

	client, err := store.NewClient(ctx, storeOpts, logger)
	if err != nil {
		logger.Fatal("failed to create client", zap.Error(err))
	}

	accounts := targetAccounts(logger)

	started := time.Now()

	var accountEvents []txlog.Event
	for _, acct := range accounts {
		events, err := txlog.AccountEvents(ctx, client, *tableName, acct, 0)
		if err != nil {
			logger.Fatal("account query failed", zap.String("account", acct), zap.Error(err))
		}
		logger.Debug("account queried",
			zap.String("account", acct),
			zap.Int("events", len(events)))
		accountEvents = txlog.Union(accountEvents, events, 0)
	}

	// The volume query runs on its own when no accounts are given, or
	// alongside the account query with -union.
	var volumeEvents []txlog.Event
	if *union || len(accounts) == 0 {
		volumeEvents, err = txlog.HighVolumeEvents(ctx, client, *tableName, txlog.VolumeIndexName, *eventType, *minVolume, *limit)
		if err != nil {
			logger.Fatal("volume query failed", zap.Error(err))
		}
	}

	merged := txlog.Union(accountEvents, volumeEvents, *limit)
	elapsed := time.Since(started)

	if *showRows {
		for _, ev := range merged {
			printEvent(ev)
		}
	}

	switch {
	case len(accounts) > 0 && len(volumeEvents) > 0:
		fmt.Printf("\n%d events across %d accounts and %s >= %.0f USD in %.3fs\n",
			len(merged), len(accounts), *eventType, *minVolume, elapsed.Seconds())
	case len(accounts) > 0:
		fmt.Printf("\n%d events across %d accounts in %.3fs\n",
			len(merged), len(accounts), elapsed.Seconds())
	default:
		fmt.Printf("\n%d %s events >= %.0f USD in %.3fs\n",
			len(merged), *eventType, *minVolume, elapsed.Seconds())
	}

	if len(merged) == 0 {
		os.Exit(1)
	}
}

func targetAccounts(logger *zap.Logger) []string {
	if *account != "" {
		return []string{*account}
	}
	if *accountsFile == "" {
		return nil
	}

	data, err := os.ReadFile(*accountsFile)
	if err != nil {
		logger.Fatal("failed to read accounts file", zap.Error(err))
	}
	var accounts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			accounts = append(accounts, line)
		}
	}
	return accounts
}

func printEvent(ev txlog.Event) {
	fmt.Printf("  block %-10d %-16s %12.2f USD  %s  %s->%s  %s\n",
		ev.BlockNumber, ev.EventType, ev.VolumeUSD,
		short(ev.AccountAddress), ev.TokenIn, ev.TokenOut, ev.Protocol)
}

func short(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
