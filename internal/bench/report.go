package bench

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// report logs running totals every 10 seconds until stopChan closes.
func (r *Runner) report(stopChan <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	logger := r.logger()
	start := time.Now()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			if atomic.LoadInt32(&r.warmupDone) == 0 {
				logger.Info("warming up")
				continue
			}

			elapsed := time.Since(start).Seconds()
			totalOps := r.Metrics.TotalOps()
			snap := r.Counters.Snapshot()

			logger.Info("benchmark progress",
				zap.Float64("elapsed_sec", float64(int(elapsed))),
				zap.Int64("ops", totalOps),
				zap.Float64("ops_per_sec", float64(totalOps)/elapsed),
				zap.Int64("errors", r.Metrics.TotalErrors()),
				zap.Int64("retries", snap.Retries))
		}
	}
}

// PrintSummary writes the final results block to stdout.
func (r *Runner) PrintSummary() {
	measured := r.measured
	if measured <= 0 {
		measured = r.Duration
	}

	fmt.Println("\n========== BENCHMARK RESULTS ==========")
	fmt.Printf("Operation:          %s\n", r.Op)
	fmt.Printf("Table:              %s\n", r.Table)
	fmt.Printf("Threads:            %d\n", r.Threads)
	fmt.Printf("Key set size:       %d\n", len(r.Keys))
	fmt.Printf("Measured window:    %.1fs\n", measured.Seconds())
	fmt.Println("---------------------------------------")

	var totalOps, totalErrs int64
	for op := 0; op < opCount; op++ {
		st := r.Metrics.Tracker(op).Stats()
		totalOps += st.Count
		totalErrs += st.Errors
		if st.Count == 0 && st.Errors == 0 {
			continue
		}

		fmt.Printf("\n%s:\n", OpName(op))
		fmt.Printf("  Count:    %d\n", st.Count)
		fmt.Printf("  Errors:   %d\n", st.Errors)
		fmt.Printf("  Avg (ms): %.2f\n", st.AvgMs)
		fmt.Printf("  P50 (ms): %.2f\n", st.P50Ms)
		fmt.Printf("  P95 (ms): %.2f\n", st.P95Ms)
		fmt.Printf("  P99 (ms): %.2f\n", st.P99Ms)
		fmt.Printf("  Min (ms): %.2f\n", st.MinMs)
		fmt.Printf("  Max (ms): %.2f\n", st.MaxMs)
	}

	snap := r.Counters.Snapshot()
	fmt.Println("\n---------------------------------------")
	fmt.Printf("Total Operations:   %d\n", totalOps)
	if measured > 0 {
		fmt.Printf("Operations/Second:  %.2f\n", float64(totalOps)/measured.Seconds())
	}
	fmt.Printf("Total Errors:       %d\n", totalErrs)
	if totalOps+totalErrs > 0 {
		fmt.Printf("Error Rate:         %.2f%%\n", float64(totalErrs)/float64(totalOps+totalErrs)*100)
	}
	fmt.Printf("Store Calls:        %d\n", snap.Calls)
	fmt.Printf("Store Retries:      %d\n", snap.Retries)
	fmt.Println("=======================================")
}
