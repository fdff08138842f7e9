package progress

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ddb-loadgen/internal/harness"
)

// Stats is one reporter sample.
type Stats struct {
	Done        int64   // records accepted so far
	Failed      int64   // records given up on
	InstantRate float64 // accepted per second since the last tick
	OverallRate float64 // accepted per second since the start
	Percent     float64 // share of the input range fully accounted for
	ETA         time.Duration
}

// Compute derives one sample from a counter snapshot. Rates follow accepted
// records because that is the number being optimized; percent and ETA follow
// processed records (accepted plus failed) so a run with failures still
// converges on 100% and zero. ETA is clamped at zero.
func Compute(snap harness.Snapshot, prevDone, total int64, sinceStart, sinceLast time.Duration) Stats {
	st := Stats{Done: snap.Succeeded, Failed: snap.Failed}

	if s := sinceLast.Seconds(); s > 0 {
		st.InstantRate = float64(snap.Succeeded-prevDone) / s
	}
	if s := sinceStart.Seconds(); s > 0 {
		st.OverallRate = float64(snap.Succeeded) / s
	}

	processed := snap.Processed()
	if total > 0 {
		st.Percent = 100 * float64(processed) / float64(total)
		if st.Percent > 100 {
			st.Percent = 100
		}
	}

	remaining := total - processed
	if remaining > 0 && sinceStart > 0 && processed > 0 {
		perRecord := sinceStart / time.Duration(processed)
		st.ETA = time.Duration(remaining) * perRecord
	}
	if st.ETA < 0 {
		st.ETA = 0
	}
	return st
}

// Reporter logs a progress line on every tick and keeps the checkpoint
// fresh. Run it in its own goroutine and cancel its context when the pool
// finishes; the final checkpoint write happens on the way out no matter how
// the run ended.
type Reporter struct {
	Counters    *harness.Counters
	Total       int64
	StartOffset int64
	Interval    time.Duration // 0 means 5s
	Checkpoint  Checkpoint
	Logger      *zap.Logger
}

func (r *Reporter) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return 5 * time.Second
}

func (r *Reporter) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// Run ticks until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()
	defer r.Flush()

	start := time.Now()
	last := start
	var prevDone int64

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := r.Counters.Snapshot()
			st := Compute(snap, prevDone, r.Total, now.Sub(start), now.Sub(last))

			r.logger().Info("progress",
				zap.Int64("done", st.Done),
				zap.Int64("failed", st.Failed),
				zap.Float64("instant_per_sec", round1(st.InstantRate)),
				zap.Float64("overall_per_sec", round1(st.OverallRate)),
				zap.Float64("percent", round1(st.Percent)),
				zap.Duration("eta", st.ETA.Round(time.Second)),
				zap.Int64("retries", snap.Retries))

			if err := r.Checkpoint.Save(r.StartOffset + snap.Succeeded); err != nil {
				r.logger().Warn("checkpoint write failed", zap.Error(err))
			}

			prevDone = snap.Succeeded
			last = now
		}
	}
}

// Flush writes the checkpoint from the current counters. Run calls it on
// exit; callers may also call it directly after the pool returns.
func (r *Reporter) Flush() {
	snap := r.Counters.Snapshot()
	if err := r.Checkpoint.Save(r.StartOffset + snap.Succeeded); err != nil {
		r.logger().Warn("final checkpoint write failed", zap.Error(err))
	}
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
