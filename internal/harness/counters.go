package harness

import "sync/atomic"

// Counters is the shared tally for one run. All updates go through these
// methods so every record lands in exactly one of succeeded or failed.
type Counters struct {
	succeeded atomic.Int64
	failed    atomic.Int64
	calls     atomic.Int64
	retries   atomic.Int64
}

// AddSucceeded records n accepted records.
func (c *Counters) AddSucceeded(n int) {
	c.succeeded.Add(int64(n))
}

// AddFailed records n records given up on.
func (c *Counters) AddFailed(n int) {
	c.failed.Add(int64(n))
}

// AddCall records one storage API call.
func (c *Counters) AddCall() {
	c.calls.Add(1)
}

// AddRetry records one retry pause.
func (c *Counters) AddRetry() {
	c.retries.Add(1)
}

// Snapshot is a point-in-time read of the counters.
type Snapshot struct {
	Succeeded int64
	Failed    int64
	Calls     int64
	Retries   int64
}

// Processed is the number of records fully accounted for so far.
func (s Snapshot) Processed() int64 {
	return s.Succeeded + s.Failed
}

// Snapshot reads each counter once. The fields are read independently, close
// enough for progress reporting.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Calls:     c.calls.Load(),
		Retries:   c.retries.Load(),
	}
}
