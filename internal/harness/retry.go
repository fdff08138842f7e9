package harness

import (
	"context"
	"math/rand"
	"time"

	"ddb-loadgen/internal/store"
)

// Retry defaults. Batch stores answer partial progress quickly, so the
// schedule starts short and caps well under the request timeout.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 75 * time.Millisecond
	DefaultMaxDelay    = 1500 * time.Millisecond
)

// RetryPolicy shapes the backoff between submit attempts for one batch.
type RetryPolicy struct {
	MaxAttempts int           // total submit calls per batch, first one included
	BaseDelay   time.Duration // pause before the first retry
	MaxDelay    time.Duration // ceiling for every pause, jitter included
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the pause before retry attempt n (n=1 is the first retry).
// The schedule doubles from BaseDelay and never exceeds MaxDelay, so it is
// non-decreasing in n.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		return 0
	}
	if attempt-1 >= 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay << uint(attempt-1)
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// jittered spreads concurrent retries out by up to a quarter of the delay,
// without letting the total pause cross MaxDelay.
func (p RetryPolicy) jittered(attempt int, rng *rand.Rand) time.Duration {
	p = p.withDefaults()
	d := p.Delay(attempt)
	room := p.MaxDelay - d
	if room <= 0 || rng == nil {
		return d
	}
	j := d / 4
	if j > room {
		j = room
	}
	if j <= 0 {
		return d
	}
	return d + time.Duration(rng.Int63n(int64(j)))
}

// SubmitWithRetry pushes one batch to completion. The first call submits the
// whole batch; every later call submits only the remainder the store left
// unprocessed, after a capped exponential pause. Throttles and other
// retryable errors consume an attempt without shrinking the remainder.
//
// Returns true only when every record of the original batch was accepted.
// A permanent error abandons the batch at once and is returned to the
// caller; exhausted retries return (false, nil) because the run is expected
// to carry on. Either way the counters absorb the batch exactly once:
// accepted records as succeeded, the rest as failed.
func SubmitWithRetry(ctx context.Context, sub Submitter, records []Record, pol RetryPolicy, c *Counters, rng *rand.Rand) (bool, error) {
	pol = pol.withDefaults()
	if c == nil {
		c = &Counters{}
	}
	if len(records) == 0 {
		return true, nil
	}

	pending := records
	for attempt := 0; attempt < pol.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.AddRetry()
			select {
			case <-ctx.Done():
				c.AddFailed(len(pending))
				return false, ctx.Err()
			case <-time.After(pol.jittered(attempt, rng)):
			}
		}

		c.AddCall()
		remaining, err := sub.Submit(ctx, pending)
		if err != nil {
			if store.IsShutdown(err) {
				c.AddFailed(len(pending))
				return false, err
			}
			if store.IsRetryable(err) {
				continue
			}
			c.AddFailed(len(pending))
			return false, err
		}

		if accepted := len(pending) - len(remaining); accepted > 0 {
			c.AddSucceeded(accepted)
		}
		if len(remaining) == 0 {
			return true, nil
		}
		pending = remaining
	}

	c.AddFailed(len(pending))
	return false, nil
}
