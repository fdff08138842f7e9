package harness

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submitFunc func(records []Record) ([]Record, error)

// scriptedSubmitter plays one scripted response per Submit call, repeating
// the last entry once the script runs out.
type scriptedSubmitter struct {
	mu     sync.Mutex
	calls  int
	script []submitFunc
}

func (s *scriptedSubmitter) Submit(_ context.Context, records []Record) ([]Record, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx](records)
}

func (s *scriptedSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			"pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("r%03d", i)},
		}
	}
	return records
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestSubmitWithRetryAllAccepted(t *testing.T) {
	sub := &scriptedSubmitter{script: []submitFunc{
		func([]Record) ([]Record, error) { return nil, nil },
	}}
	c := &Counters{}

	ok, err := SubmitWithRetry(context.Background(), sub, testRecords(25), fastPolicy(), c, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, sub.callCount())

	snap := c.Snapshot()
	assert.Equal(t, int64(25), snap.Succeeded)
	assert.Equal(t, int64(0), snap.Failed)
	assert.Equal(t, int64(1), snap.Calls)
	assert.Equal(t, int64(0), snap.Retries)
}

func TestSubmitWithRetryPartialRemainder(t *testing.T) {
	// First call accepts the first ten records and leaves the other fifteen
	// unprocessed; the second call takes everything it is given.
	var second []Record
	sub := &scriptedSubmitter{script: []submitFunc{
		func(records []Record) ([]Record, error) { return records[10:], nil },
		func(records []Record) ([]Record, error) { second = records; return nil, nil },
	}}
	c := &Counters{}
	records := testRecords(25)

	ok, err := SubmitWithRetry(context.Background(), sub, records, fastPolicy(), c, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, sub.callCount())

	// Only the remainder goes back out, and it is the original records.
	require.Len(t, second, 15)
	assert.Equal(t, records[10], second[0])
	assert.Equal(t, records[24], second[14])

	snap := c.Snapshot()
	assert.Equal(t, int64(25), snap.Succeeded)
	assert.Equal(t, int64(0), snap.Failed)
	assert.Equal(t, int64(2), snap.Calls)
	assert.Equal(t, int64(1), snap.Retries)
}

func TestSubmitWithRetryExhaustsAttempts(t *testing.T) {
	// The store never takes anything. Attempts run out without an error.
	sub := &scriptedSubmitter{script: []submitFunc{
		func(records []Record) ([]Record, error) { return records, nil },
	}}
	c := &Counters{}

	ok, err := SubmitWithRetry(context.Background(), sub, testRecords(10), fastPolicy(), c, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, sub.callCount())

	snap := c.Snapshot()
	assert.Equal(t, int64(0), snap.Succeeded)
	assert.Equal(t, int64(10), snap.Failed)
	assert.Equal(t, int64(5), snap.Calls)
	assert.Equal(t, int64(4), snap.Retries)
}

func TestSubmitWithRetryCountsEveryRecordOnce(t *testing.T) {
	// Each call accepts exactly one record, so attempts run out with half
	// the batch still pending. Every record must land in exactly one bucket.
	sub := &scriptedSubmitter{script: []submitFunc{
		func(records []Record) ([]Record, error) { return records[1:], nil },
	}}
	c := &Counters{}

	ok, err := SubmitWithRetry(context.Background(), sub, testRecords(10), fastPolicy(), c, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, sub.callCount())

	snap := c.Snapshot()
	assert.Equal(t, int64(5), snap.Succeeded)
	assert.Equal(t, int64(5), snap.Failed)
	assert.Equal(t, int64(10), snap.Processed())
}

func TestSubmitWithRetryThrottleConsumesAttempt(t *testing.T) {
	var second []Record
	sub := &scriptedSubmitter{script: []submitFunc{
		func([]Record) ([]Record, error) {
			return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("throughput exceeded")}
		},
		func(records []Record) ([]Record, error) { second = records; return nil, nil },
	}}
	c := &Counters{}

	ok, err := SubmitWithRetry(context.Background(), sub, testRecords(6), fastPolicy(), c, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, sub.callCount())
	// A throttled call accepted nothing, so the whole batch goes again.
	assert.Len(t, second, 6)

	snap := c.Snapshot()
	assert.Equal(t, int64(6), snap.Succeeded)
	assert.Equal(t, int64(2), snap.Calls)
	assert.Equal(t, int64(1), snap.Retries)
}

func TestSubmitWithRetryPermanentError(t *testing.T) {
	permanent := &smithy.GenericAPIError{Code: "ValidationException", Message: "invalid item"}
	sub := &scriptedSubmitter{script: []submitFunc{
		func([]Record) ([]Record, error) { return nil, permanent },
	}}
	c := &Counters{}

	ok, err := SubmitWithRetry(context.Background(), sub, testRecords(10), fastPolicy(), c, nil)
	assert.False(t, ok)
	require.Error(t, err)
	var apiErr smithy.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ValidationException", apiErr.ErrorCode())
	// No retry for a permanent error.
	assert.Equal(t, 1, sub.callCount())

	snap := c.Snapshot()
	assert.Equal(t, int64(0), snap.Succeeded)
	assert.Equal(t, int64(10), snap.Failed)
	assert.Equal(t, int64(0), snap.Retries)
}

func TestSubmitWithRetryMixedPartialThenPermanent(t *testing.T) {
	permanent := &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "no such table"}
	sub := &scriptedSubmitter{script: []submitFunc{
		func(records []Record) ([]Record, error) { return records[7:], nil },
		func([]Record) ([]Record, error) { return nil, permanent },
	}}
	c := &Counters{}

	ok, err := SubmitWithRetry(context.Background(), sub, testRecords(10), fastPolicy(), c, nil)
	assert.False(t, ok)
	require.Error(t, err)

	// Records accepted before the failure stay succeeded; only the pending
	// remainder counts as failed.
	snap := c.Snapshot()
	assert.Equal(t, int64(7), snap.Succeeded)
	assert.Equal(t, int64(3), snap.Failed)
	assert.Equal(t, int64(10), snap.Processed())
}

func TestSubmitWithRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &scriptedSubmitter{script: []submitFunc{
		func(records []Record) ([]Record, error) {
			cancel() // the backoff pause before the retry sees this
			return records, nil
		},
	}}
	c := &Counters{}
	pol := RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond}

	ok, err := SubmitWithRetry(ctx, sub, testRecords(8), pol, c, nil)
	assert.False(t, ok)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sub.callCount())

	snap := c.Snapshot()
	assert.Equal(t, int64(0), snap.Succeeded)
	assert.Equal(t, int64(8), snap.Failed)
}

func TestSubmitWithRetryEmptyBatch(t *testing.T) {
	sub := &scriptedSubmitter{script: []submitFunc{
		func([]Record) ([]Record, error) { return nil, nil },
	}}
	c := &Counters{}

	ok, err := SubmitWithRetry(context.Background(), sub, nil, fastPolicy(), c, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, sub.callCount())
	assert.Equal(t, int64(0), c.Snapshot().Calls)
}

func TestRetryPolicyDelay(t *testing.T) {
	pol := RetryPolicy{MaxAttempts: 8, BaseDelay: 100 * time.Millisecond, MaxDelay: 1500 * time.Millisecond}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1500 * time.Millisecond, // 1600ms capped
		1500 * time.Millisecond,
	}
	for i, expect := range want {
		assert.Equal(t, expect, pol.Delay(i+1), "retry %d", i+1)
	}

	assert.Equal(t, time.Duration(0), pol.Delay(0))
	assert.Equal(t, 1500*time.Millisecond, pol.Delay(63), "deep attempts stay capped")

	for n := 2; n < 20; n++ {
		assert.GreaterOrEqual(t, pol.Delay(n), pol.Delay(n-1), "schedule must never decrease")
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	var pol RetryPolicy
	assert.Equal(t, DefaultBaseDelay, pol.Delay(1))
	assert.Equal(t, DefaultMaxDelay, pol.Delay(30))

	// A cap below the base rises to the base.
	pol = RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Millisecond}
	assert.Equal(t, time.Second, pol.Delay(1))
	assert.Equal(t, time.Second, pol.Delay(10))
}

func TestRetryPolicyJitterStaysUnderCap(t *testing.T) {
	pol := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 1500 * time.Millisecond}
	rng := rand.New(rand.NewSource(1))

	for attempt := 1; attempt <= 10; attempt++ {
		base := pol.Delay(attempt)
		for i := 0; i < 200; i++ {
			d := pol.jittered(attempt, rng)
			assert.GreaterOrEqual(t, d, base)
			assert.LessOrEqual(t, d, pol.MaxDelay)
		}
	}

	// No rng means no jitter.
	assert.Equal(t, pol.Delay(2), pol.jittered(2, nil))
}
