package txlog

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	pages  []*dynamodb.QueryOutput
	inputs []dynamodb.QueryInput
}

func (f *fakeQuerier) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	call := len(f.inputs)
	f.inputs = append(f.inputs, dynamodb.QueryInput{
		TableName:         params.TableName,
		IndexName:         params.IndexName,
		ScanIndexForward:  params.ScanIndexForward,
		ExclusiveStartKey: params.ExclusiveStartKey,
	})
	if call >= len(f.pages) {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.pages[call], nil
}

func eventItem(t *testing.T, id string, block int64, volume float64) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(Event{
		AccountAddress: "acct1",
		EventID:        id,
		EventType:      "SWAP",
		BlockNumber:    block,
		VolumeUSD:      volume,
		Status:         "confirmed",
	})
	require.NoError(t, err)
	return item
}

func eventIDs(events []Event) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.EventID
	}
	return ids
}

func TestAccountEventsSortsNewestFirst(t *testing.T) {
	// Pages arrive in event-id order; the caller wants block order.
	fake := &fakeQuerier{pages: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				eventItem(t, "ev-a", 10, 100),
				eventItem(t, "ev-b", 30, 100),
			},
			LastEvaluatedKey: map[string]types.AttributeValue{
				"event_id": &types.AttributeValueMemberS{Value: "ev-b"},
			},
		},
		{
			Items: []map[string]types.AttributeValue{
				eventItem(t, "ev-c", 20, 100),
				eventItem(t, "ev-d", 30, 100),
			},
		},
	}}

	events, err := AccountEvents(context.Background(), fake, "tx_events", "acct1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-b", "ev-d", "ev-c", "ev-a"}, eventIDs(events))

	// Every page is drained; the sort cannot happen server-side.
	require.Len(t, fake.inputs, 2)
	assert.Nil(t, fake.inputs[0].IndexName)
	assert.NotNil(t, fake.inputs[1].ExclusiveStartKey)
}

func TestAccountEventsLimit(t *testing.T) {
	fake := &fakeQuerier{pages: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				eventItem(t, "ev-a", 10, 100),
				eventItem(t, "ev-b", 30, 100),
				eventItem(t, "ev-c", 20, 100),
			},
		},
	}}

	events, err := AccountEvents(context.Background(), fake, "tx_events", "acct1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-b", "ev-c"}, eventIDs(events))
}

func TestHighVolumeEventsStopsAtLimit(t *testing.T) {
	fake := &fakeQuerier{pages: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				eventItem(t, "ev-big", 10, 450_000),
				eventItem(t, "ev-mid", 11, 300_000),
				eventItem(t, "ev-low", 12, 150_000),
			},
			LastEvaluatedKey: map[string]types.AttributeValue{
				"event_id": &types.AttributeValueMemberS{Value: "ev-low"},
			},
		},
		{
			Items: []map[string]types.AttributeValue{eventItem(t, "ev-tail", 13, 120_000)},
		},
	}}

	events, err := HighVolumeEvents(context.Background(), fake, "tx_events", VolumeIndexName, "SWAP", 100_000, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-big", "ev-mid"}, eventIDs(events))

	// Enough rows arrived on the first page, so the second is never fetched.
	require.Len(t, fake.inputs, 1)
	assert.Equal(t, VolumeIndexName, aws.ToString(fake.inputs[0].IndexName))
	require.NotNil(t, fake.inputs[0].ScanIndexForward)
	assert.False(t, *fake.inputs[0].ScanIndexForward)
}

func TestUnionDedupes(t *testing.T) {
	ev := func(id string, block int64) Event {
		return Event{EventID: id, BlockNumber: block}
	}
	accountSide := []Event{ev("b", 10), ev("a", 10), ev("c", 5)}
	volumeSide := []Event{ev("b", 10), ev("d", 20)}

	got := Union(accountSide, volumeSide, 0)
	assert.Equal(t, []string{"d", "a", "b", "c"}, eventIDs(got))

	got = Union(accountSide, volumeSide, 2)
	assert.Equal(t, []string{"d", "a"}, eventIDs(got))

	assert.Empty(t, Union(nil, nil, 10))
}
