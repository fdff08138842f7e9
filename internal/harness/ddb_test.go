package harness

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBatchWriter answers BatchWriteItem by leaving the last unprocessed
// requests of each call unprocessed.
type fakeBatchWriter struct {
	inputs      []*dynamodb.BatchWriteItemInput
	unprocessed int
}

func (f *fakeBatchWriter) BatchWriteItem(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.inputs = append(f.inputs, params)

	out := &dynamodb.BatchWriteItemOutput{}
	for table, requests := range params.RequestItems {
		if f.unprocessed <= 0 || f.unprocessed > len(requests) {
			continue
		}
		out.UnprocessedItems = map[string][]types.WriteRequest{
			table: requests[len(requests)-f.unprocessed:],
		}
	}
	f.unprocessed = 0 // only the first call holds anything back
	return out, nil
}

func TestWriteSubmitterRemainder(t *testing.T) {
	fake := &fakeBatchWriter{unprocessed: 4}
	sub := &WriteSubmitter{Client: fake, Table: "load_test"}
	records := testRecords(10)

	remainder, err := sub.Submit(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, remainder, 4)
	// The remainder is the tail of the submitted batch, item for item.
	assert.Equal(t, records[6], remainder[0])
	assert.Equal(t, records[9], remainder[3])

	// All ten went out as put requests against the right table.
	require.Len(t, fake.inputs, 1)
	requests := fake.inputs[0].RequestItems["load_test"]
	require.Len(t, requests, 10)
	for _, wr := range requests {
		require.NotNil(t, wr.PutRequest)
		assert.Nil(t, wr.DeleteRequest)
	}

	remainder, err = sub.Submit(context.Background(), remainder)
	require.NoError(t, err)
	assert.Empty(t, remainder)
}

func TestDeleteSubmitterBuildsDeleteRequests(t *testing.T) {
	fake := &fakeBatchWriter{}
	sub := &DeleteSubmitter{Client: fake, Table: "load_test"}
	keys := testRecords(5)

	remainder, err := sub.Submit(context.Background(), keys)
	require.NoError(t, err)
	assert.Empty(t, remainder)

	requests := fake.inputs[0].RequestItems["load_test"]
	require.Len(t, requests, 5)
	for i, wr := range requests {
		require.NotNil(t, wr.DeleteRequest)
		assert.Nil(t, wr.PutRequest)
		assert.Equal(t, keys[i], wr.DeleteRequest.Key)
	}
}

func TestDeleteSubmitterRemainder(t *testing.T) {
	fake := &fakeBatchWriter{unprocessed: 2}
	sub := &DeleteSubmitter{Client: fake, Table: "load_test"}
	keys := testRecords(6)

	remainder, err := sub.Submit(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, remainder, 2)
	assert.Equal(t, keys[4], remainder[0])
	assert.Equal(t, keys[5], remainder[1])
}

// fakeBatchGetter returns a fixed item per requested key and can hold keys
// back as unprocessed on the first call.
type fakeBatchGetter struct {
	inputs      []*dynamodb.BatchGetItemInput
	unprocessed int
}

func (f *fakeBatchGetter) BatchGetItem(_ context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.inputs = append(f.inputs, params)

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}
	for table, attrs := range params.RequestItems {
		keys := attrs.Keys
		hold := f.unprocessed
		if hold > len(keys) {
			hold = len(keys)
		}
		served := keys[:len(keys)-hold]
		for _, key := range served {
			item := map[string]types.AttributeValue{"fetched": &types.AttributeValueMemberBOOL{Value: true}}
			for k, v := range key {
				item[k] = v
			}
			out.Responses[table] = append(out.Responses[table], item)
		}
		if hold > 0 {
			out.UnprocessedKeys[table] = types.KeysAndAttributes{Keys: keys[len(keys)-hold:]}
		}
	}
	f.unprocessed = 0
	return out, nil
}

func TestGetSubmitterDeliversItems(t *testing.T) {
	fake := &fakeBatchGetter{unprocessed: 3}
	var got []Record
	sub := &GetSubmitter{
		Client:         fake,
		Table:          "load_test",
		ConsistentRead: true,
		OnItem:         func(item Record) { got = append(got, item) },
	}
	keys := testRecords(10)

	remainder, err := sub.Submit(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, remainder, 3)
	assert.Equal(t, keys[7], remainder[0])
	assert.Len(t, got, 7)

	attrs := fake.inputs[0].RequestItems["load_test"]
	require.NotNil(t, attrs.ConsistentRead)
	assert.True(t, *attrs.ConsistentRead)

	// Resubmitting the remainder drains it.
	remainder, err = sub.Submit(context.Background(), remainder)
	require.NoError(t, err)
	assert.Empty(t, remainder)
	assert.Len(t, got, 10)
}

func TestGetSubmitterWithoutCallback(t *testing.T) {
	fake := &fakeBatchGetter{}
	sub := &GetSubmitter{Client: fake, Table: "load_test"}

	remainder, err := sub.Submit(context.Background(), testRecords(4))
	require.NoError(t, err)
	assert.Empty(t, remainder)

	attrs := fake.inputs[0].RequestItems["load_test"]
	assert.Nil(t, attrs.ConsistentRead)
}
