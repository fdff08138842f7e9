package mapdata

import (
	"context"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueryAPI returns scripted pages in order. The walk loop mutates its
// input between calls, so the fields under test are copied out per call.
type fakeQueryAPI struct {
	pages  []*dynamodb.QueryOutput
	inputs []dynamodb.QueryInput
}

func (f *fakeQueryAPI) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	call := len(f.inputs)
	f.inputs = append(f.inputs, dynamodb.QueryInput{
		TableName:         params.TableName,
		IndexName:         params.IndexName,
		ScanIndexForward:  params.ScanIndexForward,
		ExclusiveStartKey: params.ExclusiveStartKey,
		Limit:             params.Limit,
	})
	if call >= len(f.pages) {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.pages[call], nil
}

func versionRow(group string, version int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ele_id":  &types.AttributeValueMemberS{Value: group},
		"version": &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
	}
}

func elementQuery(client QueryAPI) *LatestQuery {
	return &LatestQuery{
		Client:    client,
		Table:     "map_elements",
		Index:     ElementIndexName,
		Partition: "block_id",
		SortKey:   "version",
		GroupAttr: "ele_id",
	}
}

func TestLatestKeepsFirstRowPerGroup(t *testing.T) {
	continuation := versionRow("e2", 3)
	fake := &fakeQueryAPI{pages: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				versionRow("e1", 5),
				versionRow("e1", 4),
				versionRow("e2", 3),
			},
			LastEvaluatedKey: continuation,
		},
		{
			Items: []map[string]types.AttributeValue{
				versionRow("e2", 2),
				{"version": &types.AttributeValueMemberN{Value: "2"}}, // no group attr
				versionRow("e3", 1),
			},
		},
	}}

	result, err := elementQuery(fake).Latest(context.Background(), "downtown_block_1", 0)
	require.NoError(t, err)

	// One row per element, each at its highest version.
	require.Len(t, result.Items, 3)
	assert.Equal(t, versionRow("e1", 5), result.Items[0])
	assert.Equal(t, versionRow("e2", 3), result.Items[1])
	assert.Equal(t, versionRow("e3", 1), result.Items[2])
	assert.Equal(t, 6, result.Scanned)
	assert.Equal(t, 2, result.Pages)

	// The walk is a descending index query that resumes at the server's
	// continuation point.
	require.Len(t, fake.inputs, 2)
	first := fake.inputs[0]
	assert.Equal(t, ElementIndexName, aws.ToString(first.IndexName))
	require.NotNil(t, first.ScanIndexForward)
	assert.False(t, *first.ScanIndexForward)
	assert.Nil(t, first.ExclusiveStartKey)
	assert.Equal(t, continuation, fake.inputs[1].ExclusiveStartKey)
}

func TestLatestStopsBelowThreshold(t *testing.T) {
	fake := &fakeQueryAPI{pages: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				versionRow("e1", 100),
				versionRow("e2", 90),
				versionRow("e3", 40), // below the threshold: the walk ends here
				versionRow("e4", 30),
			},
			LastEvaluatedKey: versionRow("e4", 30),
		},
		{
			Items: []map[string]types.AttributeValue{versionRow("e5", 20)},
		},
	}}

	result, err := elementQuery(fake).Latest(context.Background(), "downtown_block_1", 50)
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	assert.Equal(t, versionRow("e1", 100), result.Items[0])
	assert.Equal(t, versionRow("e2", 90), result.Items[1])
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Pages)

	// The page after the cutoff is never requested.
	assert.Len(t, fake.inputs, 1)
}

func TestLatestPageSize(t *testing.T) {
	fake := &fakeQueryAPI{pages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{versionRow("e1", 1)}},
	}}

	q := elementQuery(fake)
	q.PageSize = 250
	_, err := q.Latest(context.Background(), "downtown_block_1", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(250), aws.ToInt32(fake.inputs[0].Limit))
}

func TestLatestEmptyPartition(t *testing.T) {
	fake := &fakeQueryAPI{pages: []*dynamodb.QueryOutput{{}}}

	result, err := elementQuery(fake).Latest(context.Background(), "harbor_block_1", 0)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 1, result.Pages)
}

func TestVersionsLimit(t *testing.T) {
	fake := &fakeQueryAPI{pages: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				versionRow("e1", 6), versionRow("e1", 5), versionRow("e1", 4),
			},
			LastEvaluatedKey: versionRow("e1", 4),
		},
		{
			Items: []map[string]types.AttributeValue{
				versionRow("e1", 3), versionRow("e1", 2), versionRow("e1", 1),
			},
		},
	}}

	q := &LatestQuery{
		Client:    fake,
		Table:     "map_elements",
		Partition: "ele_id",
		SortKey:   "version",
	}
	items, err := q.Versions(context.Background(), "e1", 4)
	require.NoError(t, err)

	require.Len(t, items, 4)
	assert.Equal(t, versionRow("e1", 6), items[0])
	assert.Equal(t, versionRow("e1", 3), items[3])

	// Base-table query, newest first, limit pushed down to the server.
	first := fake.inputs[0]
	assert.Nil(t, first.IndexName)
	require.NotNil(t, first.ScanIndexForward)
	assert.False(t, *first.ScanIndexForward)
	assert.Equal(t, int32(4), aws.ToInt32(first.Limit))
}

func TestVersionsNoLimitDrainsAllPages(t *testing.T) {
	fake := &fakeQueryAPI{pages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{versionRow("e1", 2)},
			LastEvaluatedKey: versionRow("e1", 2),
		},
		{
			Items: []map[string]types.AttributeValue{versionRow("e1", 1)},
		},
	}}

	q := &LatestQuery{Client: fake, Table: "map_elements", Partition: "ele_id", SortKey: "version"}
	items, err := q.Versions(context.Background(), "e1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Len(t, fake.inputs, 2)
	assert.Nil(t, fake.inputs[0].Limit)
}
