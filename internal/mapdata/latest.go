package mapdata

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// QueryAPI is the slice of the DynamoDB client the read patterns need.
type QueryAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// LatestQuery walks one partition newest-first and keeps the first row seen
// per group, which under a descending sort is that group's latest version.
// Older duplicates are skipped as they stream past, and the walk stops as
// soon as the sort key drops below the threshold: every row after that point
// is older still.
type LatestQuery struct {
	Client    QueryAPI
	Table     string
	Index     string // "" queries the base table
	Partition string // partition key attribute of the table or index
	SortKey   string // numeric sort key attribute, walked descending
	GroupAttr string // attribute that identifies the group within the partition
	PageSize  int32  // 0 lets the server pick
	Logger    *zap.Logger
}

// Result carries the surviving rows plus walk accounting.
type Result struct {
	Items   []map[string]types.AttributeValue
	Scanned int // rows streamed before the walk ended
	Pages   int
}

// Latest returns the newest row per group within partition, ignoring rows
// whose sort key is below minSort.
func (q *LatestQuery) Latest(ctx context.Context, partition string, minSort int64) (*Result, error) {
	keyCond := expression.Key(q.Partition).Equal(expression.Value(partition))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(q.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}
	if q.PageSize > 0 {
		input.Limit = aws.Int32(q.PageSize)
	}

	logger := q.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	seen := make(map[string]struct{})
	result := &Result{}

	for {
		out, err := q.Client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Table, err)
		}
		result.Pages++

		for _, item := range out.Items {
			result.Scanned++

			if sortVal, ok := numericAttr(item[q.SortKey]); ok && sortVal < minSort {
				logger.Debug("stopping below sort threshold",
					zap.Int64("sort_value", sortVal),
					zap.Int64("min_sort", minSort),
					zap.Int("scanned", result.Scanned))
				return result, nil
			}

			group := stringAttr(item[q.GroupAttr])
			if group == "" {
				continue
			}
			if _, dup := seen[group]; dup {
				continue
			}
			seen[group] = struct{}{}
			result.Items = append(result.Items, item)
		}

		if out.LastEvaluatedKey == nil {
			return result, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func numericAttr(av types.AttributeValue) (int64, bool) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func stringAttr(av types.AttributeValue) string {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return s.Value
}

// Versions returns every row of one partition newest-first, up to limit
// rows. It serves the "show me the history of this element" path next to
// Latest's "show me the current state of everything".
func (q *LatestQuery) Versions(ctx context.Context, partition string, limit int32) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key(q.Partition).Equal(expression.Value(partition))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(q.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := q.Client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Table, err)
		}
		items = append(items, out.Items...)
		if limit > 0 && int32(len(items)) >= limit {
			return items[:limit], nil
		}
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
