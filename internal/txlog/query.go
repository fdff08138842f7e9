package txlog

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// QueryAPI is the slice of the DynamoDB client the query paths need.
type QueryAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// AccountEvents returns one account's events, newest block first. The sort
// key is the event id, so block ordering happens client-side after all
// pages are in.
func AccountEvents(ctx context.Context, client QueryAPI, table, account string, limit int) ([]Event, error) {
	keyCond := expression.Key("account_address").Equal(expression.Value(account))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var events []Event
	for {
		out, err := client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query account %s: %w", account, err)
		}

		var page []Event
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal events: %w", err)
		}
		events = append(events, page...)

		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sortEvents(events)
	return clip(events, limit), nil
}

// HighVolumeEvents walks the volume index for one event type, largest trades
// first, keeping events at or above minVolume.
func HighVolumeEvents(ctx context.Context, client QueryAPI, table, index, eventType string, minVolume float64, limit int) ([]Event, error) {
	keyCond := expression.Key("event_type").Equal(expression.Value(eventType)).
		And(expression.Key("volume_usd").GreaterThanEqual(expression.Value(minVolume)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}

	var events []Event
	for {
		out, err := client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query volume index: %w", err)
		}

		var page []Event
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal events: %w", err)
		}
		events = append(events, page...)

		if limit > 0 && len(events) >= limit {
			break
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	return clip(events, limit), nil
}

// Union merges two result sets, dropping duplicate event ids, and returns
// the newest blocks first, at most limit events. Ties within a block break
// on event id so the order is stable.
func Union(a, b []Event, limit int) []Event {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]Event, 0, len(a)+len(b))
	for _, ev := range a {
		if _, dup := seen[ev.EventID]; dup {
			continue
		}
		seen[ev.EventID] = struct{}{}
		merged = append(merged, ev)
	}
	for _, ev := range b {
		if _, dup := seen[ev.EventID]; dup {
			continue
		}
		seen[ev.EventID] = struct{}{}
		merged = append(merged, ev)
	}

	sortEvents(merged)
	return clip(merged, limit)
}

func sortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber > events[j].BlockNumber
		}
		return events[i].EventID < events[j].EventID
	})
}

func clip(events []Event, limit int) []Event {
	if limit > 0 && len(events) > limit {
		return events[:limit]
	}
	return events
}
