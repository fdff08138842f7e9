package harness

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// BatchWriteAPI is the slice of the DynamoDB client the write and delete
// submitters need.
type BatchWriteAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// BatchGetAPI is the slice of the DynamoDB client the read submitter needs.
type BatchGetAPI interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// WriteSubmitter sends each batch as BatchWriteItem put requests. The
// remainder is whatever comes back in UnprocessedItems.
type WriteSubmitter struct {
	Client BatchWriteAPI
	Table  string
}

func (s *WriteSubmitter) Submit(ctx context.Context, records []Record) ([]Record, error) {
	requests := make([]types.WriteRequest, 0, len(records))
	for _, rec := range records {
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: rec},
		})
	}

	out, err := s.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.Table: requests},
	})
	if err != nil {
		return nil, err
	}
	return unprocessedRecords(out.UnprocessedItems[s.Table]), nil
}

// DeleteSubmitter sends each batch of key maps as BatchWriteItem delete
// requests.
type DeleteSubmitter struct {
	Client BatchWriteAPI
	Table  string
}

func (s *DeleteSubmitter) Submit(ctx context.Context, records []Record) ([]Record, error) {
	requests := make([]types.WriteRequest, 0, len(records))
	for _, key := range records {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: key},
		})
	}

	out, err := s.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.Table: requests},
	})
	if err != nil {
		return nil, err
	}
	return unprocessedRecords(out.UnprocessedItems[s.Table]), nil
}

func unprocessedRecords(requests []types.WriteRequest) []Record {
	if len(requests) == 0 {
		return nil
	}
	remainder := make([]Record, 0, len(requests))
	for _, wr := range requests {
		switch {
		case wr.PutRequest != nil:
			remainder = append(remainder, wr.PutRequest.Item)
		case wr.DeleteRequest != nil:
			remainder = append(remainder, wr.DeleteRequest.Key)
		}
	}
	return remainder
}

// GetSubmitter reads batches of keys with BatchGetItem. The remainder is
// whatever comes back in UnprocessedKeys. Fetched items are handed to OnItem
// when set; OnItem runs on whichever worker submitted the batch, so the
// callback provides its own locking.
type GetSubmitter struct {
	Client         BatchGetAPI
	Table          string
	ConsistentRead bool
	OnItem         func(Record)
}

func (s *GetSubmitter) Submit(ctx context.Context, records []Record) ([]Record, error) {
	attrs := types.KeysAndAttributes{Keys: records}
	if s.ConsistentRead {
		attrs.ConsistentRead = aws.Bool(true)
	}

	out, err := s.Client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{s.Table: attrs},
	})
	if err != nil {
		return nil, err
	}

	if s.OnItem != nil {
		for _, item := range out.Responses[s.Table] {
			s.OnItem(item)
		}
	}

	unprocessed, ok := out.UnprocessedKeys[s.Table]
	if !ok || len(unprocessed.Keys) == 0 {
		return nil, nil
	}
	return unprocessed.Keys, nil
}
