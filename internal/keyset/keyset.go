// Package keyset collects the primary keys of a table by scanning it, and
// moves those keys through JSON files so expensive scans run once. The bench
// tools replay reads against a collected key set; the purge tool deletes one.
package keyset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"ddb-loadgen/internal/harness"
	"ddb-loadgen/internal/store"
)

// ScanAPI is the slice of the DynamoDB client the collector needs.
type ScanAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Collect scans the whole table, following the continuation token page by
// page, and returns unique key maps in first-encounter order. The scan
// projects only the key attributes. maxKeys caps the result (0 = no cap).
func Collect(ctx context.Context, client ScanAPI, table string, attrs store.KeyAttrs, maxKeys int, logger *zap.Logger) ([]harness.Record, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	names := []expression.NameBuilder{expression.Name(attrs.PartitionKey)}
	if attrs.SortKey != "" {
		names = append(names, expression.Name(attrs.SortKey))
	}
	proj := expression.NamesList(names[0], names[1:]...)
	expr, err := expression.NewBuilder().WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("build projection: %w", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                aws.String(table),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
	}

	seen := make(map[string]struct{})
	var keys []harness.Record
	pages := 0

	for {
		out, err := client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		pages++

		for _, item := range out.Items {
			fp := fingerprint(item, attrs)
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			keys = append(keys, item)
			if maxKeys > 0 && len(keys) >= maxKeys {
				logger.Info("key collection capped",
					zap.Int("keys", len(keys)),
					zap.Int("pages", pages))
				return keys, nil
			}
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	logger.Info("key collection complete",
		zap.Int("keys", len(keys)),
		zap.Int("pages", pages))
	return keys, nil
}

// fingerprint flattens a key map to a comparable string. Key attributes are
// strings or numbers, both carried as strings on the wire.
func fingerprint(item harness.Record, attrs store.KeyAttrs) string {
	fp := rawValue(item[attrs.PartitionKey])
	if attrs.SortKey != "" {
		fp += "|" + rawValue(item[attrs.SortKey])
	}
	return fp
}

func rawValue(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "s:" + v.Value
	case *types.AttributeValueMemberN:
		return "n:" + v.Value
	case *types.AttributeValueMemberB:
		return "b:" + string(v.Value)
	default:
		return ""
	}
}

// Save writes the keys to path as a JSON array of plain objects, the same
// shape a scan of the table would print.
func Save(path string, keys []harness.Record) error {
	plain := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		var m map[string]any
		if err := attributevalue.UnmarshalMap(key, &m); err != nil {
			return fmt.Errorf("decode key: %w", err)
		}
		plain = append(plain, m)
	}

	data, err := json.MarshalIndent(plain, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keys: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write keys: %w", err)
	}
	return nil
}

// Slice adapts an in-memory key list to the pool's generator contract, so
// batch deletes and read-backs run through the same submission engine as
// writes. Offsets index into the list.
type Slice []harness.Record

func (s Slice) Batch(offset, size int) []harness.Record {
	if offset >= len(s) {
		return nil
	}
	if offset+size > len(s) {
		size = len(s) - offset
	}
	return s[offset : offset+size]
}

// Load reads a key file written by Save back into key maps.
func Load(path string) ([]harness.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}

	var plain []map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("parse keys: %w", err)
	}

	keys := make([]harness.Record, 0, len(plain))
	for _, m := range plain {
		key, err := attributevalue.MarshalMap(m)
		if err != nil {
			return nil, fmt.Errorf("encode key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
