package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// AdminAPI is the slice of the DynamoDB client used for table management.
type AdminAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
}

// IndexSpec describes one global secondary index.
type IndexSpec struct {
	Name             string
	PartitionKey     string
	PartitionKeyType types.ScalarAttributeType
	SortKey          string // "" for a partition-only index
	SortKeyType      types.ScalarAttributeType
}

// TableSpec describes the table a tool wants to exist.
type TableSpec struct {
	Name             string
	PartitionKey     string
	PartitionKeyType types.ScalarAttributeType
	SortKey          string // "" for a simple primary key
	SortKeyType      types.ScalarAttributeType
	Indexes          []IndexSpec
}

// KeyAttrs names the table's key attributes, discovered or declared.
type KeyAttrs struct {
	PartitionKey string
	SortKey      string // "" when the table has no sort key
}

// EnsureTable creates the table when it does not exist and waits for it to
// become active. An existing table is used as-is, whatever its schema.
func EnsureTable(ctx context.Context, api AdminAPI, spec TableSpec, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	_, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(spec.Name),
	})
	if err == nil {
		logger.Info("table already exists", zap.String("table", spec.Name))
		return nil
	}

	logger.Info("creating table", zap.String("table", spec.Name))

	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(spec.Name),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(spec.PartitionKey), KeyType: types.KeyTypeHash},
		},
	}
	if spec.SortKey != "" {
		input.KeySchema = append(input.KeySchema, types.KeySchemaElement{
			AttributeName: aws.String(spec.SortKey), KeyType: types.KeyTypeRange,
		})
	}

	// Attribute definitions cover the primary key plus every index key,
	// each attribute declared once.
	defs := map[string]types.ScalarAttributeType{
		spec.PartitionKey: scalarOrS(spec.PartitionKeyType),
	}
	if spec.SortKey != "" {
		defs[spec.SortKey] = scalarOrS(spec.SortKeyType)
	}

	for _, idx := range spec.Indexes {
		keySchema := []types.KeySchemaElement{
			{AttributeName: aws.String(idx.PartitionKey), KeyType: types.KeyTypeHash},
		}
		defs[idx.PartitionKey] = scalarOrS(idx.PartitionKeyType)
		if idx.SortKey != "" {
			keySchema = append(keySchema, types.KeySchemaElement{
				AttributeName: aws.String(idx.SortKey), KeyType: types.KeyTypeRange,
			})
			defs[idx.SortKey] = scalarOrS(idx.SortKeyType)
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  keySchema,
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	for name, attrType := range defs {
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: attrType,
		})
	}

	if _, err := api.CreateTable(ctx, input); err != nil {
		return fmt.Errorf("failed to create table %s: %w", spec.Name, err)
	}

	logger.Info("waiting for table to become active", zap.String("table", spec.Name))
	waiter := dynamodb.NewTableExistsWaiter(api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(spec.Name),
	}, 5*time.Minute); err != nil {
		return fmt.Errorf("failed waiting for table %s to become active: %w", spec.Name, err)
	}

	logger.Info("table ready", zap.String("table", spec.Name))
	return nil
}

// DescribeKeyAttrs reads the table's key schema. Tools that scan or delete
// arbitrary tables use it to build key maps without being told the schema.
func DescribeKeyAttrs(ctx context.Context, api AdminAPI, table string) (KeyAttrs, error) {
	out, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		return KeyAttrs{}, fmt.Errorf("failed to describe table %s: %w", table, err)
	}

	var attrs KeyAttrs
	for _, elem := range out.Table.KeySchema {
		switch elem.KeyType {
		case types.KeyTypeHash:
			attrs.PartitionKey = aws.ToString(elem.AttributeName)
		case types.KeyTypeRange:
			attrs.SortKey = aws.ToString(elem.AttributeName)
		}
	}
	if attrs.PartitionKey == "" {
		return KeyAttrs{}, fmt.Errorf("table %s has no hash key in its schema", table)
	}
	return attrs, nil
}

// DeleteTable drops the table. Callers decide whether a missing table is an
// error.
func DeleteTable(ctx context.Context, api AdminAPI, table string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := api.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(table),
	}); err != nil {
		return fmt.Errorf("failed to delete table %s: %w", table, err)
	}
	logger.Info("table deleted", zap.String("table", table))
	return nil
}

func scalarOrS(t types.ScalarAttributeType) types.ScalarAttributeType {
	if t == "" {
		return types.ScalarAttributeTypeS
	}
	return t
}
