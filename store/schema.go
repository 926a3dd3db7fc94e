package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/embedding/embedding"
)

// TableDefinitions returns the tables needed by every type in reg: one per
// parent table, one per child table and the relationship table. Parent
// tables carry a stream so the sweeper sees removals and expirations.
func TableDefinitions(reg *embedding.Registry, cfg Config) []*dynamodb.CreateTableInput {
	cfg.validate()

	seen := make(map[string]struct{})
	var defs []*dynamodb.CreateTableInput
	addTable := func(def *dynamodb.CreateTableInput) {
		name := aws.ToString(def.TableName)
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		defs = append(defs, def)
	}

	for _, typ := range reg.Types() {
		parent := idTable(cfg.TableName(typ.Table()))
		parent.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		}
		addTable(parent)
		for _, rel := range typ.Relations() {
			addTable(idTable(cfg.TableName(rel.ChildTable())))
		}
	}

	addTable(&dynamodb.CreateTableInput{
		TableName: aws.String(cfg.RelationshipTable),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("child_ref"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("child_ref"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	return defs
}

func idTable(name string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

// TableCreator is the subset of the DynamoDB API used by CreateTables.
type TableCreator interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// CreateTables creates every table from TableDefinitions. Tables that already
// exist are left alone.
func CreateTables(ctx context.Context, client TableCreator, reg *embedding.Registry, cfg Config) error {
	if err := checkReserved(reg); err != nil {
		return err
	}
	for _, def := range TableDefinitions(reg, cfg) {
		_, err := client.CreateTable(ctx, def)
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create table %s: %w", aws.ToString(def.TableName), err)
		}
	}
	return nil
}
