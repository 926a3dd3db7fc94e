// Command sweeper is the AWS Lambda function attached to the parent tables'
// DynamoDB streams. It expires and sweeps the embedded children of parents
// that were expired or removed outside of a destroy cascade.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/embedding/embedding"
	"github.com/jacentio/embedding/internal/config"
	"github.com/jacentio/embedding/internal/invoice"
	"github.com/jacentio/embedding/internal/logging"
	"github.com/jacentio/embedding/store"
	"github.com/jacentio/embedding/stream"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	h, err := setup(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}
	lambda.Start(h.HandleCascadeDelete)
}

// setup builds the stream handler over the configured DynamoDB store.
func setup(ctx context.Context, cfg *config.Config) (*stream.Handler, error) {
	// Lambda collects stderr; colors would only add noise.
	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Color:  "never",
	})
	if err != nil {
		return nil, err
	}

	reg := embedding.NewRegistry()
	if _, err := invoice.Define(reg); err != nil {
		return nil, err
	}

	client, err := cfg.DynamoDB.NewDynamoDBClient(ctx)
	if err != nil {
		return nil, err
	}
	storeCfg := cfg.Store()
	logger.Info("sweeper configured",
		"relationship_table", storeCfg.RelationshipTable,
		"table_prefix", storeCfg.TablePrefix,
		"shards", storeCfg.NumShards,
	)

	return stream.NewHandler(store.New(client, storeCfg), reg, logger), nil
}
