package main

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/jacentio/embedding/embedding"
	"github.com/jacentio/embedding/internal/config"
	"github.com/jacentio/embedding/memstore"
	"github.com/jacentio/embedding/sqlstore"
	"github.com/jacentio/embedding/store"
)

// backend is an opened persistence engine.
type backend struct {
	engine embedding.Engine
	// createTables creates the storage of every registered type.
	createTables func(ctx context.Context, reg *embedding.Registry) error
	close        func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func openBackend(ctx context.Context, a *app) (*backend, error) {
	cfg := a.cfg
	switch cfg.Backend {
	case config.BackendMemory:
		return &backend{
			engine:       memstore.New(),
			createTables: func(context.Context, *embedding.Registry) error { return nil },
		}, nil

	case config.BackendSQLite:
		db, err := sqlstore.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return sqlBackend(db)

	case config.BackendPostgres:
		var (
			db  *bun.DB
			err error
		)
		if cfg.Postgres.Driver == "pgdriver" {
			db, err = sqlstore.OpenPostgresDriver(ctx, cfg.Postgres.DSN)
		} else {
			db, err = sqlstore.OpenPostgres(ctx, cfg.Postgres.DSN, a.logger)
		}
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.LogQuery {
			sqlstore.LogQueries(db, a.logger)
		}
		return sqlBackend(db)

	case config.BackendDynamoDB:
		client, err := cfg.DynamoDB.NewDynamoDBClient(ctx)
		if err != nil {
			return nil, err
		}
		storeCfg := cfg.Store()
		return &backend{
			engine: store.New(client, storeCfg),
			createTables: func(ctx context.Context, reg *embedding.Registry) error {
				return store.CreateTables(ctx, client, reg, storeCfg)
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func sqlBackend(db *bun.DB) (*backend, error) {
	s := sqlstore.New(db)
	return &backend{
		engine:       s,
		createTables: s.CreateTables,
		close:        db.Close,
	}, nil
}
