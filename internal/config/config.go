// Package config loads the binaries' configuration from EMBED_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jacentio/embedding/embedding"
	"github.com/jacentio/embedding/store"
)

// Backends accepted by Config.Backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Config holds all binary configuration
type Config struct {
	// Backend selects the persistence engine.
	Backend string `env:"BACKEND" envDefault:"memory"`

	SQLite   SQLiteConfig
	Postgres PostgresConfig
	DynamoDB DynamoDBConfig

	// Embedding behaviour
	StrictAssignment   bool `env:"STRICT_ASSIGNMENT" envDefault:"false"`
	RejectDuplicateIDs bool `env:"REJECT_DUPLICATE_IDS" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogColor  string `env:"LOG_COLOR" envDefault:"auto"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `env:"SQLITE_PATH" envDefault:"embedding.db"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	DSN string `env:"POSTGRES_DSN"`
	// Driver is "pgx" (pgx pool) or "pgdriver" (bun's own driver).
	Driver   string `env:"POSTGRES_DRIVER" envDefault:"pgx"`
	LogQuery bool   `env:"POSTGRES_LOG_QUERIES" envDefault:"false"`
}

// DynamoDBConfig holds DynamoDB store settings
type DynamoDBConfig struct {
	Profile           string `env:"AWS_PROFILE"`
	Region            string `env:"AWS_REGION"`
	Endpoint          string `env:"DYNAMODB_ENDPOINT"`
	TablePrefix       string `env:"TABLE_PREFIX"`
	RelationshipTable string `env:"RELATIONSHIP_TABLE" envDefault:"embedding_relationships"`
	NumShards         int    `env:"NUM_SHARDS" envDefault:"1"`
}

// Prefix is prepended to every variable name.
const Prefix = "EMBED_"

// Load reads the .env files that exist, then parses the environment.
// Values already set in the environment win over .env files.
func Load(files ...string) (*Config, error) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return Parse(env.Options{Prefix: Prefix})
}

// Parse parses the configuration with opts. Tests pass Environment to avoid
// touching the process environment.
func Parse(opts env.Options) (*Config, error) {
	if opts.Prefix == "" {
		opts.Prefix = Prefix
	}
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values env can't.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendDynamoDB:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: %sPOSTGRES_DSN is required for the postgres backend", Prefix)
		}
		switch c.Postgres.Driver {
		case "pgx", "pgdriver":
		default:
			return fmt.Errorf("config: unknown postgres driver %q", c.Postgres.Driver)
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	return nil
}

// Embedding returns the session configuration.
func (c *Config) Embedding() embedding.Config {
	cfg := embedding.DefaultConfig()
	cfg.StrictAssignment = c.StrictAssignment
	cfg.RejectDuplicateIDs = c.RejectDuplicateIDs
	return cfg
}

// Store returns the DynamoDB store configuration.
func (c *Config) Store() store.Config {
	cfg := store.DefaultConfig()
	cfg.TablePrefix = c.DynamoDB.TablePrefix
	if c.DynamoDB.RelationshipTable != "" {
		cfg.RelationshipTable = c.DynamoDB.RelationshipTable
	}
	cfg.NumShards = c.DynamoDB.NumShards
	return cfg
}
