package store

import "github.com/jacentio/embedding/internal/shard"

// Config holds configuration for the Store.
type Config struct {
	// TablePrefix is prepended to every parent and child table name
	// (e.g., "prod_" stores invoices in "prod_invoices").
	// Default: "" (no prefix)
	TablePrefix string

	// RelationshipTable is the name of the relationship table.
	// Default: "embedding_relationships"
	RelationshipTable string

	// NumShards is the number of shards for the relationship table.
	// Higher values increase write throughput but require more parallel queries.
	// Default: 1 (no sharding, single query)
	// Max: 256
	//
	// Per-shard limits:
	//   - Writes: 1,000/sec
	//   - Reads: 3,000/sec
	//
	// Examples:
	//   - NumShards=1:   1,000 writes/sec,   3,000 reads/sec per parent
	//   - NumShards=16:  16,000 writes/sec,  48,000 reads/sec per parent
	//   - NumShards=256: 256,000 writes/sec, 768,000 reads/sec per parent
	NumShards int
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		RelationshipTable: "embedding_relationships",
		NumShards:         1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RelationshipTable == "" {
		c.RelationshipTable = "embedding_relationships"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > shard.MaxShards {
		c.NumShards = shard.MaxShards
	}
}

// TableName returns the physical name of a declared table.
func (c Config) TableName(table string) string {
	return c.TablePrefix + table
}
