// Package store implements an embedding.Engine over DynamoDB.
//
// Parent rows live in one table per entity type and child rows in one table
// per relation, all keyed by "id". A relationship table indexes children by
// parent so a relation can be read or deleted without scanning.
//
// # Key Features
//
//   - Every cascade runs as one TransactWriteItems call
//   - Parent validation on child insert (atomic condition check)
//   - Child updates and deletes are scoped by the foreign key
//   - Expiring parents via TTL, with children swept from the table stream
//   - Optimistic versioning on every update
//   - Configurable write sharding for the relationship table
//
// # Relationship Records
//
// Each child has one record in the relationship table:
//
//	pk          <parent type>#<parent id>#<shard>
//	child_ref   <relation>#<child id>
//	child_table physical child table
//	child_key   primary key of the child row
//
// Child identifiers are time-ordered UUIDs, so reading a relation in
// child_ref order returns children in insertion order.
//
// # Configuration
//
// Use [DefaultConfig] for small datasets (NumShards=1, single queries).
// Increase NumShards for higher throughput:
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16 // 16,000 writes/sec per parent
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - row doesn't exist or is expired
//   - [ErrParentNotFound] - parent validation failed
//   - [ErrAlreadyExists] - row with ID already exists
//   - [ErrConcurrentModification] - row changed while the transaction ran
//   - [ErrTransactionTooLarge] - cascade needs more than 100 writes
package store
