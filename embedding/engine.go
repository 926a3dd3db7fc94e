package embedding

import "context"

// Engine is the persistence engine collaborator. Implementations live in the
// store (DynamoDB), sqlstore (bun) and memstore (in-process) packages.
type Engine interface {
	// LoadParent returns the parent row, or an error wrapping ErrNotFound.
	LoadParent(ctx context.Context, typ *Type, id string) (Row, error)

	// LoadChildren returns the persisted children of a relation in insertion order.
	LoadChildren(ctx context.Context, rel *Relation, parentID string) ([]Row, error)

	// ChildIDs returns only the identifiers of the persisted children of a relation.
	ChildIDs(ctx context.Context, rel *Relation, parentID string) ([]string, error)

	// Begin acquires a transactional scope for one cascade.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a transactional scope. Writes become visible only after Commit;
// Rollback discards them and is safe to call after a failed Commit.
type Tx interface {
	// InsertParent stores a new parent row and returns its generated identifier.
	InsertParent(ctx context.Context, typ *Type, attrs Attributes) (string, error)
	UpdateParent(ctx context.Context, typ *Type, id string, attrs Attributes) error
	DeleteParent(ctx context.Context, typ *Type, id string) error

	// InsertChild stores a new child row and returns its generated identifier.
	InsertChild(ctx context.Context, rel *Relation, parentID string, attrs Attributes) (string, error)
	UpdateChild(ctx context.Context, rel *Relation, parentID, id string, attrs Attributes) error
	DeleteChild(ctx context.Context, rel *Relation, parentID, id string) error

	// DeleteChildren removes every child of the relation scoped by parentID.
	DeleteChildren(ctx context.Context, rel *Relation, parentID string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
