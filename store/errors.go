package store

import (
	"errors"

	"github.com/jacentio/embedding/embedding"
)

var (
	// ErrNotFound is returned when a row doesn't exist or is expired (has TTL <= now).
	ErrNotFound = embedding.ErrNotFound

	// ErrParentNotFound is returned when a child is written under a missing or expired parent.
	ErrParentNotFound = errors.New("store: parent entity not found")

	// ErrAlreadyExists is returned when an insert collides with an existing ID.
	ErrAlreadyExists = errors.New("store: entity already exists")

	// ErrConcurrentModification is returned when a row changed or vanished while
	// the transaction was in flight.
	ErrConcurrentModification = errors.New("store: entity was modified concurrently")

	// ErrTransactionTooLarge is returned when a cascade needs more writes than
	// one TransactWriteItems call accepts.
	ErrTransactionTooLarge = errors.New("store: transaction exceeds 100 items")

	// ErrReservedAttribute is returned when an entity attribute is named like
	// one of the attributes the store manages (id, version, ttl, ...).
	ErrReservedAttribute = errors.New("store: attribute name is reserved")

	// ErrTxDone is returned when using a committed or rolled back transaction.
	ErrTxDone = errors.New("store: transaction already finished")
)
