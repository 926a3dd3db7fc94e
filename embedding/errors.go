package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("embedding: invalid attributes")

	// ErrConfiguration is matched by every *ConfigurationError.
	ErrConfiguration = errors.New("embedding: invalid declaration")

	// ErrPersistCascade is matched by every *PersistCascadeError.
	ErrPersistCascade = errors.New("embedding: cascade failed")

	// ErrUnknownType is returned when an entity type was never defined.
	ErrUnknownType = errors.New("embedding: unknown entity type")

	// ErrUnknownRelation is returned when a relation is not declared on the entity type.
	ErrUnknownRelation = errors.New("embedding: unknown relation")

	// ErrNotFound is returned by engines when a parent row doesn't exist.
	ErrNotFound = errors.New("embedding: entity not found")

	// ErrDestroyed is returned when mutating or persisting a destroyed entity.
	ErrDestroyed = errors.New("embedding: entity has been destroyed")
)

// ValidationError reports a malformed payload or an identifier that does not
// belong to the parent. The entity is left untouched when it is returned.
type ValidationError struct {
	Type     string
	Relation string
	Field    string
	ID       string
	Reason   string
}

func (e *ValidationError) Error() string {
	msg := "embedding: " + e.Type
	if e.Relation != "" {
		msg += "." + e.Relation
	}
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.ID != "" {
		msg += ": id " + e.ID
	}
	return msg + ": " + e.Reason
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConfigurationError reports an invalid embedding declaration.
type ConfigurationError struct {
	Type     string
	Relation string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Relation == "" {
		return fmt.Sprintf("embedding: type %q: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("embedding: type %q relation %q: %s", e.Type, e.Relation, e.Reason)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// PersistCascadeError wraps the row operation that aborted a persist or destroy.
type PersistCascadeError struct {
	// Op is the failed operation, e.g. "insert child" or "commit".
	Op    string
	Table string
	ID    string
	Err   error
}

func (e *PersistCascadeError) Error() string {
	switch {
	case e.Table == "":
		return fmt.Sprintf("embedding: %s: %v", e.Op, e.Err)
	case e.ID == "":
		return fmt.Sprintf("embedding: %s %s: %v", e.Op, e.Table, e.Err)
	default:
		return fmt.Sprintf("embedding: %s %s/%s: %v", e.Op, e.Table, e.ID, e.Err)
	}
}

// Is reports whether target is ErrPersistCascade.
func (e *PersistCascadeError) Is(target error) bool {
	return target == ErrPersistCascade
}

func (e *PersistCascadeError) Unwrap() error {
	return e.Err
}
