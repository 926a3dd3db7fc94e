package embedding

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Attributes maps field names to values.
type Attributes map[string]any

// Clone returns a copy of the attributes. Nested maps and slices are copied too.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Attributes(t).Clone())
	case Attributes:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Float returns a numeric attribute as float64.
func (a Attributes) Float(name string) (float64, bool) {
	switch v := a[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// String returns a string attribute.
func (a Attributes) String(name string) (string, bool) {
	s, ok := a[name].(string)
	return s, ok
}

// sameValue compares attribute values, treating numbers of different Go
// types as equal when they hold the same value.
func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	fa, okA := Attributes{"v": a}.Float("v")
	fb, okB := Attributes{"v": b}.Float("v")
	_, strA := a.(string)
	_, strB := b.(string)
	return okA && okB && !strA && !strB && fa == fb
}

// Row is a persisted record as exchanged with an Engine.
type Row struct {
	ID       string
	ParentID string
	Attrs    Attributes
}

// Child is one record of an embedded relation.
type Child struct {
	// ID is empty until the child is persisted.
	ID string

	// ParentID is the foreign key; empty while the parent is unpersisted.
	ParentID string

	Attrs Attributes

	marked bool
	dirty  bool
}

// MarkedForDestruction reports whether the child is deleted on the next persist.
func (c *Child) MarkedForDestruction() bool { return c.marked }

// Dirty reports whether the child has changes not yet written.
func (c *Child) Dirty() bool { return c.dirty }

// Persisted reports whether the child has a stored row.
func (c *Child) Persisted() bool { return c.ID != "" }

// Get returns a child attribute.
func (c *Child) Get(name string) any { return c.Attrs[name] }

func (c *Child) clone() *Child {
	return &Child{
		ID:       c.ID,
		ParentID: c.ParentID,
		Attrs:    c.Attrs.Clone(),
		marked:   c.marked,
		dirty:    c.dirty,
	}
}

func childFromRow(row Row) *Child {
	return &Child{ID: row.ID, ParentID: row.ParentID, Attrs: row.Attrs.Clone()}
}

// collection is the raw child set of one relation on one entity.
type collection struct {
	children []*Child
	loaded   bool
}

// Entity is a parent record with its embedded child collections.
// An Entity must not be shared between goroutines without external locking.
type Entity struct {
	typ       *Type
	id        string
	attrs     Attributes
	dirty     bool
	destroyed bool
	relations map[string]*collection
	engine    Engine
}

func newEntity(typ *Type, engine Engine) *Entity {
	e := &Entity{
		typ:       typ,
		attrs:     Attributes{},
		relations: make(map[string]*collection, len(typ.relations)),
		engine:    engine,
	}
	for _, rel := range typ.relations {
		// Nothing to load for an unpersisted parent.
		e.relations[rel.name] = &collection{loaded: true}
	}
	return e
}

// Type returns the entity type.
func (e *Entity) Type() *Type { return e.typ }

// ID returns the identifier, empty until persisted.
func (e *Entity) ID() string { return e.id }

// Ref returns the type-qualified reference (e.g., "invoice#<id>").
func (e *Entity) Ref() string { return EntityRef(e.typ.name, e.id) }

// Persisted reports whether the entity has a stored row.
func (e *Entity) Persisted() bool { return e.id != "" }

// Dirty reports whether plain attributes changed since the last persist.
func (e *Entity) Dirty() bool { return e.dirty }

// Destroyed reports whether the entity was destroyed.
func (e *Entity) Destroyed() bool { return e.destroyed }

// Get returns a plain attribute.
func (e *Entity) Get(name string) any { return e.attrs[name] }

// Attributes returns a copy of the plain attributes.
func (e *Entity) Attributes() Attributes { return e.attrs.Clone() }

// EntityRef builds a type-qualified reference.
func EntityRef(entityType, id string) string {
	return entityType + "#" + id
}

// normalizeID converts a payload identifier to its string form.
func normalizeID(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case json.Number:
		return t.String(), nil
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), nil
		}
	}
	return "", fmt.Errorf("unsupported identifier %v (%T)", v, v)
}

// truthy interprets a destroy flag the way form and JSON payloads send it.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch t {
		case "1", "true", "t", "TRUE", "True":
			return true
		}
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	return false
}
