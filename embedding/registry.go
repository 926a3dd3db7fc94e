package embedding

import (
	"sync"
)

// NestedSuffix is appended to a relation name to form the key consumed by
// the nested attribute primitive (e.g. "items" -> "items_attributes").
const NestedSuffix = "_attributes"

// Schema describes an entity type's own row.
type Schema struct {
	// Type is the entity type name (e.g., "invoice").
	Type string

	// Table is the parent table name. Default: Type.
	Table string

	// Fields lists the plain attributes accepted by mass assignment.
	Fields []string
}

// RelationOptions are the fixed options of an embedded relation.
type RelationOptions struct {
	CascadeDelete           bool
	Autosave                bool
	AcceptsNestedAttributes bool
	AllowDestroy            bool
}

// Relation is an embedded has-many relation of an entity type.
// It is immutable once its type is defined.
type Relation struct {
	owner      string
	ownerTable string
	name       string
	childTable string
	foreignKey string
	fields     []string
	fieldSet   map[string]struct{}
	eager      bool
	existing   bool
}

// OwnerTable returns the parent table of the owning type.
func (r *Relation) OwnerTable() string { return r.ownerTable }

// Name returns the relation name (e.g., "items").
func (r *Relation) Name() string { return r.name }

// Owner returns the parent entity type name.
func (r *Relation) Owner() string { return r.owner }

// ChildTable returns the table holding the child rows.
func (r *Relation) ChildTable() string { return r.childTable }

// ForeignKey returns the child attribute referencing the parent (e.g., "invoice_id").
func (r *Relation) ForeignKey() string { return r.foreignKey }

// NestedKey returns the payload key understood by the nested attribute primitive.
func (r *Relation) NestedKey() string { return r.name + NestedSuffix }

// Eager reports whether children are loaded together with the parent.
func (r *Relation) Eager() bool { return r.eager }

// Options returns the fixed embedding options.
func (r *Relation) Options() RelationOptions {
	return RelationOptions{
		CascadeDelete:           true,
		Autosave:                true,
		AcceptsNestedAttributes: true,
		AllowDestroy:            true,
	}
}

// Fields returns the declared child fields. Empty means any field is accepted.
func (r *Relation) Fields() []string {
	return append([]string(nil), r.fields...)
}

// acceptsField reports whether a child attribute may be mass assigned.
func (r *Relation) acceptsField(name string) bool {
	if len(r.fieldSet) == 0 {
		return true
	}
	_, ok := r.fieldSet[name]
	return ok
}

// RelationOption customizes a relation declaration.
type RelationOption func(*Relation)

// ChildTable overrides the child table name. Default: the relation name.
func ChildTable(table string) RelationOption {
	return func(r *Relation) { r.childTable = table }
}

// ForeignKey overrides the foreign key attribute. Default: "<type>_id".
func ForeignKey(attr string) RelationOption {
	return func(r *Relation) { r.foreignKey = attr }
}

// ChildFields restricts mass assignment on children to the listed fields.
func ChildFields(fields ...string) RelationOption {
	return func(r *Relation) { r.fields = append(r.fields, fields...) }
}

// Eager loads the relation together with its parent.
func Eager() RelationOption {
	return func(r *Relation) { r.eager = true }
}

// Existing embeds a has-many relation whose child table already exists
// under its own name. The child table must be given explicitly.
func Existing() RelationOption {
	return func(r *Relation) { r.existing = true }
}

// RelationSpec is one embedded relation declaration passed to Define.
type RelationSpec struct {
	name string
	opts []RelationOption
}

// EmbedsMany declares an embedded child collection.
func EmbedsMany(name string, opts ...RelationOption) RelationSpec {
	return RelationSpec{name: name, opts: opts}
}

// Type is a defined entity type with its embedded relations.
type Type struct {
	name      string
	table     string
	fields    []string
	fieldSet  map[string]struct{}
	relations []*Relation
	byName    map[string]*Relation
	byNested  map[string]*Relation
}

// Name returns the entity type name.
func (t *Type) Name() string { return t.name }

// Table returns the parent table name.
func (t *Type) Table() string { return t.table }

// Fields returns the plain attribute names.
func (t *Type) Fields() []string {
	return append([]string(nil), t.fields...)
}

// HasField reports whether name is a plain attribute of the type.
func (t *Type) HasField(name string) bool {
	_, ok := t.fieldSet[name]
	return ok
}

// Relations returns the embedded relations in declaration order.
func (t *Type) Relations() []*Relation {
	return append([]*Relation(nil), t.relations...)
}

// Relation returns the embedded relation with the given name.
func (t *Type) Relation(name string) (*Relation, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// relationForNestedKey maps "items_attributes" back to the "items" relation.
func (t *Type) relationForNestedKey(key string) (*Relation, bool) {
	r, ok := t.byNested[key]
	return r, ok
}

// Registry holds the defined entity types and their embedded relations.
// Types are immutable once defined; the registry is safe for concurrent reads.
type Registry struct {
	mu     sync.RWMutex
	types  []*Type
	byName map[string]*Type
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types:  []*Type{},
		byName: make(map[string]*Type),
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by MustDefine.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// MustDefine defines a type on the default registry and panics on error.
// This should be called during init() or from a package-level var.
func MustDefine(schema Schema, relations ...RelationSpec) *Type {
	t, err := defaultRegistry.Define(schema, relations...)
	if err != nil {
		panic(err)
	}
	return t
}

// Define builds an entity type, declares each of its embedded relations and
// registers it. Nothing is registered when any declaration fails.
func (r *Registry) Define(schema Schema, relations ...RelationSpec) (*Type, error) {
	if schema.Type == "" {
		return nil, &ConfigurationError{Reason: "entity type name is empty"}
	}
	t := &Type{
		name:     schema.Type,
		table:    schema.Table,
		fields:   append([]string(nil), schema.Fields...),
		fieldSet: make(map[string]struct{}, len(schema.Fields)),
		byName:   make(map[string]*Relation, len(relations)),
		byNested: make(map[string]*Relation, len(relations)),
	}
	if t.table == "" {
		t.table = t.name
	}
	for _, f := range schema.Fields {
		if f == "" {
			return nil, &ConfigurationError{Type: t.name, Reason: "empty field name"}
		}
		t.fieldSet[f] = struct{}{}
	}

	for _, spec := range relations {
		if err := declare(t, spec); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[t.name]; exists {
		return nil, &ConfigurationError{Type: t.name, Reason: "type already defined"}
	}
	r.types = append(r.types, t)
	r.byName[t.name] = t
	return t, nil
}

// declare adds one embedded relation to a type under construction.
func declare(t *Type, spec RelationSpec) error {
	rel := &Relation{
		owner:      t.name,
		ownerTable: t.table,
		name:       spec.name,
	}
	for _, opt := range spec.opts {
		opt(rel)
	}

	switch {
	case rel.name == "":
		return &ConfigurationError{Type: t.name, Reason: "relation name is empty"}
	case t.byName[rel.name] != nil:
		return &ConfigurationError{Type: t.name, Relation: rel.name, Reason: "relation declared twice"}
	case t.HasField(rel.name):
		return &ConfigurationError{Type: t.name, Relation: rel.name, Reason: "relation name collides with a field"}
	case t.HasField(rel.NestedKey()) || t.byName[rel.NestedKey()] != nil:
		return &ConfigurationError{Type: t.name, Relation: rel.name, Reason: "nested key collides with a field"}
	case t.byNested[rel.name] != nil:
		return &ConfigurationError{Type: t.name, Relation: rel.name, Reason: "relation name collides with a nested key"}
	case rel.existing && rel.childTable == "":
		return &ConfigurationError{Type: t.name, Relation: rel.name, Reason: "existing relation needs a child table"}
	}

	if rel.childTable == "" {
		rel.childTable = rel.name
	}
	if rel.foreignKey == "" {
		rel.foreignKey = t.name + "_id"
	}
	if len(rel.fields) > 0 {
		rel.fieldSet = make(map[string]struct{}, len(rel.fields))
		for _, f := range rel.fields {
			rel.fieldSet[f] = struct{}{}
		}
	}

	t.relations = append(t.relations, rel)
	t.byName[rel.name] = rel
	t.byNested[rel.NestedKey()] = rel
	return nil
}

// Type returns the entity type with the given name.
func (r *Registry) Type(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Types returns all defined types in definition order.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Type(nil), r.types...)
}

// RelationsOf returns the ordered embedded relation names of an entity type.
func (r *Registry) RelationsOf(entityType string) []string {
	t, ok := r.Type(entityType)
	if !ok {
		return nil
	}
	names := make([]string, len(t.relations))
	for i, rel := range t.relations {
		names[i] = rel.name
	}
	return names
}

// HasRelations returns true if the entity type embeds any relation.
func (r *Registry) HasRelations(entityType string) bool {
	t, ok := r.Type(entityType)
	return ok && len(t.relations) > 0
}
