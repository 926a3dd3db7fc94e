package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Framework is the generic attribute assignment primitive the Reconciler
// delegates to after rewriting a payload. It owns field allow-listing and
// identifier-based matching of nested child attributes.
type Framework interface {
	AssignAttributes(ctx context.Context, e *Entity, payload Attributes) error
}

// DefaultFramework matches nested entries by identifier: an entry with an id
// updates the matching child, an entry without one builds a new child, and a
// matched entry carrying the destroy flag marks its child for destruction.
//
// The assigned collection follows entry order. Children staged by a previous
// assignment and never persisted are replaced, so assigning the same payload
// twice yields the same staged state.
type DefaultFramework struct {
	config Config
	logger *slog.Logger
}

// NewFramework creates the default nested attribute primitive.
func NewFramework(cfg Config, logger *slog.Logger) *DefaultFramework {
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFramework{config: cfg, logger: logger}
}

// AssignAttributes validates the whole payload before changing the entity.
func (f *DefaultFramework) AssignAttributes(ctx context.Context, e *Entity, payload Attributes) error {
	if e.destroyed {
		return ErrDestroyed
	}

	attrs := e.attrs.Clone()
	if attrs == nil {
		attrs = Attributes{}
	}
	changed := false
	staged := make(map[string][]*Child)

	// Sorted for deterministic error reporting.
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := payload[key]
		if rel, ok := e.typ.relationForNestedKey(key); ok {
			entries, err := childEntries(e.typ, rel, value)
			if err != nil {
				return err
			}
			children, err := f.assignCollection(ctx, e, rel, entries)
			if err != nil {
				return err
			}
			staged[rel.name] = children
			continue
		}
		if key == f.config.IDField || !e.typ.HasField(key) {
			if err := f.reject(e.typ.name, "", key); err != nil {
				return err
			}
			continue
		}
		if old, ok := attrs[key]; !ok || !sameValue(old, value) {
			attrs[key] = cloneValue(value)
			changed = true
		}
	}

	e.attrs = attrs
	e.dirty = e.dirty || changed
	for name, children := range staged {
		e.relations[name] = &collection{children: children, loaded: true}
	}
	return nil
}

// reject drops or refuses an attribute that is not allow-listed.
func (f *DefaultFramework) reject(typ, relation, field string) error {
	if f.config.StrictAssignment {
		return &ValidationError{Type: typ, Relation: relation, Field: field, Reason: "attribute is not assignable"}
	}
	f.logger.Debug("dropping unassignable attribute",
		"type", typ,
		"relation", relation,
		"field", field,
	)
	return nil
}

func (f *DefaultFramework) assignCollection(ctx context.Context, e *Entity, rel *Relation, entries []Attributes) ([]*Child, error) {
	coll, err := e.collection(ctx, rel)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]*Child, len(coll.children))
	for _, c := range coll.children {
		if c.ID != "" {
			existing[c.ID] = c
		}
	}

	out := make([]*Child, 0, len(entries))
	position := make(map[string]int, len(entries))
	for _, entry := range entries {
		id, err := normalizeID(entry[f.config.IDField])
		if err != nil {
			return nil, &ValidationError{Type: e.typ.name, Relation: rel.name, Field: f.config.IDField, Reason: err.Error()}
		}
		destroy := truthy(entry[f.config.DestroyField])

		attrs := make(Attributes, len(entry))
		for k, v := range entry {
			if k == f.config.IDField || k == f.config.DestroyField {
				continue
			}
			if k == rel.foreignKey || !rel.acceptsField(k) {
				if err := f.reject(e.typ.name, rel.name, k); err != nil {
					return nil, err
				}
				continue
			}
			attrs[k] = cloneValue(v)
		}

		if id == "" {
			if destroy {
				continue
			}
			out = append(out, &Child{ParentID: e.id, Attrs: attrs, dirty: true})
			continue
		}

		cur, ok := existing[id]
		if !ok {
			return nil, &ValidationError{Type: e.typ.name, Relation: rel.name, ID: id, Reason: "no such child"}
		}
		next := cur.clone()
		for k, v := range attrs {
			if old, ok := next.Attrs[k]; !ok || !sameValue(old, v) {
				if next.Attrs == nil {
					next.Attrs = Attributes{}
				}
				next.Attrs[k] = v
				next.dirty = true
			}
		}
		next.marked = destroy

		// Later entries win: drop the earlier occurrence.
		if i, dup := position[id]; dup {
			out[i] = nil
		}
		position[id] = len(out)
		out = append(out, next)
	}

	// Persisted children not named by any entry stay as they were.
	for _, c := range coll.children {
		if c.ID == "" {
			continue
		}
		if _, named := position[c.ID]; !named {
			out = append(out, c)
		}
	}

	compacted := out[:0]
	for _, c := range out {
		if c != nil {
			compacted = append(compacted, c)
		}
	}
	return compacted, nil
}

// childEntries validates the shape of a nested child payload.
func childEntries(typ *Type, rel *Relation, value any) ([]Attributes, error) {
	invalid := func(reason string) error {
		return &ValidationError{Type: typ.name, Relation: rel.name, Reason: reason}
	}
	switch v := value.(type) {
	case nil:
		return nil, invalid("child sequence is nil")
	case []Attributes:
		out := make([]Attributes, len(v))
		for i, entry := range v {
			if entry == nil {
				return nil, invalid(fmt.Sprintf("entry %d is nil", i))
			}
			out[i] = entry
		}
		return out, nil
	case []map[string]any:
		out := make([]Attributes, len(v))
		for i, entry := range v {
			if entry == nil {
				return nil, invalid(fmt.Sprintf("entry %d is nil", i))
			}
			out[i] = Attributes(entry)
		}
		return out, nil
	case []any:
		out := make([]Attributes, len(v))
		for i, raw := range v {
			switch entry := raw.(type) {
			case Attributes:
				out[i] = entry
			case map[string]any:
				out[i] = Attributes(entry)
			default:
				return nil, invalid(fmt.Sprintf("entry %d is %T, not an attribute map", i, raw))
			}
			if out[i] == nil {
				return nil, invalid(fmt.Sprintf("entry %d is nil", i))
			}
		}
		return out, nil
	default:
		return nil, invalid(fmt.Sprintf("expected a sequence of attribute maps, got %T", value))
	}
}
