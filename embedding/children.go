package embedding

import (
	"context"
	"fmt"
)

// AllChildren returns every child of the relation, including those marked
// for destruction. Persisting code iterates this view.
func (e *Entity) AllChildren(ctx context.Context, relation string) ([]*Child, error) {
	coll, err := e.collectionNamed(ctx, relation)
	if err != nil {
		return nil, err
	}
	return append([]*Child(nil), coll.children...), nil
}

// VisibleChildren returns the children of the relation that are not marked
// for destruction. Application code and serialization read this view.
func (e *Entity) VisibleChildren(ctx context.Context, relation string) ([]*Child, error) {
	coll, err := e.collectionNamed(ctx, relation)
	if err != nil {
		return nil, err
	}
	visible := make([]*Child, 0, len(coll.children))
	for _, c := range coll.children {
		if !c.marked {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// Loaded reports whether the relation's children are in memory.
func (e *Entity) Loaded(relation string) bool {
	coll, ok := e.relations[relation]
	return ok && coll.loaded
}

func (e *Entity) collectionNamed(ctx context.Context, relation string) (*collection, error) {
	rel, ok := e.typ.Relation(relation)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, e.typ.name, relation)
	}
	return e.collection(ctx, rel)
}

// collection returns the raw children of rel, loading them on first access.
func (e *Entity) collection(ctx context.Context, rel *Relation) (*collection, error) {
	coll := e.relations[rel.name]
	if coll.loaded {
		return coll, nil
	}
	rows, err := e.loadRows(ctx, rel)
	if err != nil {
		return nil, err
	}
	e.setLoaded(rel, rows)
	return e.relations[rel.name], nil
}

func (e *Entity) loadRows(ctx context.Context, rel *Relation) ([]Row, error) {
	if e.engine == nil {
		return nil, fmt.Errorf("embedding: %s.%s: no engine to load children", e.typ.name, rel.name)
	}
	rows, err := e.engine.LoadChildren(ctx, rel, e.id)
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", e.typ.name, rel.name, err)
	}
	return rows, nil
}

func (e *Entity) setLoaded(rel *Relation, rows []Row) {
	children := make([]*Child, len(rows))
	for i, row := range rows {
		children[i] = childFromRow(row)
	}
	e.relations[rel.name] = &collection{children: children, loaded: true}
}
