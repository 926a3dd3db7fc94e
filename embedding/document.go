package embedding

import (
	"context"
	"fmt"
)

// Document is the structured representation of an entity.
type Document map[string]any

// DocumentOptions filters a Document.
type DocumentOptions struct {
	// Only keeps just these plain attributes of the parent.
	Only []string

	// Except drops these plain attributes of the parent.
	Except []string

	// Include lists the relations to include. Nil includes every embedded relation.
	Include []string
}

// ToDocument renders the plain attributes of e plus, for each included
// relation, the visible children one level deep. Unloaded relations are read.
func ToDocument(ctx context.Context, e *Entity, opts DocumentOptions) (Document, error) {
	doc := make(Document, len(e.attrs)+len(e.typ.relations)+1)
	if e.id != "" {
		doc["id"] = e.id
	}

	only := toSet(opts.Only)
	except := toSet(opts.Except)
	for k, v := range e.attrs {
		if only != nil {
			if _, ok := only[k]; !ok {
				continue
			}
		}
		if _, ok := except[k]; ok {
			continue
		}
		doc[k] = cloneValue(v)
	}

	relations := e.typ.relations
	if opts.Include != nil {
		relations = make([]*Relation, 0, len(opts.Include))
		for _, name := range opts.Include {
			rel, ok := e.typ.Relation(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, e.typ.name, name)
			}
			relations = append(relations, rel)
		}
	}

	for _, rel := range relations {
		children, err := e.VisibleChildren(ctx, rel.name)
		if err != nil {
			return nil, err
		}
		docs := make([]Document, len(children))
		for i, c := range children {
			docs[i] = childDocument(rel, c)
		}
		doc[rel.name] = docs
	}
	return doc, nil
}

func childDocument(rel *Relation, c *Child) Document {
	doc := make(Document, len(c.Attrs)+2)
	for k, v := range c.Attrs {
		doc[k] = cloneValue(v)
	}
	if c.ID != "" {
		doc["id"] = c.ID
	}
	if c.ParentID != "" {
		doc[rel.foreignKey] = c.ParentID
	}
	return doc
}

func toSet(names []string) map[string]struct{} {
	if names == nil {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
