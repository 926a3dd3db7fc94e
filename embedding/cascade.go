package embedding

import (
	"context"
	"log/slog"
)

// Cascade persists or destroys a parent together with its embedded children
// inside one engine transaction.
type Cascade struct {
	engine Engine
	logger *slog.Logger
}

// NewCascade creates a Cascade over engine.
func NewCascade(engine Engine, logger *slog.Logger) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{engine: engine, logger: logger}
}

// persistPlan is the in-memory state applied once the transaction commits.
type persistPlan struct {
	parentID  string
	relations map[string][]*Child
	inserted  int
	updated   int
	deleted   int
}

// Persist writes the entity and the full view of every loaded relation.
// Children marked for destruction are deleted (or dropped when never stored),
// new children are inserted and dirty children updated. Any failure rolls the
// transaction back and leaves e exactly as it was.
func (c *Cascade) Persist(ctx context.Context, e *Entity) error {
	if e.destroyed {
		return ErrDestroyed
	}

	tx, err := c.engine.Begin(ctx)
	if err != nil {
		return &PersistCascadeError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			c.logger.Warn("rollback failed",
				"type", e.typ.name,
				"id", e.id,
				"error", rbErr,
			)
		}
	}()

	plan := persistPlan{
		parentID:  e.id,
		relations: make(map[string][]*Child, len(e.typ.relations)),
	}

	if plan.parentID == "" {
		id, err := tx.InsertParent(ctx, e.typ, e.attrs.Clone())
		if err != nil {
			return &PersistCascadeError{Op: "insert parent", Table: e.typ.table, Err: err}
		}
		plan.parentID = id
	} else if e.dirty {
		if err := tx.UpdateParent(ctx, e.typ, e.id, e.attrs.Clone()); err != nil {
			return &PersistCascadeError{Op: "update parent", Table: e.typ.table, ID: e.id, Err: err}
		}
	}

	for _, rel := range e.typ.relations {
		coll := e.relations[rel.name]
		if coll == nil || !coll.loaded {
			// Never loaded, so nothing is staged.
			continue
		}
		kept, err := c.persistRelation(ctx, tx, rel, coll.children, &plan)
		if err != nil {
			return err
		}
		plan.relations[rel.name] = kept
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistCascadeError{Op: "commit", Table: e.typ.table, ID: plan.parentID, Err: err}
	}
	committed = true

	e.id = plan.parentID
	e.dirty = false
	for name, children := range plan.relations {
		e.relations[name] = &collection{children: children, loaded: true}
	}

	c.logger.Info("persisted entity",
		"type", e.typ.name,
		"id", e.id,
		"inserted", plan.inserted,
		"updated", plan.updated,
		"deleted", plan.deleted,
	)
	return nil
}

// persistRelation issues the row writes of one relation and returns the
// children that remain in the collection after commit.
func (c *Cascade) persistRelation(ctx context.Context, tx Tx, rel *Relation, children []*Child, plan *persistPlan) ([]*Child, error) {
	kept := make([]*Child, 0, len(children))
	for _, ch := range children {
		switch {
		case ch.marked && ch.ID != "":
			if err := tx.DeleteChild(ctx, rel, plan.parentID, ch.ID); err != nil {
				return nil, &PersistCascadeError{Op: "delete child", Table: rel.childTable, ID: ch.ID, Err: err}
			}
			plan.deleted++

		case ch.marked:
			// Never stored: dropping it is enough.

		case ch.ID == "":
			id, err := tx.InsertChild(ctx, rel, plan.parentID, ch.Attrs.Clone())
			if err != nil {
				return nil, &PersistCascadeError{Op: "insert child", Table: rel.childTable, Err: err}
			}
			next := ch.clone()
			next.ID = id
			next.ParentID = plan.parentID
			next.dirty = false
			kept = append(kept, next)
			plan.inserted++

		case ch.dirty:
			if err := tx.UpdateChild(ctx, rel, plan.parentID, ch.ID, ch.Attrs.Clone()); err != nil {
				return nil, &PersistCascadeError{Op: "update child", Table: rel.childTable, ID: ch.ID, Err: err}
			}
			next := ch.clone()
			next.dirty = false
			kept = append(kept, next)
			plan.updated++

		default:
			kept = append(kept, ch)
		}
	}
	return kept, nil
}

// Destroy deletes all children of every embedded relation scoped by the
// parent's identifier, then the parent row, in one transaction. Destroying an
// unpersisted entity only discards its staged children.
func (c *Cascade) Destroy(ctx context.Context, e *Entity) error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.id == "" {
		e.markDestroyed()
		return nil
	}

	tx, err := c.engine.Begin(ctx)
	if err != nil {
		return &PersistCascadeError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			c.logger.Warn("rollback failed",
				"type", e.typ.name,
				"id", e.id,
				"error", rbErr,
			)
		}
	}()

	for _, rel := range e.typ.relations {
		if err := tx.DeleteChildren(ctx, rel, e.id); err != nil {
			return &PersistCascadeError{Op: "delete children", Table: rel.childTable, ID: e.id, Err: err}
		}
	}
	if err := tx.DeleteParent(ctx, e.typ, e.id); err != nil {
		return &PersistCascadeError{Op: "delete parent", Table: e.typ.table, ID: e.id, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &PersistCascadeError{Op: "commit", Table: e.typ.table, ID: e.id, Err: err}
	}
	committed = true

	c.logger.Info("destroyed entity",
		"type", e.typ.name,
		"id", e.id,
		"relations", len(e.typ.relations),
	)
	e.markDestroyed()
	return nil
}

func (e *Entity) markDestroyed() {
	e.destroyed = true
	for _, rel := range e.typ.relations {
		e.relations[rel.name] = &collection{loaded: true}
	}
}
