package embedding

import (
	"context"
	"fmt"
	"log/slog"
)

// Reconciler rewrites an incoming payload so that persisted children missing
// from a relation's sequence are flagged for destruction, then hands the
// result to the Framework. It never writes to the engine.
type Reconciler struct {
	engine    Engine
	framework Framework
	config    Config
	logger    *slog.Logger
}

// NewReconciler creates a Reconciler delegating assignment to framework.
func NewReconciler(engine Engine, framework Framework, cfg Config, logger *slog.Logger) *Reconciler {
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		engine:    engine,
		framework: framework,
		config:    cfg,
		logger:    logger,
	}
}

// Assign reconciles payload against e and assigns the rewritten payload.
// On error the staged state of e is unchanged.
func (r *Reconciler) Assign(ctx context.Context, e *Entity, payload Attributes) error {
	rewritten, err := r.Reconcile(ctx, e, payload)
	if err != nil {
		return err
	}
	return r.framework.AssignAttributes(ctx, e, rewritten)
}

// Reconcile returns a copy of payload in which every declared relation key
// is replaced by its nested key, and persisted children absent from the
// incoming sequence are appended as {id, destroy: true} entries.
//
// Relations absent from payload (or given as nil) are left out. The persisted
// identifiers of a relation are read at most once per call.
func (r *Reconciler) Reconcile(ctx context.Context, e *Entity, payload Attributes) (Attributes, error) {
	if e.destroyed {
		return nil, ErrDestroyed
	}

	out := make(Attributes, len(payload))
	for k, v := range payload {
		out[k] = v
	}

	memo := make(map[string][]string)
	for _, rel := range e.typ.relations {
		raw, ok := payload[rel.name]
		if !ok {
			continue
		}
		if raw == nil {
			delete(out, rel.name)
			continue
		}
		if _, clash := payload[rel.NestedKey()]; clash {
			return nil, &ValidationError{Type: e.typ.name, Relation: rel.name, Field: rel.NestedKey(), Reason: "relation given under both keys"}
		}

		entries, err := childEntries(e.typ, rel, raw)
		if err != nil {
			return nil, err
		}
		entries, incoming, err := r.normalize(e, rel, entries)
		if err != nil {
			return nil, err
		}

		persisted, err := r.persistedIDs(ctx, e, rel, memo)
		if err != nil {
			return nil, err
		}
		owned := make(map[string]struct{}, len(persisted))
		for _, id := range persisted {
			owned[id] = struct{}{}
		}
		for id := range incoming {
			if _, ok := owned[id]; !ok {
				return nil, &ValidationError{Type: e.typ.name, Relation: rel.name, ID: id, Reason: "identifier does not belong to this parent"}
			}
		}

		marked := 0
		for _, id := range persisted {
			if _, ok := incoming[id]; ok {
				continue
			}
			entries = append(entries, Attributes{
				r.config.IDField:      id,
				r.config.DestroyField: true,
			})
			marked++
		}

		delete(out, rel.name)
		out[rel.NestedKey()] = entries

		r.logger.Debug("reconciled relation",
			"type", e.typ.name,
			"id", e.id,
			"relation", rel.name,
			"incoming", len(entries)-marked,
			"persisted", len(persisted),
			"marked", marked,
		)
	}
	return out, nil
}

// normalize copies the entries, converts identifiers to strings and applies
// the duplicate policy. It returns the set of incoming identifiers.
func (r *Reconciler) normalize(e *Entity, rel *Relation, entries []Attributes) ([]Attributes, map[string]struct{}, error) {
	out := make([]Attributes, 0, len(entries))
	incoming := make(map[string]struct{}, len(entries))
	position := make(map[string]int, len(entries))

	for _, entry := range entries {
		copied := make(Attributes, len(entry))
		for k, v := range entry {
			copied[k] = v
		}
		id, err := normalizeID(entry[r.config.IDField])
		if err != nil {
			return nil, nil, &ValidationError{Type: e.typ.name, Relation: rel.name, Field: r.config.IDField, Reason: err.Error()}
		}
		if id == "" {
			delete(copied, r.config.IDField)
			out = append(out, copied)
			continue
		}
		copied[r.config.IDField] = id

		if i, dup := position[id]; dup {
			if r.config.RejectDuplicateIDs {
				return nil, nil, &ValidationError{Type: e.typ.name, Relation: rel.name, ID: id, Reason: "identifier given more than once"}
			}
			out[i] = nil
		}
		position[id] = len(out)
		incoming[id] = struct{}{}
		out = append(out, copied)
	}

	compacted := out[:0]
	for _, entry := range out {
		if entry != nil {
			compacted = append(compacted, entry)
		}
	}
	return compacted, incoming, nil
}

// persistedIDs reads the identifiers of the children stored under e for rel.
// An unloaded relation is loaded by the same read.
func (r *Reconciler) persistedIDs(ctx context.Context, e *Entity, rel *Relation, memo map[string][]string) ([]string, error) {
	if ids, ok := memo[rel.name]; ok {
		return ids, nil
	}
	if e.id == "" {
		memo[rel.name] = nil
		return nil, nil
	}

	var ids []string
	if !e.Loaded(rel.name) {
		rows, err := e.loadRows(ctx, rel)
		if err != nil {
			return nil, err
		}
		e.setLoaded(rel, rows)
		ids = make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
	} else {
		if r.engine == nil {
			return nil, fmt.Errorf("embedding: %s.%s: no engine to read child ids", e.typ.name, rel.name)
		}
		var err error
		ids, err = r.engine.ChildIDs(ctx, rel, e.id)
		if err != nil {
			return nil, fmt.Errorf("read %s.%s ids: %w", e.typ.name, rel.name, err)
		}
	}
	memo[rel.name] = ids
	return ids, nil
}
