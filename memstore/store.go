// Package memstore provides an in-process embedding.Engine.
//
// Rows live in per-table maps guarded by a RWMutex. Transactions buffer their
// writes and apply them to a copy of the state at Commit, which replaces the
// live state only when every write succeeds. Identifiers are ksid values and
// rows are returned in insertion order.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maruel/ksid"

	"github.com/jacentio/embedding/embedding"
)

var (
	// ErrRowNotFound is returned at commit when an update or delete targets a missing row.
	ErrRowNotFound = errors.New("memstore: row not found")

	// ErrRowExists is returned at commit when an insert collides with an existing row.
	ErrRowExists = errors.New("memstore: row already exists")

	// ErrTxDone is returned when using a committed or rolled back transaction.
	ErrTxDone = errors.New("memstore: transaction already finished")
)

// OpKind is the kind of a row write.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op describes one row write. A delete with an empty ID removes every row of
// Table scoped by ParentID.
type Op struct {
	Kind     OpKind
	Table    string
	ID       string
	ParentID string
}

// Stats counts engine calls since the last reset.
type Stats struct {
	Reads     int
	Writes    int
	Commits   int
	Rollbacks int
}

type table struct {
	rows  map[string]embedding.Row
	order []string
}

func (t *table) clone() *table {
	out := &table{
		rows:  make(map[string]embedding.Row, len(t.rows)),
		order: append([]string(nil), t.order...),
	}
	for id, row := range t.rows {
		out.rows[id] = row
	}
	return out
}

func (t *table) remove(id string) {
	delete(t.rows, id)
	for i, cur := range t.order {
		if cur == id {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			return
		}
	}
}

// Store is an in-memory engine. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	fail   func(Op) error
	stats  Stats
}

// Compile-time contract assertion.
var _ embedding.Engine = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// FailOn installs a hook called for every row write as it is issued inside a
// transaction. A non-nil error aborts that write. Pass nil to remove it.
func (s *Store) FailOn(fn func(Op) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Stats returns the call counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// ResetStats zeroes the call counters.
func (s *Store) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = Stats{}
}

// Count returns the number of rows in a table.
func (s *Store) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[name]; ok {
		return len(t.rows)
	}
	return 0
}

// Rows returns copies of all rows of a table in insertion order.
func (s *Store) Rows(name string) []embedding.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	out := make([]embedding.Row, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, cloneRow(t.rows[id]))
	}
	return out
}

func cloneRow(row embedding.Row) embedding.Row {
	row.Attrs = row.Attrs.Clone()
	return row
}

// LoadParent implements embedding.Engine.
func (s *Store) LoadParent(ctx context.Context, typ *embedding.Type, id string) (embedding.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Reads++
	if t, ok := s.tables[typ.Table()]; ok {
		if row, ok := t.rows[id]; ok {
			return cloneRow(row), nil
		}
	}
	return embedding.Row{}, fmt.Errorf("%w: %s", embedding.ErrNotFound, embedding.EntityRef(typ.Name(), id))
}

// LoadChildren implements embedding.Engine.
func (s *Store) LoadChildren(ctx context.Context, rel *embedding.Relation, parentID string) ([]embedding.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Reads++
	var out []embedding.Row
	s.scan(rel.ChildTable(), parentID, func(row embedding.Row) {
		out = append(out, cloneRow(row))
	})
	return out, nil
}

// ChildIDs implements embedding.Engine.
func (s *Store) ChildIDs(ctx context.Context, rel *embedding.Relation, parentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Reads++
	var ids []string
	s.scan(rel.ChildTable(), parentID, func(row embedding.Row) {
		ids = append(ids, row.ID)
	})
	return ids, nil
}

// scan visits the rows of a table scoped by parentID. Callers hold s.mu.
func (s *Store) scan(name, parentID string, fn func(embedding.Row)) {
	t, ok := s.tables[name]
	if !ok {
		return
	}
	for _, id := range t.order {
		if row := t.rows[id]; row.ParentID == parentID {
			fn(row)
		}
	}
}

// Begin implements embedding.Engine.
func (s *Store) Begin(ctx context.Context) (embedding.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{store: s}, nil
}

type pending struct {
	op  Op
	row embedding.Row
}

type tx struct {
	store *Store
	ops   []pending
	done  bool
}

func (t *tx) add(op Op, row embedding.Row) error {
	if t.done {
		return ErrTxDone
	}
	t.store.mu.RLock()
	fail := t.store.fail
	t.store.mu.RUnlock()
	if fail != nil {
		if err := fail(op); err != nil {
			return err
		}
	}
	t.ops = append(t.ops, pending{op: op, row: row})
	return nil
}

func (t *tx) InsertParent(ctx context.Context, typ *embedding.Type, attrs embedding.Attributes) (string, error) {
	id := ksid.NewID().String()
	op := Op{Kind: OpInsert, Table: typ.Table(), ID: id}
	return id, t.add(op, embedding.Row{ID: id, Attrs: attrs.Clone()})
}

func (t *tx) UpdateParent(ctx context.Context, typ *embedding.Type, id string, attrs embedding.Attributes) error {
	op := Op{Kind: OpUpdate, Table: typ.Table(), ID: id}
	return t.add(op, embedding.Row{ID: id, Attrs: attrs.Clone()})
}

func (t *tx) DeleteParent(ctx context.Context, typ *embedding.Type, id string) error {
	return t.add(Op{Kind: OpDelete, Table: typ.Table(), ID: id}, embedding.Row{})
}

func (t *tx) InsertChild(ctx context.Context, rel *embedding.Relation, parentID string, attrs embedding.Attributes) (string, error) {
	id := ksid.NewID().String()
	op := Op{Kind: OpInsert, Table: rel.ChildTable(), ID: id, ParentID: parentID}
	return id, t.add(op, embedding.Row{ID: id, ParentID: parentID, Attrs: attrs.Clone()})
}

func (t *tx) UpdateChild(ctx context.Context, rel *embedding.Relation, parentID, id string, attrs embedding.Attributes) error {
	op := Op{Kind: OpUpdate, Table: rel.ChildTable(), ID: id, ParentID: parentID}
	return t.add(op, embedding.Row{ID: id, ParentID: parentID, Attrs: attrs.Clone()})
}

func (t *tx) DeleteChild(ctx context.Context, rel *embedding.Relation, parentID, id string) error {
	return t.add(Op{Kind: OpDelete, Table: rel.ChildTable(), ID: id, ParentID: parentID}, embedding.Row{})
}

func (t *tx) DeleteChildren(ctx context.Context, rel *embedding.Relation, parentID string) error {
	return t.add(Op{Kind: OpDelete, Table: rel.ChildTable(), ParentID: parentID}, embedding.Row{})
}

// ownedBy reports whether row belongs to parentID. Parent rows pass an
// empty parentID.
func ownedBy(row embedding.Row, parentID string) bool {
	return parentID == "" || row.ParentID == parentID
}

// Commit applies the buffered writes to a copy of the state and swaps it in.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*table, len(s.tables))
	for name, tbl := range s.tables {
		next[name] = tbl
	}
	copied := make(map[string]bool)
	tableFor := func(name string) *table {
		if !copied[name] {
			if cur, ok := next[name]; ok {
				next[name] = cur.clone()
			} else {
				next[name] = &table{rows: make(map[string]embedding.Row)}
			}
			copied[name] = true
		}
		return next[name]
	}

	writes := 0
	for _, p := range t.ops {
		tbl := tableFor(p.op.Table)
		switch p.op.Kind {
		case OpInsert:
			if _, exists := tbl.rows[p.op.ID]; exists {
				return fmt.Errorf("%w: %s/%s", ErrRowExists, p.op.Table, p.op.ID)
			}
			tbl.rows[p.op.ID] = p.row
			tbl.order = append(tbl.order, p.op.ID)
			writes++
		case OpUpdate:
			cur, exists := tbl.rows[p.op.ID]
			if !exists || !ownedBy(cur, p.op.ParentID) {
				return fmt.Errorf("%w: %s/%s", ErrRowNotFound, p.op.Table, p.op.ID)
			}
			cur.Attrs = p.row.Attrs
			tbl.rows[p.op.ID] = cur
			writes++
		case OpDelete:
			if p.op.ID == "" {
				for _, id := range append([]string(nil), tbl.order...) {
					if tbl.rows[id].ParentID == p.op.ParentID {
						tbl.remove(id)
						writes++
					}
				}
				continue
			}
			if cur, exists := tbl.rows[p.op.ID]; !exists || !ownedBy(cur, p.op.ParentID) {
				return fmt.Errorf("%w: %s/%s", ErrRowNotFound, p.op.Table, p.op.ID)
			}
			tbl.remove(p.op.ID)
			writes++
		}
	}

	s.tables = next
	s.stats.Writes += writes
	s.stats.Commits++
	t.done = true
	t.ops = nil
	return nil
}

// Rollback discards the buffered writes. It is a no-op once finished.
func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.ops = nil
	t.store.mu.Lock()
	t.store.stats.Rollbacks++
	t.store.mu.Unlock()
	return nil
}
