// Package sqlstore implements an embedding.Engine over SQL databases via bun.
//
// Every parent type and every relation gets its own table. Rows keep their
// attributes as a JSON document next to the id, and child tables carry the
// relation's foreign key column. Postgres (pgx or pgdriver) and SQLite are
// supported; transactions are real database transactions.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/jacentio/embedding/embedding"
)

var (
	// ErrNotFound is returned when a row doesn't exist.
	ErrNotFound = embedding.ErrNotFound

	// ErrParentNotFound is returned when a child is inserted under a missing parent.
	ErrParentNotFound = errors.New("sqlstore: parent entity not found")

	// ErrTxDone is returned when using a committed or rolled back transaction.
	ErrTxDone = errors.New("sqlstore: transaction already finished")
)

// Store is an embedding.Engine over a bun database.
type Store struct {
	db *bun.DB
}

var _ embedding.Engine = (*Store)(nil)

// New creates a Store over db.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database.
func (s *Store) DB() *bun.DB {
	return s.db
}

// CreateTables creates the tables of every type in reg. Existing tables are
// left alone.
func (s *Store) CreateTables(ctx context.Context, reg *embedding.Registry) error {
	for _, typ := range reg.Types() {
		_, err := s.db.NewRaw(
			"CREATE TABLE IF NOT EXISTS ? (id VARCHAR(64) PRIMARY KEY, attrs TEXT NOT NULL, created_at TIMESTAMP NOT NULL, updated_at TIMESTAMP NOT NULL)",
			bun.Ident(typ.Table()),
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("create table %s: %w", typ.Table(), err)
		}

		for _, rel := range typ.Relations() {
			_, err := s.db.NewRaw(
				"CREATE TABLE IF NOT EXISTS ? (id VARCHAR(64) PRIMARY KEY, ? VARCHAR(64) NOT NULL, attrs TEXT NOT NULL, created_at TIMESTAMP NOT NULL, updated_at TIMESTAMP NOT NULL)",
				bun.Ident(rel.ChildTable()), bun.Ident(rel.ForeignKey()),
			).Exec(ctx)
			if err != nil {
				return fmt.Errorf("create table %s: %w", rel.ChildTable(), err)
			}
			_, err = s.db.NewRaw(
				"CREATE INDEX IF NOT EXISTS ? ON ? (?)",
				bun.Ident(rel.ChildTable()+"_"+rel.ForeignKey()+"_idx"), bun.Ident(rel.ChildTable()), bun.Ident(rel.ForeignKey()),
			).Exec(ctx)
			if err != nil {
				return fmt.Errorf("create index on %s: %w", rel.ChildTable(), err)
			}
		}
	}
	return nil
}

// row is the scan target of every read.
type row struct {
	ID       string `bun:"id"`
	ParentID string `bun:"parent_id"`
	Attrs    string `bun:"attrs"`
}

func (r row) decode() (embedding.Row, error) {
	attrs := embedding.Attributes{}
	if r.Attrs != "" {
		if err := json.Unmarshal([]byte(r.Attrs), &attrs); err != nil {
			return embedding.Row{}, fmt.Errorf("decode attributes of %s: %w", r.ID, err)
		}
	}
	return embedding.Row{ID: r.ID, ParentID: r.ParentID, Attrs: attrs}, nil
}

func encode(attrs embedding.Attributes) (string, error) {
	if attrs == nil {
		attrs = embedding.Attributes{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(b), nil
}

// LoadParent implements embedding.Engine.
func (s *Store) LoadParent(ctx context.Context, typ *embedding.Type, id string) (embedding.Row, error) {
	var rows []row
	err := s.db.NewSelect().
		TableExpr("?", bun.Ident(typ.Table())).
		ColumnExpr("id, attrs").
		Where("id = ?", id).
		Limit(1).
		Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return embedding.Row{}, err
	}
	if len(rows) == 0 {
		return embedding.Row{}, fmt.Errorf("%w: %s", ErrNotFound, embedding.EntityRef(typ.Name(), id))
	}
	return rows[0].decode()
}

// LoadChildren implements embedding.Engine. Identifiers are time-ordered, so
// ordering by id is insertion order.
func (s *Store) LoadChildren(ctx context.Context, rel *embedding.Relation, parentID string) ([]embedding.Row, error) {
	var rows []row
	err := s.db.NewSelect().
		TableExpr("?", bun.Ident(rel.ChildTable())).
		ColumnExpr("id").
		ColumnExpr("? AS parent_id", bun.Ident(rel.ForeignKey())).
		ColumnExpr("attrs").
		Where("? = ?", bun.Ident(rel.ForeignKey()), parentID).
		OrderExpr("id ASC").
		Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	out := make([]embedding.Row, 0, len(rows))
	for _, r := range rows {
		decoded, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

// ChildIDs implements embedding.Engine.
func (s *Store) ChildIDs(ctx context.Context, rel *embedding.Relation, parentID string) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		TableExpr("?", bun.Ident(rel.ChildTable())).
		ColumnExpr("id").
		Where("? = ?", bun.Ident(rel.ForeignKey()), parentID).
		OrderExpr("id ASC").
		Scan(ctx, &ids)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return ids, nil
}

// Begin implements embedding.Engine.
func (s *Store) Begin(ctx context.Context) (embedding.Tx, error) {
	bunTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &tx{tx: bunTx, parents: make(map[string]bool)}, nil
}

// tx wraps a bun.Tx so that Rollback is a no-op after Commit.
type tx struct {
	tx      bun.Tx
	done    bool
	parents map[string]bool
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

func (t *tx) exec(ctx context.Context, query string, args ...any) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	res, err := t.tx.NewRaw(query, args...).Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *tx) InsertParent(ctx context.Context, typ *embedding.Type, attrs embedding.Attributes) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}
	doc, err := encode(attrs)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = t.exec(ctx,
		"INSERT INTO ? (id, attrs, created_at, updated_at) VALUES (?, ?, ?, ?)",
		bun.Ident(typ.Table()), id, doc, now, now,
	)
	if err != nil {
		return "", err
	}
	t.parents[typ.Table()+"/"+id] = true
	return id, nil
}

func (t *tx) UpdateParent(ctx context.Context, typ *embedding.Type, id string, attrs embedding.Attributes) error {
	doc, err := encode(attrs)
	if err != nil {
		return err
	}
	n, err := t.exec(ctx,
		"UPDATE ? SET attrs = ?, updated_at = ? WHERE id = ?",
		bun.Ident(typ.Table()), doc, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, embedding.EntityRef(typ.Name(), id))
	}
	return nil
}

func (t *tx) DeleteParent(ctx context.Context, typ *embedding.Type, id string) error {
	n, err := t.exec(ctx, "DELETE FROM ? WHERE id = ?", bun.Ident(typ.Table()), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, embedding.EntityRef(typ.Name(), id))
	}
	return nil
}

// checkParent verifies once per transaction that the parent row exists.
func (t *tx) checkParent(ctx context.Context, rel *embedding.Relation, parentID string) error {
	key := rel.OwnerTable() + "/" + parentID
	if t.parents[key] {
		return nil
	}
	count, err := t.tx.NewSelect().
		TableExpr("?", bun.Ident(rel.OwnerTable())).
		Where("id = ?", parentID).
		Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrParentNotFound, embedding.EntityRef(rel.Owner(), parentID))
	}
	t.parents[key] = true
	return nil
}

func (t *tx) InsertChild(ctx context.Context, rel *embedding.Relation, parentID string, attrs embedding.Attributes) (string, error) {
	if t.done {
		return "", ErrTxDone
	}
	if err := t.checkParent(ctx, rel, parentID); err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	doc, err := encode(withoutKey(attrs, rel.ForeignKey()))
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = t.exec(ctx,
		"INSERT INTO ? (id, ?, attrs, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		bun.Ident(rel.ChildTable()), bun.Ident(rel.ForeignKey()), id, parentID, doc, now, now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *tx) UpdateChild(ctx context.Context, rel *embedding.Relation, parentID, id string, attrs embedding.Attributes) error {
	doc, err := encode(withoutKey(attrs, rel.ForeignKey()))
	if err != nil {
		return err
	}
	n, err := t.exec(ctx,
		"UPDATE ? SET attrs = ?, updated_at = ? WHERE id = ? AND ? = ?",
		bun.Ident(rel.ChildTable()), doc, time.Now().UTC(), id, bun.Ident(rel.ForeignKey()), parentID,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s#%s", ErrNotFound, rel.Name(), id)
	}
	return nil
}

func (t *tx) DeleteChild(ctx context.Context, rel *embedding.Relation, parentID, id string) error {
	n, err := t.exec(ctx,
		"DELETE FROM ? WHERE id = ? AND ? = ?",
		bun.Ident(rel.ChildTable()), id, bun.Ident(rel.ForeignKey()), parentID,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s#%s", ErrNotFound, rel.Name(), id)
	}
	return nil
}

func (t *tx) DeleteChildren(ctx context.Context, rel *embedding.Relation, parentID string) error {
	_, err := t.exec(ctx,
		"DELETE FROM ? WHERE ? = ?",
		bun.Ident(rel.ChildTable()), bun.Ident(rel.ForeignKey()), parentID,
	)
	return err
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

// Rollback rolls back the transaction only if it hasn't finished.
func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func withoutKey(attrs embedding.Attributes, key string) embedding.Attributes {
	if _, ok := attrs[key]; !ok {
		return attrs
	}
	out := attrs.Clone()
	delete(out, key)
	return out
}
