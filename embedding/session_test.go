package embedding_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jacentio/embedding/embedding"
	"github.com/jacentio/embedding/internal/invoice"
	"github.com/jacentio/embedding/memstore"
)

// --- Test Helpers ---

func newInvoiceSession(t *testing.T, opts ...embedding.Option) (*embedding.Session, *memstore.Store) {
	t.Helper()
	reg := embedding.NewRegistry()
	if _, err := invoice.Define(reg); err != nil {
		t.Fatalf("define invoice: %v", err)
	}
	st := memstore.New()
	return embedding.NewSession(reg, st, opts...), st
}

type childState struct {
	ID     string
	Attrs  embedding.Attributes
	Marked bool
	Dirty  bool
}

func snapshot(t *testing.T, e *embedding.Entity, relation string) []childState {
	t.Helper()
	children, err := e.AllChildren(context.Background(), relation)
	if err != nil {
		t.Fatalf("AllChildren: %v", err)
	}
	out := make([]childState, len(children))
	for i, c := range children {
		out[i] = childState{ID: c.ID, Attrs: c.Attrs.Clone(), Marked: c.MarkedForDestruction(), Dirty: c.Dirty()}
	}
	return out
}

func visibleDescriptions(t *testing.T, e *embedding.Entity) []string {
	t.Helper()
	children, err := e.VisibleChildren(context.Background(), invoice.Items)
	if err != nil {
		t.Fatalf("VisibleChildren: %v", err)
	}
	out := make([]string, len(children))
	for i, c := range children {
		out[i], _ = c.Attrs.String("description")
	}
	return out
}

func storedDescriptions(st *memstore.Store) []string {
	rows := st.Rows("items")
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i], _ = row.Attrs.String("description")
	}
	return out
}

func total(t *testing.T, e *embedding.Entity) float64 {
	t.Helper()
	v, err := invoice.Total(context.Background(), e)
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	return v
}

func item(description string, amount int, value float64) map[string]any {
	return map[string]any{"description": description, "amount": amount, "value": value}
}

// persistedInvoice stores an invoice with the given item descriptions and
// returns it with the generated item ids.
func persistedInvoice(t *testing.T, sess *embedding.Session, descriptions ...string) (*embedding.Entity, []string) {
	t.Helper()
	ctx := context.Background()
	inv, err := sess.New(invoice.TypeName)
	if err != nil {
		t.Fatal(err)
	}
	items := make([]any, len(descriptions))
	for i, d := range descriptions {
		items[i] = item(d, i+1, 10)
	}
	if err := sess.UpdateAttributes(ctx, inv, embedding.Attributes{"items": items}); err != nil {
		t.Fatalf("UpdateAttributes: %v", err)
	}
	children, err := inv.VisibleChildren(ctx, invoice.Items)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	return inv, ids
}

// --- Scenarios ---

func TestEmbedding_Lifecycle(t *testing.T) {
	ctx := context.Background()
	sess, st := newInvoiceSession(t)

	// A: build a new invoice in memory only.
	inv, err := sess.New(invoice.TypeName)
	if err != nil {
		t.Fatal(err)
	}
	err = sess.SetAttributes(ctx, inv, embedding.Attributes{
		"items": []any{item("Item 1", 1, 10), item("Item 2", 2, 8)},
	})
	if err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}
	if st.Count("invoices") != 0 || st.Count("items") != 0 {
		t.Fatalf("expected no rows before persist, got %d invoices and %d items", st.Count("invoices"), st.Count("items"))
	}
	if got := total(t, inv); got != 26 {
		t.Errorf("expected total 26, got %v", got)
	}

	if err := sess.Persist(ctx, inv); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if st.Count("invoices") != 1 || st.Count("items") != 2 {
		t.Fatalf("expected 1 invoice and 2 items, got %d and %d", st.Count("invoices"), st.Count("items"))
	}
	if got := storedDescriptions(st); !reflect.DeepEqual(got, []string{"Item 1", "Item 2"}) {
		t.Errorf("expected stored [Item 1 Item 2], got %v", got)
	}
	if got := total(t, inv); got != 26 {
		t.Errorf("expected total 26 after persist, got %v", got)
	}
	if !inv.Persisted() {
		t.Error("expected invoice to have an id")
	}

	// B: replace the items without referencing any id.
	err = sess.SetAttributes(ctx, inv, embedding.Attributes{
		"items": []any{item("Item 3", 1, 10)},
	})
	if err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}
	if st.Count("items") != 2 {
		t.Errorf("expected storage to keep 2 items before persist, got %d", st.Count("items"))
	}
	if got := storedDescriptions(st); !reflect.DeepEqual(got, []string{"Item 1", "Item 2"}) {
		t.Errorf("expected stored [Item 1 Item 2], got %v", got)
	}
	if got := total(t, inv); got != 10 {
		t.Errorf("expected in-memory total 10, got %v", got)
	}

	if err := sess.Persist(ctx, inv); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if st.Count("invoices") != 1 || st.Count("items") != 1 {
		t.Fatalf("expected 1 invoice and 1 item, got %d and %d", st.Count("invoices"), st.Count("items"))
	}
	if got := storedDescriptions(st); !reflect.DeepEqual(got, []string{"Item 3"}) {
		t.Errorf("expected stored [Item 3], got %v", got)
	}
	if got := total(t, inv); got != 10 {
		t.Errorf("expected total 10 after persist, got %v", got)
	}

	// C: destroy everything.
	if err := sess.Destroy(ctx, inv); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if st.Count("invoices") != 0 || st.Count("items") != 0 {
		t.Errorf("expected no rows after destroy, got %d invoices and %d items", st.Count("invoices"), st.Count("items"))
	}
	if !inv.Destroyed() {
		t.Error("expected invoice to be destroyed")
	}
}

func TestEmbedding_MissingIdentifiersAreDeleted(t *testing.T) {
	ctx := context.Background()
	sess, st := newInvoiceSession(t)
	inv, ids := persistedInvoice(t, sess, "one", "two", "three")

	err := sess.SetAttributes(ctx, inv, embedding.Attributes{
		"items": []any{map[string]any{"id": ids[0]}},
	})
	if err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}

	all := snapshot(t, inv, invoice.Items)
	if len(all) != 3 {
		t.Fatalf("expected 3 children in the full view, got %d", len(all))
	}
	if all[0].Marked || !all[1].Marked || !all[2].Marked {
		t.Errorf("expected only the unnamed children to be marked, got %+v", all)
	}

	if err := sess.Persist(ctx, inv); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	rows := st.Rows("items")
	if len(rows) != 1 || rows[0].ID != ids[0] {
		t.Errorf("expected only %s to remain, got %+v", ids[0], rows)
	}
	if all := snapshot(t, inv, invoice.Items); len(all) != 1 {
		t.Errorf("expected deleted children to leave the collection, got %d", len(all))
	}
}

func TestEmbedding_EmptySequenceMarksEverything(t *testing.T) {
	ctx := context.Background()
	sess, st := newInvoiceSession(t)
	inv, _ := persistedInvoice(t, sess, "one", "two")

	if err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{}}); err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}
	if got := visibleDescriptions(t, inv); len(got) != 0 {
		t.Errorf("expected no visible children, got %v", got)
	}
	for _, c := range snapshot(t, inv, invoice.Items) {
		if !c.Marked {
			t.Errorf("expected %s to be marked", c.ID)
		}
	}

	if err := sess.Persist(ctx, inv); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if st.Count("items") != 0 {
		t.Errorf("expected no items, got %d", st.Count("items"))
	}
}

func TestEmbedding_AbsentRelationIsUntouched(t *testing.T) {
	ctx := context.Background()
	sess, st := newInvoiceSession(t)
	inv, _ := persistedInvoice(t, sess, "one", "two")
	before := snapshot(t, inv, invoice.Items)

	err := sess.SetAttributes(ctx, inv, embedding.Attributes{"recipient_email": "a@example.com"})
	if err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}
	if after := snapshot(t, inv, invoice.Items); !reflect.DeepEqual(before, after) {
		t.Errorf("expected children unchanged\nbefore: %+v\nafter:  %+v", before, after)
	}

	if err := sess.Persist(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if st.Count("items") != 2 {
		t.Errorf("expected 2 items, got %d", st.Count("items"))
	}
	row := st.Rows("invoices")[0]
	if row.Attrs["recipient_email"] != "a@example.com" {
		t.Errorf("expected parent update to be stored, got %v", row.Attrs)
	}
}

func TestEmbedding_NilRelationValueIsUntouched(t *testing.T) {
	ctx := context.Background()
	sess, _ := newInvoiceSession(t)
	inv, _ := persistedInvoice(t, sess, "one")

	if err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": nil}); err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}
	if got := visibleDescriptions(t, inv); !reflect.DeepEqual(got, []string{"one"}) {
		t.Errorf("expected [one], got %v", got)
	}
}

// --- Properties ---

func TestEmbedding_Idempotent(t *testing.T) {
	ctx := context.Background()
	sess, _ := newInvoiceSession(t)
	inv, ids := persistedInvoice(t, sess, "one", "two", "three")

	payload := func() embedding.Attributes {
		return embedding.Attributes{"items": []any{
			map[string]any{"id": ids[1], "amount": 7},
			item("new", 1, 1),
		}}
	}

	if err := sess.SetAttributes(ctx, inv, payload()); err != nil {
		t.Fatal(err)
	}
	first := snapshot(t, inv, invoice.Items)
	if err := sess.SetAttributes(ctx, inv, payload()); err != nil {
		t.Fatal(err)
	}
	second := snapshot(t, inv, invoice.Items)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical staged state\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestEmbedding_VisibleOrderFollowsPayload(t *testing.T) {
	ctx := context.Background()
	sess, _ := newInvoiceSession(t)
	inv, ids := persistedInvoice(t, sess, "one", "two", "three")

	err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{
		map[string]any{"id": ids[2]},
		item("new", 1, 1),
		map[string]any{"id": ids[0]},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if got := visibleDescriptions(t, inv); !reflect.DeepEqual(got, []string{"three", "new", "one"}) {
		t.Errorf("expected [three new one], got %v", got)
	}
}

func TestEmbedding_RoundTrip(t *testing.T) {
	ctx := context.Background()
	sess, _ := newInvoiceSession(t)
	inv, _ := persistedInvoice(t, sess, "one", "two")

	before, err := inv.VisibleChildren(ctx, invoice.Items)
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := sess.Load(ctx, invoice.TypeName, inv.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Loaded(invoice.Items) {
		t.Error("expected lazy relation to be unloaded after Load")
	}
	after, err := reloaded.VisibleChildren(ctx, invoice.Items)
	if err != nil {
		t.Fatal(err)
	}

	if len(before) != len(after) {
		t.Fatalf("expected %d children, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || !reflect.DeepEqual(before[i].Attrs, after[i].Attrs) {
			t.Errorf("child %d: expected %+v, got %+v", i, before[i], after[i])
		}
		if after[i].ParentID != inv.ID() {
			t.Errorf("child %d: expected parent %s, got %s", i, inv.ID(), after[i].ParentID)
		}
	}
}

func TestEmbedding_UpdateMergesAttributes(t *testing.T) {
	ctx := context.Background()
	sess, st := newInvoiceSession(t)
	inv, ids := persistedInvoice(t, sess, "one")

	err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{
		map[string]any{"id": ids[0], "amount": 5},
	}})
	if err != nil {
		t.Fatal(err)
	}
	children, _ := inv.VisibleChildren(ctx, invoice.Items)
	if len(children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(children))
	}
	if !children[0].Dirty() {
		t.Error("expected updated child to be dirty")
	}
	if children[0].Get("description") != "one" {
		t.Errorf("expected description to be kept, got %v", children[0].Get("description"))
	}

	if err := sess.Persist(ctx, inv); err != nil {
		t.Fatal(err)
	}
	row := st.Rows("items")[0]
	if row.Attrs["amount"] != 5 || row.Attrs["description"] != "one" {
		t.Errorf("expected merged row, got %v", row.Attrs)
	}
	children, _ = inv.VisibleChildren(ctx, invoice.Items)
	if children[0].Dirty() {
		t.Error("expected child to be clean after persist")
	}
}

func TestEmbedding_UnchangedChildIsNotDirty(t *testing.T) {
	ctx := context.Background()
	sess, st := newInvoiceSession(t)
	inv, ids := persistedInvoice(t, sess, "one")
	st.ResetStats()

	// Same values with a different numeric type.
	err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{
		map[string]any{"id": ids[0], "amount": 1.0, "value": 10},
	}})
	if err != nil {
		t.Fatal(err)
	}
	children, _ := inv.VisibleChildren(ctx, invoice.Items)
	if children[0].Dirty() {
		t.Error("expected child to stay clean")
	}
	if err := sess.Persist(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if w := st.Stats().Writes; w != 0 {
		t.Errorf("expected no writes, got %d", w)
	}
}

func TestEmbedding_ReconcileNeverWrites(t *testing.T) {
	ctx := context.Background()
	sess, st := newInvoiceSession(t)

	inv, err := sess.New(invoice.TypeName)
	if err != nil {
		t.Fatal(err)
	}
	st.ResetStats()
	if err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{item("a", 1, 1)}}); err != nil {
		t.Fatal(err)
	}
	if stats := st.Stats(); stats.Reads != 0 || stats.Writes != 0 || stats.Commits != 0 {
		t.Errorf("expected no engine calls for a new parent, got %+v", stats)
	}

	persisted, ids := persistedInvoice(t, sess, "one", "two")
	reloaded, err := sess.Load(ctx, invoice.TypeName, persisted.ID())
	if err != nil {
		t.Fatal(err)
	}

	// Unloaded relation: one read loads the children and yields the ids.
	st.ResetStats()
	if err := sess.SetAttributes(ctx, reloaded, embedding.Attributes{"items": []any{map[string]any{"id": ids[0]}}}); err != nil {
		t.Fatal(err)
	}
	if stats := st.Stats(); stats.Reads != 1 || stats.Writes != 0 {
		t.Errorf("expected 1 read and no writes, got %+v", stats)
	}

	// Loaded relation: one identifier read.
	st.ResetStats()
	if err := sess.SetAttributes(ctx, reloaded, embedding.Attributes{"items": []any{map[string]any{"id": ids[1]}}}); err != nil {
		t.Fatal(err)
	}
	if stats := st.Stats(); stats.Reads != 1 || stats.Writes != 0 {
		t.Errorf("expected 1 read and no writes, got %+v", stats)
	}
}

// --- Validation ---

func TestEmbedding_ForeignIdentifierRejected(t *testing.T) {
	ctx := context.Background()
	sess, _ := newInvoiceSession(t)
	inv, _ := persistedInvoice(t, sess, "one", "two")
	_, otherIDs := persistedInvoice(t, sess, "other")

	if err := sess.SetAttributes(ctx, inv, embedding.Attributes{"recipient_email": "x@example.com"}); err != nil {
		t.Fatal(err)
	}
	before := snapshot(t, inv, invoice.Items)
	beforeAttrs := inv.Attributes()

	err := sess.SetAttributes(ctx, inv, embedding.Attributes{
		"recipient_email": "changed@example.com",
		"items": []any{
			item("new", 1, 1),
			map[string]any{"id": otherIDs[0], "amount": 3},
		},
	})
	if !errors.Is(err, embedding.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	var vErr *embedding.ValidationError
	if !errors.As(err, &vErr) || vErr.ID != otherIDs[0] {
		t.Errorf("expected ValidationError for %s, got %v", otherIDs[0], err)
	}

	if after := snapshot(t, inv, invoice.Items); !reflect.DeepEqual(before, after) {
		t.Errorf("expected children unchanged\nbefore: %+v\nafter:  %+v", before, after)
	}
	if after := inv.Attributes(); !reflect.DeepEqual(beforeAttrs, after) {
		t.Errorf("expected attributes unchanged, got %v", after)
	}
}

func TestEmbedding_IdentifierOnNewParentRejected(t *testing.T) {
	ctx := context.Background()
	sess, _ := newInvoiceSession(t)
	inv, err := sess.New(invoice.TypeName)
	if err != nil {
		t.Fatal(err)
	}

	err = sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{map[string]any{"id": "42"}}})
	if !errors.Is(err, embedding.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestEmbedding_DuplicateIdentifiers(t *testing.T) {
	ctx := context.Background()

	t.Run("later entry wins", func(t *testing.T) {
		sess, _ := newInvoiceSession(t)
		inv, ids := persistedInvoice(t, sess, "one", "two")

		err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{
			map[string]any{"id": ids[0], "description": "first"},
			map[string]any{"id": ids[1]},
			map[string]any{"id": ids[0], "description": "second"},
		}})
		if err != nil {
			t.Fatal(err)
		}
		if got := visibleDescriptions(t, inv); !reflect.DeepEqual(got, []string{"two", "second"}) {
			t.Errorf("expected [two second], got %v", got)
		}
	})

	t.Run("rejected by configuration", func(t *testing.T) {
		cfg := embedding.DefaultConfig()
		cfg.RejectDuplicateIDs = true
		sess, _ := newInvoiceSession(t, embedding.WithConfig(cfg))
		inv, ids := persistedInvoice(t, sess, "one")

		err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{
			map[string]any{"id": ids[0]},
			map[string]any{"id": ids[0]},
		}})
		if !errors.Is(err, embedding.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestEmbedding_MalformedPayload(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		items any
	}{
		{"not a sequence", "items"},
		{"map instead of sequence", map[string]any{"amount": 1}},
		{"scalar entry", []any{1}},
		{"nil entry", []any{nil}},
		{"bad identifier", []any{map[string]any{"id": 1.5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, _ := newInvoiceSession(t)
			inv, err := sess.New(invoice.TypeName)
			if err != nil {
				t.Fatal(err)
			}
			err = sess.SetAttributes(ctx, inv, embedding.Attributes{"items": tt.items})
			if !errors.Is(err, embedding.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			if got := visibleDescriptions(t, inv); len(got) != 0 {
				t.Errorf("expected no children, got %v", got)
			}
		})
	}
}

func TestEmbedding_AllowList(t *testing.T) {
	ctx := context.Background()

	t.Run("lenient drops unknown fields", func(t *testing.T) {
		sess, _ := newInvoiceSession(t)
		inv, _ := sess.New(invoice.TypeName)
		err := sess.SetAttributes(ctx, inv, embedding.Attributes{
			"recipient_email": "a@example.com",
			"admin":           true,
			"id":              "forged",
			"items":           []any{map[string]any{"amount": 1, "secret": "x", "invoice_id": "forged"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if inv.Get("admin") != nil || inv.ID() != "" {
			t.Errorf("expected admin and id to be dropped, got %v", inv.Attributes())
		}
		children, _ := inv.VisibleChildren(ctx, invoice.Items)
		if _, ok := children[0].Attrs["secret"]; ok {
			t.Error("expected secret to be dropped")
		}
		if _, ok := children[0].Attrs["invoice_id"]; ok {
			t.Error("expected foreign key to be dropped")
		}
	})

	t.Run("strict rejects unknown fields", func(t *testing.T) {
		cfg := embedding.DefaultConfig()
		cfg.StrictAssignment = true
		sess, _ := newInvoiceSession(t, embedding.WithConfig(cfg))
		inv, _ := sess.New(invoice.TypeName)

		err := sess.SetAttributes(ctx, inv, embedding.Attributes{"admin": true})
		if !errors.Is(err, embedding.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
		err = sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{map[string]any{"secret": 1}}})
		if !errors.Is(err, embedding.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestEmbedding_DestroyFlagOnNewChildIsDropped(t *testing.T) {
	ctx := context.Background()
	sess, st := newInvoiceSession(t)
	inv, _ := sess.New(invoice.TypeName)

	err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{
		item("kept", 1, 1),
		map[string]any{"description": "dropped", "_destroy": "1"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if all := snapshot(t, inv, invoice.Items); len(all) != 1 {
		t.Errorf("expected 1 staged child, got %+v", all)
	}
	if err := sess.Persist(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if st.Count("items") != 1 {
		t.Errorf("expected 1 item, got %d", st.Count("items"))
	}
}

func TestEmbedding_PayloadNotMutated(t *testing.T) {
	ctx := context.Background()
	sess, _ := newInvoiceSession(t)
	inv, ids := persistedInvoice(t, sess, "one", "two")

	entries := []any{map[string]any{"id": ids[0]}}
	payload := embedding.Attributes{"items": entries}
	if err := sess.SetAttributes(ctx, inv, payload); err != nil {
		t.Fatal(err)
	}
	if _, ok := payload["items"]; !ok {
		t.Error("expected payload to keep its relation key")
	}
	if _, ok := payload["items_attributes"]; ok {
		t.Error("expected payload not to gain the nested key")
	}
	if len(entries) != 1 || len(payload["items"].([]any)) != 1 {
		t.Error("expected the caller's sequence to be left alone")
	}
}

// --- Lifecycle Edge Cases ---

func TestEmbedding_DestroyedEntity(t *testing.T) {
	ctx := context.Background()
	sess, _ := newInvoiceSession(t)
	inv, _ := persistedInvoice(t, sess, "one")

	if err := sess.Destroy(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{}}); !errors.Is(err, embedding.ErrDestroyed) {
		t.Errorf("expected ErrDestroyed from SetAttributes, got %v", err)
	}
	if err := sess.Persist(ctx, inv); !errors.Is(err, embedding.ErrDestroyed) {
		t.Errorf("expected ErrDestroyed from Persist, got %v", err)
	}
	if err := sess.Destroy(ctx, inv); !errors.Is(err, embedding.ErrDestroyed) {
		t.Errorf("expected ErrDestroyed from Destroy, got %v", err)
	}
}

func TestEmbedding_DestroyUnpersisted(t *testing.T) {
	ctx := context.Background()
	sess, st := newInvoiceSession(t)
	inv, _ := sess.New(invoice.TypeName)
	if err := sess.SetAttributes(ctx, inv, embedding.Attributes{"items": []any{item("a", 1, 1)}}); err != nil {
		t.Fatal(err)
	}
	st.ResetStats()

	if err := sess.Destroy(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if stats := st.Stats(); stats.Commits != 0 {
		t.Errorf("expected no transaction, got %+v", stats)
	}
	if got := visibleDescriptions(t, inv); len(got) != 0 {
		t.Errorf("expected staged children to be discarded, got %v", got)
	}
}

func TestEmbedding_UnknownType(t *testing.T) {
	sess, _ := newInvoiceSession(t)
	if _, err := sess.New("unknown"); !errors.Is(err, embedding.ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
	if _, err := sess.Load(context.Background(), "unknown", "1"); !errors.Is(err, embedding.ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestEmbedding_LoadMissing(t *testing.T) {
	sess, _ := newInvoiceSession(t)
	if _, err := sess.Load(context.Background(), invoice.TypeName, "missing"); !errors.Is(err, embedding.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEmbedding_UnknownRelation(t *testing.T) {
	sess, _ := newInvoiceSession(t)
	inv, _ := sess.New(invoice.TypeName)
	if _, err := inv.VisibleChildren(context.Background(), "payments"); !errors.Is(err, embedding.ErrUnknownRelation) {
		t.Errorf("expected ErrUnknownRelation, got %v", err)
	}
}

func TestEmbedding_EagerRelation(t *testing.T) {
	ctx := context.Background()
	reg := embedding.NewRegistry()
	_, err := reg.Define(
		embedding.Schema{Type: "order", Table: "orders"},
		embedding.EmbedsMany("lines", embedding.Eager()),
		embedding.EmbedsMany("notes"),
	)
	if err != nil {
		t.Fatal(err)
	}
	st := memstore.New()
	sess := embedding.NewSession(reg, st)

	order, _ := sess.New("order")
	err = sess.UpdateAttributes(ctx, order, embedding.Attributes{
		"lines": []any{map[string]any{"sku": "a"}},
		"notes": []any{map[string]any{"text": "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := sess.Load(ctx, "order", order.ID())
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Loaded("lines") {
		t.Error("expected eager relation to be loaded")
	}
	if loaded.Loaded("notes") {
		t.Error("expected lazy relation to be unloaded")
	}
}
