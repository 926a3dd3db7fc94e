// Package invoice defines the invoice entity with its embedded line items.
package invoice

import (
	"context"

	"github.com/jacentio/embedding/embedding"
)

const (
	// TypeName is the invoice entity type.
	TypeName = "invoice"

	// Items is the embedded line item relation.
	Items = "items"
)

// Schema returns the invoice declaration.
func Schema() (embedding.Schema, []embedding.RelationSpec) {
	return embedding.Schema{
			Type:   TypeName,
			Table:  "invoices",
			Fields: []string{"recipient_email"},
		}, []embedding.RelationSpec{
			embedding.EmbedsMany(Items,
				embedding.ChildTable("items"),
				embedding.ForeignKey("invoice_id"),
				embedding.ChildFields("amount", "description", "value"),
			),
		}
}

// Define registers the invoice type on r.
func Define(r *embedding.Registry) (*embedding.Type, error) {
	schema, relations := Schema()
	return r.Define(schema, relations...)
}

// Total sums amount × value over the visible items. Items missing either
// number contribute nothing.
func Total(ctx context.Context, e *embedding.Entity) (float64, error) {
	items, err := e.VisibleChildren(ctx, Items)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, item := range items {
		amount, ok := item.Attrs.Float("amount")
		if !ok {
			continue
		}
		value, ok := item.Attrs.Float("value")
		if !ok {
			continue
		}
		total += amount * value
	}
	return total, nil
}
