// Package embedding lets a parent entity embed child collections that are
// created, updated and deleted through a single attribute assignment on the
// parent, with every change staged in memory until Persist.
//
// # Declaring
//
// Entity types are defined once, with their embedded relations, and are
// immutable afterwards:
//
//	reg := embedding.NewRegistry()
//	invoice, err := reg.Define(
//	    embedding.Schema{Type: "invoice", Table: "invoices", Fields: []string{"recipient_email"}},
//	    embedding.EmbedsMany("items", embedding.ForeignKey("invoice_id")),
//	)
//
// Every embedded relation cascades deletes, autosaves, accepts nested
// attributes and allows destroy. Those options are fixed.
//
// # Assigning
//
// A payload key naming a relation carries the complete desired child
// sequence. Children named by id are updated, children without an id are
// created, and persisted children missing from the sequence are marked for
// destruction:
//
//	err := sess.SetAttributes(ctx, inv, embedding.Attributes{
//	    "items": []any{
//	        map[string]any{"id": "01J...", "amount": 2},
//	        map[string]any{"amount": 1, "value": 10.0},
//	    },
//	})
//
// No write is issued until Persist. Marked children are hidden from
// [Entity.VisibleChildren] but still returned by [Entity.AllChildren],
// which is what Persist iterates.
//
// # Engines
//
// Storage goes through the [Engine] and [Tx] interfaces. The store package
// implements them on DynamoDB, sqlstore on SQL databases through bun, and
// memstore in process memory.
//
// # Errors
//
//   - [ErrValidation] - malformed payload or foreign child identifier ([ValidationError])
//   - [ErrConfiguration] - invalid declaration ([ConfigurationError])
//   - [ErrPersistCascade] - a row operation failed during Persist or Destroy ([PersistCascadeError])
//   - [ErrDestroyed] - the entity was already destroyed
package embedding
