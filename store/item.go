package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/embedding/embedding"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// idKey returns the primary key of a parent or child row.
func idKey(id string) PK {
	return PK{"id": &types.AttributeValueMemberS{Value: id}}
}

// Attributes managed by the store. They are written next to the entity
// attributes and stripped again on read.
const (
	attrID         = "id"
	attrEntityType = "entity_type"
	attrEntityRef  = "entity_ref"
	attrParentRef  = "parent_ref"
	attrVersion    = "version"
	attrCreatedAt  = "created_at"
	attrUpdatedAt  = "updated_at"
	attrTTL        = "ttl"
)

func isManaged(name string) bool {
	switch name {
	case attrID, attrEntityType, attrEntityRef, attrParentRef,
		attrVersion, attrCreatedAt, attrUpdatedAt, attrTTL:
		return true
	}
	return false
}

// Item represents a retrieved DynamoDB item with common fields.
type Item struct {
	// Raw is the raw DynamoDB item.
	Raw map[string]types.AttributeValue

	// Version is incremented by every update.
	Version int64

	// CreatedAt is the ISO 8601 creation timestamp.
	CreatedAt string

	// UpdatedAt is the ISO 8601 last update timestamp.
	UpdatedAt string

	// EntityRef is the type-qualified entity reference.
	EntityRef string

	// ParentRef is the parent's entity reference (empty for parent rows).
	ParentRef string
}

// ChildRef represents a reference to a child row in the relationship table.
type ChildRef struct {
	// Ref is the child reference ("<relation>#<id>").
	Ref string

	// TableName is the DynamoDB table containing the child.
	TableName string

	// Key is the primary key to locate the child.
	Key PK

	// ShardPK is the relationship table partition key.
	ShardPK string
}

// ID returns the child identifier encoded in Ref.
func (c ChildRef) ID() string {
	if i := strings.LastIndexByte(c.Ref, '#'); i >= 0 {
		return c.Ref[i+1:]
	}
	return c.Ref
}

// childRef builds the relationship sort key of a child.
func childRef(rel *embedding.Relation, id string) string {
	return rel.Name() + "#" + id
}

// parentRef builds the entity reference of a relation's parent.
func parentRef(rel *embedding.Relation, parentID string) string {
	return embedding.EntityRef(rel.Owner(), parentID)
}

// marshalAttrs encodes entity attributes. Attributes named in skip are
// dropped; any other attribute named like a managed attribute fails with
// ErrReservedAttribute.
func marshalAttrs(attrs embedding.Attributes, skip ...string) (map[string]types.AttributeValue, error) {
	if attrs == nil {
		attrs = embedding.Attributes{}
	}
	item, err := attributevalue.MarshalMap(map[string]any(attrs))
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	for _, name := range skip {
		delete(item, name)
	}
	for name := range item {
		if isManaged(name) {
			return nil, fmt.Errorf("%w: %s", ErrReservedAttribute, name)
		}
	}
	return item, nil
}

// checkReserved rejects declared fields and foreign keys that would be
// written over managed attributes.
func checkReserved(reg *embedding.Registry) error {
	for _, typ := range reg.Types() {
		for _, name := range typ.Fields() {
			if isManaged(name) {
				return fmt.Errorf("%w: %s.%s", ErrReservedAttribute, typ.Name(), name)
			}
		}
		for _, rel := range typ.Relations() {
			if isManaged(rel.ForeignKey()) {
				return fmt.Errorf("%w: %s.%s foreign key %s", ErrReservedAttribute, typ.Name(), rel.Name(), rel.ForeignKey())
			}
			for _, name := range rel.Fields() {
				if isManaged(name) {
					return fmt.Errorf("%w: %s.%s.%s", ErrReservedAttribute, typ.Name(), rel.Name(), name)
				}
			}
		}
	}
	return nil
}

// rowFromItem decodes a stored row. foreignKey names the attribute holding
// the parent ID; it is empty for parent rows.
func rowFromItem(raw map[string]types.AttributeValue, foreignKey string) (embedding.Row, error) {
	var attrs map[string]any
	if err := attributevalue.UnmarshalMap(raw, &attrs); err != nil {
		return embedding.Row{}, fmt.Errorf("unmarshal row: %w", err)
	}

	row := embedding.Row{Attrs: embedding.Attributes{}}
	if v, ok := raw[attrID].(*types.AttributeValueMemberS); ok {
		row.ID = v.Value
	}
	if foreignKey != "" {
		if v, ok := raw[foreignKey].(*types.AttributeValueMemberS); ok {
			row.ParentID = v.Value
		}
	}
	for k, v := range attrs {
		if isManaged(k) || k == foreignKey {
			continue
		}
		row.Attrs[k] = v
	}
	return row, nil
}

// unmarshalItem converts a DynamoDB item to an Item struct.
func (s *Store) unmarshalItem(raw map[string]types.AttributeValue) *Item {
	item := &Item{Raw: raw}

	if v, ok := raw[attrVersion].(*types.AttributeValueMemberN); ok {
		item.Version, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	if v, ok := raw[attrCreatedAt].(*types.AttributeValueMemberS); ok {
		item.CreatedAt = v.Value
	}
	if v, ok := raw[attrUpdatedAt].(*types.AttributeValueMemberS); ok {
		item.UpdatedAt = v.Value
	}
	if v, ok := raw[attrEntityRef].(*types.AttributeValueMemberS); ok {
		item.EntityRef = v.Value
	}
	if v, ok := raw[attrParentRef].(*types.AttributeValueMemberS); ok {
		item.ParentRef = v.Value
	}

	return item
}

// unmarshalChildRef converts a relationship item to a ChildRef.
func (s *Store) unmarshalChildRef(item map[string]types.AttributeValue, shardPK string) ChildRef {
	ref := ChildRef{ShardPK: shardPK}

	if v, ok := item["child_ref"].(*types.AttributeValueMemberS); ok {
		ref.Ref = v.Value
	}
	if v, ok := item["child_table"].(*types.AttributeValueMemberS); ok {
		ref.TableName = v.Value
	}
	if v, ok := item["child_key"].(*types.AttributeValueMemberM); ok {
		ref.Key = v.Value
	}

	return ref
}
