package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/embedding/embedding"
)

// opKind tells which error a failed condition maps to.
type opKind int

const (
	opCheck opKind = iota
	opPut
	opUpdate
	opDelete
)

type txOp struct {
	kind  opKind
	table string
	id    string
}

// tx buffers writes and executes them with a single TransactWriteItems call.
type tx struct {
	store   *Store
	now     time.Time
	items   []types.TransactWriteItem
	ops     []txOp
	touched map[string]struct{}
	done    bool
}

// Begin implements embedding.Engine.
func (s *Store) Begin(ctx context.Context) (embedding.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{
		store:   s,
		now:     time.Now(),
		touched: make(map[string]struct{}),
	}, nil
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// add appends one transaction item. DynamoDB rejects a transaction touching
// the same item twice, so that is refused here.
func (t *tx) add(op txOp, item types.TransactWriteItem) error {
	if t.done {
		return ErrTxDone
	}
	if len(t.items) == maxTransactItems {
		return fmt.Errorf("%w: adding %s/%s", ErrTransactionTooLarge, op.table, op.id)
	}
	key := op.table + "/" + op.id
	if _, dup := t.touched[key]; dup {
		return fmt.Errorf("store: %s written twice in one transaction", key)
	}
	t.touched[key] = struct{}{}
	t.items = append(t.items, item)
	t.ops = append(t.ops, op)
	return nil
}

func (t *tx) managed(item map[string]types.AttributeValue) {
	nowISO := t.now.UTC().Format(time.RFC3339)
	item[attrVersion] = &types.AttributeValueMemberN{Value: "1"}
	item[attrCreatedAt] = &types.AttributeValueMemberS{Value: nowISO}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: nowISO}
}

func (t *tx) InsertParent(ctx context.Context, typ *embedding.Type, attrs embedding.Attributes) (string, error) {
	id, err := newID()
	if err != nil {
		return "", err
	}
	item, err := marshalAttrs(attrs)
	if err != nil {
		return "", err
	}
	item[attrID] = &types.AttributeValueMemberS{Value: id}
	item[attrEntityType] = &types.AttributeValueMemberS{Value: typ.Name()}
	item[attrEntityRef] = &types.AttributeValueMemberS{Value: embedding.EntityRef(typ.Name(), id)}
	t.managed(item)

	table := t.store.config.TableName(typ.Table())
	return id, t.add(txOp{kind: opPut, table: table, id: id}, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	})
}

func (t *tx) UpdateParent(ctx context.Context, typ *embedding.Type, id string, attrs embedding.Attributes) error {
	values, err := marshalAttrs(attrs)
	if err != nil {
		return err
	}
	expr, exprNames, exprValues := updateExpression(values, t.now)
	exprNames["#ttl"] = attrTTL

	table := t.store.config.TableName(typ.Table())
	return t.add(txOp{kind: opUpdate, table: table, id: id}, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(table),
			Key:                       idKey(id),
			UpdateExpression:          aws.String(expr),
			ConditionExpression:       aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
			ExpressionAttributeNames:  exprNames,
			ExpressionAttributeValues: exprValues,
		},
	})
}

func (t *tx) DeleteParent(ctx context.Context, typ *embedding.Type, id string) error {
	table := t.store.config.TableName(typ.Table())
	return t.add(txOp{kind: opDelete, table: table, id: id}, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:           aws.String(table),
			Key:                 idKey(id),
			ConditionExpression: aws.String("attribute_exists(id)"),
		},
	})
}

// checkParent adds a condition check on the parent row unless the
// transaction already writes or checks it.
func (t *tx) checkParent(rel *embedding.Relation, parentID string) error {
	table := t.store.config.TableName(rel.OwnerTable())
	if _, ok := t.touched[table+"/"+parentID]; ok {
		return nil
	}
	return t.add(txOp{kind: opCheck, table: table, id: parentID}, types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                 aws.String(table),
			Key:                       idKey(parentID),
			ConditionExpression:       aws.String(ParentExistsCondition()),
			ExpressionAttributeNames:  TTLFilterNames(),
			ExpressionAttributeValues: TTLFilterValues(),
		},
	})
}

func (t *tx) InsertChild(ctx context.Context, rel *embedding.Relation, parentID string, attrs embedding.Attributes) (string, error) {
	if err := t.checkParent(rel, parentID); err != nil {
		return "", err
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	item, err := marshalAttrs(attrs, rel.ForeignKey())
	if err != nil {
		return "", err
	}

	pRef := parentRef(rel, parentID)
	cRef := childRef(rel, id)
	item[attrID] = &types.AttributeValueMemberS{Value: id}
	item[rel.ForeignKey()] = &types.AttributeValueMemberS{Value: parentID}
	item[attrEntityRef] = &types.AttributeValueMemberS{Value: cRef}
	item[attrParentRef] = &types.AttributeValueMemberS{Value: pRef}
	t.managed(item)

	table := t.store.config.TableName(rel.ChildTable())
	err = t.add(txOp{kind: opPut, table: table, id: id}, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	})
	if err != nil {
		return "", err
	}

	shardPK := t.store.relationshipPK(pRef, cRef)
	return id, t.add(txOp{kind: opPut, table: t.store.config.RelationshipTable, id: shardPK + "/" + cRef}, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(t.store.config.RelationshipTable),
			Item: map[string]types.AttributeValue{
				"pk":          &types.AttributeValueMemberS{Value: shardPK},
				"child_ref":   &types.AttributeValueMemberS{Value: cRef},
				"parent_ref":  &types.AttributeValueMemberS{Value: pRef},
				"child_table": &types.AttributeValueMemberS{Value: table},
				"child_key":   &types.AttributeValueMemberM{Value: idKey(id)},
			},
		},
	})
}

func (t *tx) UpdateChild(ctx context.Context, rel *embedding.Relation, parentID, id string, attrs embedding.Attributes) error {
	values, err := marshalAttrs(attrs, rel.ForeignKey())
	if err != nil {
		return err
	}
	expr, exprNames, exprValues := updateExpression(values, t.now)
	exprNames["#fk"] = rel.ForeignKey()
	exprValues[":parent"] = &types.AttributeValueMemberS{Value: parentID}

	table := t.store.config.TableName(rel.ChildTable())
	return t.add(txOp{kind: opUpdate, table: table, id: id}, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(table),
			Key:                       idKey(id),
			UpdateExpression:          aws.String(expr),
			ConditionExpression:       aws.String("attribute_exists(id) AND #fk = :parent"),
			ExpressionAttributeNames:  exprNames,
			ExpressionAttributeValues: exprValues,
		},
	})
}

func (t *tx) DeleteChild(ctx context.Context, rel *embedding.Relation, parentID, id string) error {
	table := t.store.config.TableName(rel.ChildTable())
	err := t.add(txOp{kind: opDelete, table: table, id: id}, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:                 aws.String(table),
			Key:                       idKey(id),
			ConditionExpression:       aws.String("#fk = :parent"),
			ExpressionAttributeNames:  map[string]string{"#fk": rel.ForeignKey()},
			ExpressionAttributeValues: map[string]types.AttributeValue{":parent": &types.AttributeValueMemberS{Value: parentID}},
		},
	})
	if err != nil {
		return err
	}
	pRef := parentRef(rel, parentID)
	cRef := childRef(rel, id)
	return t.deleteRelationship(t.store.relationshipPK(pRef, cRef), cRef)
}

func (t *tx) deleteRelationship(shardPK, cRef string) error {
	table := t.store.config.RelationshipTable
	return t.add(txOp{kind: opDelete, table: table, id: shardPK + "/" + cRef}, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(table),
			Key:       relationshipKey(shardPK, cRef),
		},
	})
}

// DeleteChildren reads the relationship records of the relation and deletes
// every child row with its record.
func (t *tx) DeleteChildren(ctx context.Context, rel *embedding.Relation, parentID string) error {
	if t.done {
		return ErrTxDone
	}
	refs, err := t.store.ChildRefs(ctx, rel, parentID)
	if err != nil {
		return fmt.Errorf("query children: %w", err)
	}
	for _, ref := range refs {
		table := ref.TableName
		if table == "" {
			table = t.store.config.TableName(rel.ChildTable())
		}
		err := t.add(txOp{kind: opDelete, table: table, id: ref.ID()}, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(table),
				Key:       idKey(ref.ID()),
			},
		})
		if err != nil {
			return err
		}
		if err := t.deleteRelationship(ref.ShardPK, ref.Ref); err != nil {
			return err
		}
	}
	return nil
}

// Commit executes the buffered writes atomically. An empty transaction
// makes no call.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if len(t.items) == 0 {
		return nil
	}

	_, err := t.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      t.items,
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	return mapTransactionError(err, t.ops)
}

// Rollback discards the buffered writes. It is a no-op once finished.
func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.items = nil
	t.ops = nil
	return nil
}

// updateExpression builds a SET expression for the given attributes plus the
// managed timestamp and version fields.
func updateExpression(values map[string]types.AttributeValue, now time.Time) (string, map[string]string, map[string]types.AttributeValue) {
	exprNames := map[string]string{
		"#updated_at": attrUpdatedAt,
		"#version":    attrVersion,
	}
	exprValues := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		":one":        &types.AttributeValueMemberN{Value: "1"},
	}

	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	setClauses := make([]string, 0, len(names)+2)
	for i, k := range names {
		nameKey := "#attr" + strconv.Itoa(i)
		valueKey := ":val" + strconv.Itoa(i)
		exprNames[nameKey] = k
		exprValues[valueKey] = values[k]
		setClauses = append(setClauses, nameKey+" = "+valueKey)
	}
	setClauses = append(setClauses, "#updated_at = :updated_at", "#version = #version + :one")

	expr := "SET " + setClauses[0]
	for _, clause := range setClauses[1:] {
		expr += ", " + clause
	}
	return expr, exprNames, exprValues
}

// mapTransactionError maps a cancelled transaction to the error of the first
// item whose condition failed.
func mapTransactionError(err error, ops []txOp) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return err
	}
	for i, reason := range txErr.CancellationReasons {
		if reason.Code == nil {
			continue
		}
		switch *reason.Code {
		case "ConditionalCheckFailed":
			if i >= len(ops) {
				return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
			}
			op := ops[i]
			switch op.kind {
			case opCheck:
				return fmt.Errorf("%w: %s/%s", ErrParentNotFound, op.table, op.id)
			case opPut:
				return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, op.table, op.id)
			case opUpdate:
				return fmt.Errorf("%w: %s/%s", ErrConcurrentModification, op.table, op.id)
			case opDelete:
				return fmt.Errorf("%w: %s/%s", ErrNotFound, op.table, op.id)
			}
		case "TransactionConflict":
			return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
		}
	}
	return err
}
