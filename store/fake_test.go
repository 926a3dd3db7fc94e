package store_test

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/embedding/store"
)

// fakeDynamo is an in-memory stand-in for the DynamoDB operations the store
// issues. It understands exactly the expressions the store builds.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	transacts     int
	lastTransact  int
	failTransact  error
	conditionErrs int
}

var _ store.Client = (*fakeDynamo)(nil)

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]map[string]map[string]types.AttributeValue)}
}

func sval(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func keyString(m map[string]types.AttributeValue) string {
	if ref, ok := m["child_ref"]; ok {
		return sval(m["pk"]) + "|" + sval(ref)
	}
	return sval(m["id"])
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (f *fakeDynamo) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]map[string]types.AttributeValue)
		f.tables[name] = t
	}
	return t
}

// count returns the number of rows in a table.
func (f *fakeDynamo) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// rows returns copies of every row in a table, ordered by key.
func (f *fakeDynamo) rows(table string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.tables[table]))
	for k := range f.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, len(keys))
	for i, k := range keys {
		out[i] = copyItem(f.tables[table][k])
	}
	return out
}

// put stores a row directly.
func (f *fakeDynamo) put(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.table(table)[keyString(item)] = copyItem(item)
}

func ttlPassed(item map[string]types.AttributeValue) (has, passed bool) {
	v, ok := item["ttl"]
	if !ok {
		return false, false
	}
	ttl, _ := strconv.ParseInt(sval(v), 10, 64)
	return true, ttl <= time.Now().Unix()
}

// conditionHolds evaluates the condition expressions built by the store.
func conditionHolds(expr *string, names map[string]string, values map[string]types.AttributeValue, existing map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	e := *expr
	exists := existing != nil

	if strings.Contains(e, "attribute_not_exists(id)") && exists {
		return false
	}
	if (strings.Contains(e, "attribute_exists(id)") || strings.Contains(e, "attribute_exists(pk)")) && !exists {
		return false
	}
	switch {
	case strings.Contains(e, "attribute_not_exists(#ttl) OR #ttl > :now"):
		if has, passed := ttlPassed(existing); has && passed {
			return false
		}
	case strings.Contains(e, "attribute_not_exists(#ttl)"):
		if has, _ := ttlPassed(existing); has {
			return false
		}
	}
	if strings.Contains(e, "#fk = :parent") {
		if !exists || sval(existing[names["#fk"]]) != sval(values[":parent"]) {
			return false
		}
	}
	return true
}

// applyUpdate applies a "SET a = :b, #n = #n + :one" expression.
func applyUpdate(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) {
	resolve := func(name string) string {
		if strings.HasPrefix(name, "#") {
			return names[name]
		}
		return name
	}
	for _, clause := range strings.Split(strings.TrimPrefix(expr, "SET "), ", ") {
		lhs, rhs, _ := strings.Cut(clause, " = ")
		attr := resolve(lhs)
		if _, incr, ok := strings.Cut(rhs, " + "); ok {
			cur, _ := strconv.ParseInt(sval(item[attr]), 10, 64)
			n, _ := strconv.ParseInt(sval(values[incr]), 10, 64)
			item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+n, 10)}
			continue
		}
		item[attr] = values[rhs]
	}
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.table(aws.ToString(params.TableName))[keyString(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := sval(params.ExpressionAttributeValues[":pk"])
	prefix := sval(params.ExpressionAttributeValues[":prefix"])

	var items []map[string]types.AttributeValue
	for _, item := range f.table(aws.ToString(params.TableName)) {
		if sval(item["pk"]) != pk || !strings.HasPrefix(sval(item["child_ref"]), prefix) {
			continue
		}
		out := copyItem(item)
		if params.ProjectionExpression != nil {
			out = map[string]types.AttributeValue{"pk": item["pk"], "child_ref": item["child_ref"]}
		}
		items = append(items, out)
	}
	sort.Slice(items, func(i, j int) bool { return sval(items[i]["child_ref"]) < sval(items[j]["child_ref"]) })
	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

func (f *fakeDynamo) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	responses := make(map[string][]map[string]types.AttributeValue)
	for table, req := range params.RequestItems {
		for _, key := range req.Keys {
			if item, ok := f.table(table)[keyString(key)]; ok {
				responses[table] = append(responses[table], copyItem(item))
			}
		}
	}
	return &dynamodb.BatchGetItemOutput{Responses: responses}, nil
}

func (f *fakeDynamo) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for table, reqs := range params.RequestItems {
		for _, req := range reqs {
			switch {
			case req.DeleteRequest != nil:
				delete(f.table(table), keyString(req.DeleteRequest.Key))
			case req.PutRequest != nil:
				f.table(table)[keyString(req.PutRequest.Item)] = copyItem(req.PutRequest.Item)
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := f.table(aws.ToString(params.TableName))
	key := keyString(params.Key)
	existing := table[key]
	if !conditionHolds(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing) {
		f.conditionErrs++
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	item := copyItem(existing)
	for k, v := range params.Key {
		item[k] = v
	}
	applyUpdate(item, aws.ToString(params.UpdateExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	table[key] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transacts++
	f.lastTransact = len(params.TransactItems)
	if f.failTransact != nil {
		return nil, f.failTransact
	}
	if len(params.TransactItems) > 100 {
		return nil, errors.New("ValidationException: too many items")
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, ti := range params.TransactItems {
		var (
			table  string
			key    map[string]types.AttributeValue
			cond   *string
			names  map[string]string
			values map[string]types.AttributeValue
		)
		switch {
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			table, key, cond, names, values = aws.ToString(c.TableName), c.Key, c.ConditionExpression, c.ExpressionAttributeNames, c.ExpressionAttributeValues
		case ti.Put != nil:
			p := ti.Put
			table, key, cond, names, values = aws.ToString(p.TableName), p.Item, p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues
		case ti.Update != nil:
			u := ti.Update
			table, key, cond, names, values = aws.ToString(u.TableName), u.Key, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues
		case ti.Delete != nil:
			d := ti.Delete
			table, key, cond, names, values = aws.ToString(d.TableName), d.Key, d.ConditionExpression, d.ExpressionAttributeNames, d.ExpressionAttributeValues
		}
		existing := f.table(table)[keyString(key)]
		if conditionHolds(cond, names, values, existing) {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
			continue
		}
		reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
		failed = true
	}
	if failed {
		f.conditionErrs++
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range params.TransactItems {
		switch {
		case ti.Put != nil:
			f.table(aws.ToString(ti.Put.TableName))[keyString(ti.Put.Item)] = copyItem(ti.Put.Item)
		case ti.Update != nil:
			table := f.table(aws.ToString(ti.Update.TableName))
			key := keyString(ti.Update.Key)
			item := copyItem(table[key])
			applyUpdate(item, aws.ToString(ti.Update.UpdateExpression), ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
			table[key] = item
		case ti.Delete != nil:
			delete(f.table(aws.ToString(ti.Delete.TableName)), keyString(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
