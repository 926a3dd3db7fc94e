package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/embedding/embedding"
	"github.com/jacentio/embedding/internal/shard"
)

// DynamoDB request limits.
const (
	maxTransactItems = 100
	maxBatchGet      = 100
	maxBatchWrite    = 25
	maxBatchAttempts = 5
)

// Store is an embedding.Engine over DynamoDB.
type Store struct {
	client Client
	config Config
}

// Compile-time contract assertion.
var _ embedding.Engine = (*Store)(nil)

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// relationshipPK computes the sharded partition key for a relationship record.
func (s *Store) relationshipPK(parentRef, childRef string) string {
	return shard.RelationshipPK(parentRef, childRef, s.config.NumShards)
}

// relationshipKey returns the primary key of a relationship record.
func relationshipKey(shardPK, childRef string) PK {
	return PK{
		"pk":        &types.AttributeValueMemberS{Value: shardPK},
		"child_ref": &types.AttributeValueMemberS{Value: childRef},
	}
}

// Get retrieves a row by key, returning ErrNotFound if expired or missing.
func (s *Store) Get(ctx context.Context, table string, key PK) (*Item, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	// Check if row is expired (has TTL in the past)
	if IsDeleted(result.Item) {
		return nil, ErrNotFound
	}

	return s.unmarshalItem(result.Item), nil
}

// LoadParent implements embedding.Engine.
func (s *Store) LoadParent(ctx context.Context, typ *embedding.Type, id string) (embedding.Row, error) {
	item, err := s.Get(ctx, s.config.TableName(typ.Table()), idKey(id))
	if errors.Is(err, ErrNotFound) {
		return embedding.Row{}, fmt.Errorf("%w: %s", ErrNotFound, embedding.EntityRef(typ.Name(), id))
	}
	if err != nil {
		return embedding.Row{}, err
	}
	return rowFromItem(item.Raw, "")
}

// LoadChildren implements embedding.Engine. Rows come back in relationship
// sort key order, which is insertion order for time-ordered identifiers.
// Expired children are skipped.
func (s *Store) LoadChildren(ctx context.Context, rel *embedding.Relation, parentID string) ([]embedding.Row, error) {
	refs, err := s.ChildRefs(ctx, rel, parentID)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID()
	}
	items, err := s.batchGet(ctx, s.config.TableName(rel.ChildTable()), ids)
	if err != nil {
		return nil, err
	}

	rows := make([]embedding.Row, 0, len(refs))
	for _, id := range ids {
		raw, ok := items[id]
		if !ok || IsDeleted(raw) {
			continue
		}
		row, err := rowFromItem(raw, rel.ForeignKey())
		if err != nil {
			return nil, err
		}
		if row.ParentID == "" {
			row.ParentID = parentID
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ChildIDs implements embedding.Engine. Only the relationship table is read.
func (s *Store) ChildIDs(ctx context.Context, rel *embedding.Relation, parentID string) ([]string, error) {
	refs, err := s.queryRefs(ctx, parentRef(rel, parentID), rel.Name()+"#", true)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID()
	}
	return ids, nil
}

// ChildRefs returns the relationship records of a relation under one parent,
// expired ones included.
func (s *Store) ChildRefs(ctx context.Context, rel *embedding.Relation, parentID string) ([]ChildRef, error) {
	return s.queryRefs(ctx, parentRef(rel, parentID), rel.Name()+"#", false)
}

// queryRefs reads the relationship records under parentRef whose sort key
// starts with prefix, fanning out over every shard.
func (s *Store) queryRefs(ctx context.Context, parentRef, prefix string, idsOnly bool) ([]ChildRef, error) {
	pks := shard.All(parentRef, s.config.NumShards)

	// Fast path for single shard (default)
	if len(pks) == 1 {
		return s.queryShard(ctx, pks[0], prefix, idsOnly)
	}

	// Multi-shard fan-out
	var mu sync.Mutex
	var all []ChildRef
	var wg sync.WaitGroup
	errs := make(chan error, len(pks))

	for _, pk := range pks {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()

			refs, err := s.queryShard(ctx, pk, prefix, idsOnly)
			if err != nil {
				errs <- fmt.Errorf("shard %s: %w", pk, err)
				return
			}

			mu.Lock()
			all = append(all, refs...)
			mu.Unlock()
		}(pk)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Ref < all[j].Ref })
	return all, nil
}

func (s *Store) queryShard(ctx context.Context, shardPK, prefix string, idsOnly bool) ([]ChildRef, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.RelationshipTable),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(child_ref, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: shardPK},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ConsistentRead: aws.Bool(true),
	}
	if idsOnly {
		input.ProjectionExpression = aws.String("pk, child_ref")
	}

	var refs []ChildRef
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			refs = append(refs, s.unmarshalChildRef(item, shardPK))
		}
	}
	return refs, nil
}

// batchGet reads rows by ID, keyed by ID in the result.
func (s *Store) batchGet(ctx context.Context, table string, ids []string) (map[string]map[string]types.AttributeValue, error) {
	out := make(map[string]map[string]types.AttributeValue, len(ids))
	for start := 0; start < len(ids); start += maxBatchGet {
		end := min(start+maxBatchGet, len(ids))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, idKey(id))
		}

		request := map[string]types.KeysAndAttributes{
			table: {Keys: keys, ConsistentRead: aws.Bool(true)},
		}
		for attempt := 0; len(request) > 0; attempt++ {
			if attempt == maxBatchAttempts {
				return nil, fmt.Errorf("store: batch get on %s left keys unprocessed", table)
			}
			result, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, err
			}
			for _, item := range result.Responses[table] {
				if v, ok := item[attrID].(*types.AttributeValueMemberS); ok {
					out[v.Value] = item
				}
			}
			request = result.UnprocessedKeys
		}
	}
	return out, nil
}

// Expire marks a parent for deletion by setting its TTL. The row disappears
// from reads once the TTL passes; the stream sweeper then removes its children.
// This also increments the version to fail concurrent updates.
func (s *Store) Expire(ctx context.Context, typ *embedding.Type, id string, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.TableName(typ.Table())),
		Key:                 idKey(id),
		UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     attrTTL,
			"#version": attrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(at.Unix(), 10),
			},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})

	// Missing or already expiring
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%w: %s", ErrNotFound, embedding.EntityRef(typ.Name(), id))
	}
	return err
}

// ExpireChildren copies a parent's TTL onto its children of one relation and
// onto their relationship records. It keeps going past individual failures
// and returns them joined.
func (s *Store) ExpireChildren(ctx context.Context, rel *embedding.Relation, parentID string, ttl int64) (int, error) {
	refs, err := s.ChildRefs(ctx, rel, parentID)
	if err != nil {
		return 0, fmt.Errorf("query children: %w", err)
	}

	var errs []error
	for _, ref := range refs {
		if err := s.SetTTLByKey(ctx, ref.TableName, ref.Key, ttl); err != nil {
			errs = append(errs, fmt.Errorf("child %s: %w", ref.Ref, err))
		}
		if err := s.SetRelationshipTTL(ctx, ref, ttl); err != nil {
			errs = append(errs, fmt.Errorf("relationship %s: %w", ref.Ref, err))
		}
	}
	return len(refs), errors.Join(errs...)
}

// SetTTLByKey sets TTL on a row by table and key.
func (s *Store) SetTTLByKey(ctx context.Context, table string, key PK, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(table),
		Key:                 key,
		UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     attrTTL,
			"#version": attrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(ttl, 10),
			},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})

	// Ignore condition failure - already has TTL or already gone
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// SetRelationshipTTL sets TTL on a relationship record.
func (s *Store) SetRelationshipTTL(ctx context.Context, ref ChildRef, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.config.RelationshipTable),
		Key:                 relationshipKey(ref.ShardPK, ref.Ref),
		UpdateExpression:    aws.String("SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_exists(pk) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": attrTTL,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(ttl, 10),
			},
		},
	})

	// Ignore condition failure - already has TTL
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// SweepChildren deletes the children of one relation under a parent that no
// longer exists, together with their relationship records. It returns the
// number of children removed. Sweeping twice is harmless.
func (s *Store) SweepChildren(ctx context.Context, rel *embedding.Relation, parentID string) (int, error) {
	refs, err := s.ChildRefs(ctx, rel, parentID)
	if err != nil {
		return 0, fmt.Errorf("query children: %w", err)
	}

	deletes := make([]deleteRequest, 0, 2*len(refs))
	for _, ref := range refs {
		deletes = append(deletes,
			deleteRequest{table: ref.TableName, key: ref.Key},
			deleteRequest{table: s.config.RelationshipTable, key: relationshipKey(ref.ShardPK, ref.Ref)},
		)
	}
	for start := 0; start < len(deletes); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(deletes))
		if err := s.batchDelete(ctx, deletes[start:end]); err != nil {
			return 0, err
		}
	}
	return len(refs), nil
}

type deleteRequest struct {
	table string
	key   PK
}

func (s *Store) batchDelete(ctx context.Context, deletes []deleteRequest) error {
	request := make(map[string][]types.WriteRequest)
	for _, d := range deletes {
		if d.table == "" || len(d.key) == 0 {
			continue
		}
		request[d.table] = append(request[d.table], types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: d.key},
		})
	}

	for attempt := 0; len(request) > 0; attempt++ {
		if attempt == maxBatchAttempts {
			return errors.New("store: batch delete left items unprocessed")
		}
		result, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: request})
		if err != nil {
			return err
		}
		request = result.UnprocessedItems
	}
	return nil
}
