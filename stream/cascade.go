// Package stream provides DynamoDB Streams handlers that finish cascades the
// request path leaves behind: children of expired or removed parents.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/embedding/embedding"
	"github.com/jacentio/embedding/store"
)

// Sweeper is the part of *store.Store the handler drives.
type Sweeper interface {
	ExpireChildren(ctx context.Context, rel *embedding.Relation, parentID string, ttl int64) (int, error)
	SweepChildren(ctx context.Context, rel *embedding.Relation, parentID string) (int, error)
}

var _ Sweeper = (*store.Store)(nil)

// Handler processes parent table stream events.
type Handler struct {
	sweeper  Sweeper
	registry *embedding.Registry
	logger   *slog.Logger
}

// NewHandler creates a new stream handler. The registry resolves the
// entity_type recorded on parent rows.
func NewHandler(s Sweeper, reg *embedding.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = embedding.NewRegistry()
	}
	return &Handler{
		sweeper:  s,
		registry: reg,
		logger:   logger,
	}
}

// HandleCascadeDelete processes DynamoDB stream events from parent tables.
// A newly set TTL is copied onto the parent's children; a removed parent has
// its children deleted. This function is designed to be used as an AWS
// Lambda handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	switch record.EventName {
	case "MODIFY":
		return h.expire(ctx, record.Change)
	case "REMOVE":
		return h.sweep(ctx, record.Change)
	}
	return nil
}

// parent resolves the entity type and ID of a parent row image. Child rows
// carry no entity_type and are skipped.
func (h *Handler) parent(image, keys map[string]events.DynamoDBAttributeValue) (*embedding.Type, string, bool) {
	entityType := getStringAttr(image, "entity_type")
	if entityType == "" {
		return nil, "", false
	}
	typ, ok := h.registry.Type(entityType)
	if !ok {
		h.logger.Warn("skipping unknown entity type", "type", entityType)
		return nil, "", false
	}

	id := getStringAttr(image, "id")
	if id == "" {
		if v, ok := ConvertStreamKey(keys)["id"].(*types.AttributeValueMemberS); ok {
			id = v.Value
		}
	}
	return typ, id, id != ""
}

func (h *Handler) expire(ctx context.Context, change events.DynamoDBStreamRecord) error {
	oldTTL := getNumberAttr(change.OldImage, "ttl")
	newTTL := getNumberAttr(change.NewImage, "ttl")

	// Only process when TTL is newly set (was absent/0, now present)
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}
	typ, id, ok := h.parent(change.NewImage, change.Keys)
	if !ok {
		return nil
	}

	h.logger.Info("expiring children",
		"entityRef", embedding.EntityRef(typ.Name(), id),
		"ttl", newTTL,
	)
	for _, rel := range typ.Relations() {
		n, err := h.sweeper.ExpireChildren(ctx, rel, id, newTTL)
		if err != nil {
			return fmt.Errorf("expire %s: %w", rel.Name(), err)
		}
		h.logger.Info("expired children",
			"entityRef", embedding.EntityRef(typ.Name(), id),
			"relation", rel.Name(),
			"childCount", n,
		)
	}
	return nil
}

func (h *Handler) sweep(ctx context.Context, change events.DynamoDBStreamRecord) error {
	typ, id, ok := h.parent(change.OldImage, change.Keys)
	if !ok {
		return nil
	}

	total := 0
	for _, rel := range typ.Relations() {
		n, err := h.sweeper.SweepChildren(ctx, rel, id)
		if err != nil {
			return fmt.Errorf("sweep %s: %w", rel.Name(), err)
		}
		total += n
	}

	h.logger.Info("swept children",
		"entityRef", embedding.EntityRef(typ.Name(), id),
		"childrenRemoved", total,
	)
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertStreamKey converts a DynamoDB stream key to a store.PK.
// Use this when you need to convert keys from stream records to store operations.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.PK {
	result := make(store.PK)
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
