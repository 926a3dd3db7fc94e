// Package shard computes relationship table partition keys.
package shard

import (
	"fmt"
	"hash/fnv"
)

// MaxShards is the largest supported shard count.
const MaxShards = 256

// RelationshipPK computes the sharded partition key for a relationship record.
// With numShards=1, all records go to shard "00".
// With numShards>1, records are distributed across shards based on childRef hash.
func RelationshipPK(parentRef, childRef string, numShards int) string {
	if numShards <= 1 {
		return PK(parentRef, 0)
	}
	h := fnv.New32a()
	h.Write([]byte(childRef))
	return PK(parentRef, int(h.Sum32()%uint32(numShards)))
}

// PK returns the partition key of one shard of a parent.
func PK(parentRef string, shard int) string {
	return fmt.Sprintf("%s#%02x", parentRef, shard)
}

// All returns the partition keys of every shard of a parent, in shard order.
func All(parentRef string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	if numShards > MaxShards {
		numShards = MaxShards
	}
	pks := make([]string, numShards)
	for i := range pks {
		pks[i] = PK(parentRef, i)
	}
	return pks
}
