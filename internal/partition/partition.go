// Package partition maps key batches onto the shards that own them.
//
// Row-sharded tables split the row space into contiguous ranges, one per
// shard, with the last shard absorbing the remainder of the integer
// division. Column-sharded tables split the column space the same way, so
// every logical row is spread across all shards and requests are broadcast.
package partition

import (
	"fmt"

	"github.com/dreamware/graphps/internal/blob"
)

// Range returns the offset and size of part index when total items are
// split into parts contiguous ranges. The last part absorbs the remainder.
func Range(total, parts, index int) (offset, size int) {
	each := total / parts
	offset = each * index
	size = each
	if index == parts-1 {
		size = total - offset
	}
	return offset, size
}

// RowOwner returns the shard owning row key of a rows-row table split across
// shards shards.
func RowOwner(key int32, rows, shards int) int {
	each := rows / shards
	if each == 0 {
		return shards - 1
	}
	owner := int(key) / each
	if owner >= shards {
		owner = shards - 1
	}
	return owner
}

// Batch is the slice of a request addressed to one shard. Index holds the
// position each key had in the original request, so replies can be zipped
// back without sorting.
type Batch struct {
	Keys   []int32
	Values []float32
	Index  []int
}

// Rows partitions keys (and, when values is non-nil, their cols-wide value
// rows) across shards. The result always has exactly shards entries; shards
// that receive no keys get an empty batch so that every shard is addressed
// and replies can be counted. Within a batch keys keep their request order.
func Rows(keys []int32, values []float32, cols, rows, shards int) ([]Batch, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("partition: invalid shard count %d", shards)
	}
	if values != nil && len(values) != len(keys)*cols {
		return nil, fmt.Errorf("partition: %d values for %d keys of width %d", len(values), len(keys), cols)
	}

	owners := make([]int, len(keys))
	counts := make([]int, shards)
	for i, key := range keys {
		if key < 0 || int(key) >= rows {
			return nil, fmt.Errorf("partition: key %d outside [0, %d)", key, rows)
		}
		owners[i] = RowOwner(key, rows, shards)
		counts[owners[i]]++
	}

	batches := make([]Batch, shards)
	for s := range batches {
		batches[s].Keys = make([]int32, 0, counts[s])
		batches[s].Index = make([]int, 0, counts[s])
		if values != nil {
			batches[s].Values = make([]float32, 0, counts[s]*cols)
		}
	}
	for i, key := range keys {
		b := &batches[owners[i]]
		b.Keys = append(b.Keys, key)
		b.Index = append(b.Index, i)
		if values != nil {
			b.Values = append(b.Values, values[i*cols:(i+1)*cols]...)
		}
	}
	return batches, nil
}

// Broadcast addresses the same request to every shard.
func Broadcast(b blob.Blob, shards int) []blob.Blob {
	out := make([]blob.Blob, shards)
	for i := range out {
		out[i] = b
	}
	return out
}
