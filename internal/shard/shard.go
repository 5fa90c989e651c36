package shard

import (
	"sync/atomic"

	"github.com/dreamware/graphps/internal/blob"
)

// Shard wraps a Table registered on a server with operation statistics.
// It implements Table itself so controllers can use it directly.
type Shard struct {
	Table Table       // The storage engine for this shard
	Stats *ShardStats // Operation statistics
	ID    int         // Table id assigned at registration
}

// ShardStats tracks operational statistics for a shard
type ShardStats struct {
	Ops OperationStats // Operation counts
}

// OperationStats tracks operation counts
type OperationStats struct {
	Gets     uint64 `json:"gets"`     // Number of get operations
	Adds     uint64 `json:"adds"`     // Number of add operations
	DotProds uint64 `json:"dotprods"` // Number of dotprod operations
	Adjusts  uint64 `json:"adjusts"`  // Number of adjust operations
	Errors   uint64 `json:"errors"`   // Number of rejected requests
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	ID    int            `json:"id"`    // Table identifier
	Table Info           `json:"table"` // Owned slice of the table
	Ops   OperationStats `json:"operations"`
}

// NewShard wraps table under id
func NewShard(id int, table Table) *Shard {
	return &Shard{
		ID:    id,
		Table: table,
		Stats: &ShardStats{},
	}
}

// count increments the counter for the op carried by req
func (s *Shard) count(req blob.Blob) {
	op, err := blob.PeekOp(req)
	if err != nil {
		return
	}
	switch op {
	case blob.OpGet:
		atomic.AddUint64(&s.Stats.Ops.Gets, 1)
	case blob.OpAdd:
		atomic.AddUint64(&s.Stats.Ops.Adds, 1)
	case blob.OpDotProd:
		atomic.AddUint64(&s.Stats.Ops.DotProds, 1)
	case blob.OpAdjust:
		atomic.AddUint64(&s.Stats.Ops.Adjusts, 1)
	}
}

func (s *Shard) observe(reply blob.Blob, err error) (blob.Blob, error) {
	if err != nil {
		atomic.AddUint64(&s.Stats.Ops.Errors, 1)
	}
	return reply, err
}

// ProcessGet forwards to the table and records the operation
func (s *Shard) ProcessGet(req blob.Blob) (blob.Blob, error) {
	s.count(req)
	return s.observe(s.Table.ProcessGet(req))
}

// ProcessAdd forwards to the table and records the operation
func (s *Shard) ProcessAdd(req blob.Blob) (blob.Blob, error) {
	s.count(req)
	return s.observe(s.Table.ProcessAdd(req))
}

// Describe returns the table description
func (s *Shard) Describe() Info {
	return s.Table.Describe()
}

// GetStats returns current shard statistics
func (s *Shard) GetStats() ShardStats {
	return ShardStats{
		Ops: OperationStats{
			Gets:     atomic.LoadUint64(&s.Stats.Ops.Gets),
			Adds:     atomic.LoadUint64(&s.Stats.Ops.Adds),
			DotProds: atomic.LoadUint64(&s.Stats.Ops.DotProds),
			Adjusts:  atomic.LoadUint64(&s.Stats.Ops.Adjusts),
			Errors:   atomic.LoadUint64(&s.Stats.Ops.Errors),
		},
	}
}

// Info returns metadata about the shard
func (s *Shard) Info() ShardInfo {
	return ShardInfo{
		ID:    s.ID,
		Table: s.Table.Describe(),
		Ops:   s.GetStats().Ops,
	}
}
