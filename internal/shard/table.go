package shard

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/dreamware/graphps/internal/blob"
	"github.com/dreamware/graphps/internal/partition"
)

var (
	// ErrKeyOutOfRange is returned when a request addresses a row this shard
	// does not own.
	ErrKeyOutOfRange = errors.New("key outside shard range")

	// ErrUnsupportedOp is returned when a table receives an op its layout
	// does not implement.
	ErrUnsupportedOp = errors.New("op not supported by table layout")
)

// Layout identifies how a logical table is split across shards.
type Layout string

const (
	// LayoutRow splits the table into contiguous row ranges.
	LayoutRow Layout = "row"
	// LayoutColumn splits the table into contiguous column ranges.
	LayoutColumn Layout = "column"
)

// Table is the server-side slice of a logical table. ProcessGet serves
// requests that return data (Get, DotProd); ProcessAdd serves updates (Add,
// Adjust). Both return the reply blob for the requester.
//
// Implementations are not safe for concurrent use: the consistency
// controller calls them from a single goroutine.
type Table interface {
	ProcessGet(req blob.Blob) (blob.Blob, error)
	ProcessAdd(req blob.Blob) (blob.Blob, error)
	Describe() Info
}

// Options describes a logical table at creation time.
type Options struct {
	Rows    int     // Logical row count R
	Cols    int     // Logical column count C
	InitMin float32 // Lower bound of the uniform initial fill
	InitMax float32 // Upper bound of the uniform initial fill
	Threads int     // Data-parallel workers for inner loops
	Seed    int64   // Base seed; each shard adds its server index
}

// Placement locates one shard among the servers of a table.
type Placement struct {
	Server  int // This shard's server index
	Servers int // Total number of servers
}

// Info describes the slice of the table a shard owns.
type Info struct {
	Layout Layout `json:"layout"`
	Rows   int    `json:"rows"`
	Cols   int    `json:"cols"`
	Offset int    `json:"offset"`
	Size   int    `json:"size"`
	Bytes  int    `json:"bytes"`
}

// New creates the shard-side table for layout.
func New(layout Layout, opts Options, place Placement) (Table, error) {
	switch layout {
	case LayoutRow:
		return NewRowTable(opts, place)
	case LayoutColumn:
		return NewColumnTable(opts, place)
	}
	return nil, fmt.Errorf("unknown table layout %q", layout)
}

func (o Options) validate(place Placement, span int) error {
	if place.Servers <= 0 || place.Server < 0 || place.Server >= place.Servers {
		return fmt.Errorf("invalid placement: server %d of %d", place.Server, place.Servers)
	}
	if o.Rows <= 0 || o.Cols <= 0 {
		return fmt.Errorf("invalid table shape %dx%d", o.Rows, o.Cols)
	}
	if span < place.Servers {
		return fmt.Errorf("cannot split %d into %d shards", span, place.Servers)
	}
	if o.InitMax < o.InitMin {
		return fmt.Errorf("invalid init range [%v, %v)", o.InitMin, o.InitMax)
	}
	return nil
}

func (o Options) rng(place Placement) *rand.Rand {
	return rand.New(rand.NewSource(o.Seed + int64(place.Server)))
}

func (o Options) threads() int {
	if o.Threads < 1 {
		return 1
	}
	return o.Threads
}

// shardRange returns this shard's offset and size along a dimension of span.
func shardRange(span int, place Placement) (int, int) {
	return partition.Range(span, place.Servers, place.Server)
}
