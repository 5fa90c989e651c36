package shard

import (
	"fmt"

	"github.com/dreamware/graphps/internal/blob"
	"github.com/dreamware/graphps/internal/storage"
)

// RowTable owns a contiguous range of full-width rows.
type RowTable struct {
	data    *storage.Matrix
	cols    int
	rows    int
	offset  int
	threads int
}

// NewRowTable allocates and fills the row range owned by place.
func NewRowTable(opts Options, place Placement) (*RowTable, error) {
	if err := opts.validate(place, opts.Rows); err != nil {
		return nil, err
	}
	offset, size := shardRange(opts.Rows, place)
	data, err := storage.NewMatrix(size, opts.Cols)
	if err != nil {
		return nil, err
	}
	data.Fill(opts.rng(place), opts.InitMin, opts.InitMax)

	return &RowTable{
		data:    data,
		cols:    opts.Cols,
		rows:    opts.Rows,
		offset:  offset,
		threads: opts.threads(),
	}, nil
}

// local maps a global row key to its index in this shard.
func (t *RowTable) local(key int32) (int, error) {
	i := int(key) - t.offset
	if i < 0 || i >= t.data.Rows() {
		return 0, fmt.Errorf("%w: row %d not in [%d, %d)", ErrKeyOutOfRange, key, t.offset, t.offset+t.data.Rows())
	}
	return i, nil
}

func (t *RowTable) locals(keys []int32) ([]int, error) {
	idx := make([]int, len(keys))
	for i, key := range keys {
		l, err := t.local(key)
		if err != nil {
			return nil, err
		}
		idx[i] = l
	}
	return idx, nil
}

// ProcessGet copies each requested row into the reply in request order.
func (t *RowTable) ProcessGet(req blob.Blob) (blob.Blob, error) {
	get, err := blob.DecodeGetRequest(req)
	if err != nil {
		return nil, err
	}
	idx, err := t.locals(get.Keys)
	if err != nil {
		return nil, err
	}

	values := make([]float32, len(idx)*t.cols)
	parallelFor(len(idx), t.threads, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			copy(values[i*t.cols:(i+1)*t.cols], t.data.Row(idx[i]))
		}
	})
	return blob.RowGetReply{Keys: get.Keys, Values: values}.Encode()
}

// ProcessAdd accumulates each delta row into its stored row and echoes the
// key block. Duplicate keys accumulate once per occurrence.
func (t *RowTable) ProcessAdd(req blob.Blob) (blob.Blob, error) {
	add, err := blob.DecodeAddRequest(req, t.cols)
	if err != nil {
		return nil, err
	}
	idx, err := t.locals(add.Keys)
	if err != nil {
		return nil, err
	}
	for i, l := range idx {
		t.data.AddRow(l, add.Values[i*t.cols:(i+1)*t.cols])
	}
	return blob.AddReply{Keys: add.Keys}.Encode()
}

// Describe reports the row range owned by this shard.
func (t *RowTable) Describe() Info {
	return Info{
		Layout: LayoutRow,
		Rows:   t.rows,
		Cols:   t.cols,
		Offset: t.offset,
		Size:   t.data.Rows(),
		Bytes:  t.data.Stats().Bytes,
	}
}
