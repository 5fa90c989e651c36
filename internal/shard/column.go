package shard

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dreamware/graphps/internal/blob"
	"github.com/dreamware/graphps/internal/storage"
)

// ColumnTable owns a contiguous column range of every row, held twice: once
// for the source role and once for the target role of an embedding pair.
// dIn and dOut are scratch accumulators of the same shape used by Adjust.
type ColumnTable struct {
	in, out   *storage.Matrix
	dIn, dOut *storage.Matrix

	rows    int
	cols    int
	offset  int
	width   int
	threads int
}

// NewColumnTable allocates and fills the column range owned by place.
func NewColumnTable(opts Options, place Placement) (*ColumnTable, error) {
	if err := opts.validate(place, opts.Cols); err != nil {
		return nil, err
	}
	offset, width := shardRange(opts.Cols, place)

	t := &ColumnTable{
		rows:    opts.Rows,
		cols:    opts.Cols,
		offset:  offset,
		width:   width,
		threads: opts.threads(),
	}
	for _, m := range []**storage.Matrix{&t.in, &t.out, &t.dIn, &t.dOut} {
		alloc, err := storage.NewMatrix(opts.Rows, width)
		if err != nil {
			return nil, err
		}
		*m = alloc
	}

	rng := opts.rng(place)
	t.in.Fill(rng, opts.InitMin, opts.InitMax)
	t.out.Fill(rng, opts.InitMin, opts.InitMax)
	return t, nil
}

func (t *ColumnTable) checkKeys(keys []int32) error {
	for _, key := range keys {
		if key < 0 || int(key) >= t.rows {
			return fmt.Errorf("%w: row %d not in [0, %d)", ErrKeyOutOfRange, key, t.rows)
		}
	}
	return nil
}

// ProcessGet serves Get and DotProd requests.
func (t *ColumnTable) ProcessGet(req blob.Blob) (blob.Blob, error) {
	op, err := blob.PeekOp(req)
	if err != nil {
		return nil, err
	}
	switch op {
	case blob.OpGet:
		return t.get(req)
	case blob.OpDotProd:
		return t.dotProd(req)
	}
	return nil, fmt.Errorf("%w: %s on column get path", ErrUnsupportedOp, op)
}

// ProcessAdd serves Add and Adjust requests.
func (t *ColumnTable) ProcessAdd(req blob.Blob) (blob.Blob, error) {
	op, err := blob.PeekOp(req)
	if err != nil {
		return nil, err
	}
	switch op {
	case blob.OpAdd:
		return t.add(req)
	case blob.OpAdjust:
		return t.adjust(req)
	}
	return nil, fmt.Errorf("%w: %s on column add path", ErrUnsupportedOp, op)
}

// get copies the source-role slice of each requested row, tagged with this
// shard's column offset and width.
func (t *ColumnTable) get(req blob.Blob) (blob.Blob, error) {
	get, err := blob.DecodeGetRequest(req)
	if err != nil {
		return nil, err
	}
	if err := t.checkKeys(get.Keys); err != nil {
		return nil, err
	}

	values := make([]float32, len(get.Keys)*t.width)
	parallelFor(len(get.Keys), t.threads, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			copy(values[i*t.width:(i+1)*t.width], t.in.Row(int(get.Keys[i])))
		}
	})
	return blob.ColumnGetReply{
		Count:  int32(len(get.Keys)),
		Offset: int32(t.offset),
		Width:  int32(t.width),
		Values: values,
	}.Encode()
}

// add accumulates this shard's column slice of each full-width delta row
// into the source-role vector of its key.
func (t *ColumnTable) add(req blob.Blob) (blob.Blob, error) {
	add, err := blob.DecodeAddRequest(req, t.cols)
	if err != nil {
		return nil, err
	}
	if err := t.checkKeys(add.Keys); err != nil {
		return nil, err
	}
	// a key may repeat within one request
	for i, key := range add.Keys {
		lo := i*t.cols + t.offset
		t.in.AddRow(int(key), add.Values[lo:lo+t.width])
	}
	return blob.AddReply{Keys: add.Keys}.Encode()
}

// dotProd computes the partial inner product of every pair over this
// shard's columns.
func (t *ColumnTable) dotProd(req blob.Blob) (blob.Blob, error) {
	dp, err := blob.DecodeDotProdRequest(req)
	if err != nil {
		return nil, err
	}
	if err := t.checkKeys(dp.Sources); err != nil {
		return nil, err
	}
	if err := t.checkKeys(dp.Targets); err != nil {
		return nil, err
	}

	scores := make([]float32, dp.NumPairs())
	parallelFor(len(scores), t.threads, func(lo, hi int) {
		for p := lo; p < hi; p++ {
			src := t.in.Row(int(dp.Source(p)))
			dst := t.out.Row(int(dp.Targets[p]))
			var sum float32
			for j := range src {
				sum += src[j] * dst[j]
			}
			scores[p] = sum
		}
	})
	return blob.DotProdReply{Scores: scores}.Encode()
}

// adjust accumulates scale-weighted counterparts into the scratch matrices,
// then flushes each touched key exactly once.
func (t *ColumnTable) adjust(req blob.Blob) (blob.Blob, error) {
	adj, err := blob.DecodeAdjustRequest(req)
	if err != nil {
		return nil, err
	}
	if err := t.checkKeys(adj.Sources); err != nil {
		return nil, err
	}
	if err := t.checkKeys(adj.Targets); err != nil {
		return nil, err
	}

	// Pairs may share endpoints, so the accumulation is split by column:
	// each goroutine owns columns [lo, hi) of every scratch row.
	pairs := adj.NumPairs()
	parallelFor(t.width, t.threads, func(lo, hi int) {
		for p := 0; p < pairs; p++ {
			s, d := int(adj.Source(p)), int(adj.Targets[p])
			scale := adj.Scales[p]
			in, out := t.in.Row(s), t.out.Row(d)
			dIn, dOut := t.dIn.Row(s), t.dOut.Row(d)
			for j := lo; j < hi; j++ {
				dIn[j] += scale * out[j]
				dOut[j] += scale * in[j]
			}
		}
	})

	srcUnique := unique(adj.Sources)
	dstUnique := unique(adj.Targets)
	parallelFor(len(srcUnique), t.threads, func(lo, hi int) {
		for _, key := range srcUnique[lo:hi] {
			t.in.FlushRow(int(key), t.dIn)
		}
	})
	parallelFor(len(dstUnique), t.threads, func(lo, hi int) {
		for _, key := range dstUnique[lo:hi] {
			t.out.FlushRow(int(key), t.dOut)
		}
	})

	return blob.AdjustReply{Pairs: int32(pairs)}.Encode()
}

// unique returns the sorted distinct keys.
func unique(keys []int32) []int32 {
	u := slices.Clone(keys)
	slices.Sort(u)
	return slices.Compact(u)
}

// Describe reports the column range owned by this shard.
func (t *ColumnTable) Describe() Info {
	return Info{
		Layout: LayoutColumn,
		Rows:   t.rows,
		Cols:   t.cols,
		Offset: t.offset,
		Size:   t.width,
		Bytes:  4 * t.in.Stats().Bytes,
	}
}
