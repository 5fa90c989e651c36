package blob

import "fmt"

// Op tags the kind of a request or reply.
type Op int32

const (
	OpGet Op = iota
	OpDotProd
	OpAdjust
	OpAdd
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpDotProd:
		return "dotprod"
	case OpAdjust:
		return "adjust"
	case OpAdd:
		return "add"
	}
	return fmt.Sprintf("op(%d)", int32(o))
}

// PeekOp returns the op tag of b without consuming it.
func PeekOp(b Blob) (Op, error) {
	v, err := NewReader(b).Int32()
	if err != nil {
		return 0, err
	}
	op := Op(v)
	if op < OpGet || op > OpAdd {
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedOp, op)
	}
	return op, nil
}

// header reads the op tag and the leading count, checking the tag.
func header(r *Reader, want Op) (int, error) {
	tag, err := r.Int32()
	if err != nil {
		return 0, err
	}
	if Op(tag) != want {
		return 0, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedOp, want, Op(tag))
	}
	return r.Count()
}

// rowWidth infers the row width of values laid out as len(keys) rows.
func rowWidth(keys []int32, values []float32) (int, error) {
	if len(keys) == 0 {
		if len(values) != 0 {
			return 0, fmt.Errorf("%w: %d values for zero keys", ErrMalformed, len(values))
		}
		return 0, nil
	}
	if len(values)%len(keys) != 0 {
		return 0, fmt.Errorf("%w: %d values not divisible into %d rows", ErrMalformed, len(values), len(keys))
	}
	return len(values) / len(keys), nil
}

// GetRequest asks a shard for the rows (or row slices) of Keys.
type GetRequest struct {
	Keys []int32
}

func (m GetRequest) Encode() (Blob, error) {
	w := NewWriter(word * (2 + len(m.Keys)))
	if err := w.Int32(int32(OpGet)); err != nil {
		return nil, err
	}
	if err := w.Int32(int32(len(m.Keys))); err != nil {
		return nil, err
	}
	if err := w.Int32s(m.Keys); err != nil {
		return nil, err
	}
	return w.Blob()
}

func DecodeGetRequest(b Blob) (GetRequest, error) {
	r := NewReader(b)
	n, err := header(r, OpGet)
	if err != nil {
		return GetRequest{}, err
	}
	keys, err := r.Int32s(n)
	if err != nil {
		return GetRequest{}, err
	}
	return GetRequest{Keys: keys}, r.Finish()
}

// RowGetReply carries full rows for a row-sharded Get, in request order.
type RowGetReply struct {
	Keys   []int32
	Values []float32
}

func (m RowGetReply) Encode() (Blob, error) {
	if _, err := rowWidth(m.Keys, m.Values); err != nil {
		return nil, err
	}
	w := NewWriter(word * (2 + len(m.Keys) + len(m.Values)))
	if err := w.Int32(int32(OpGet)); err != nil {
		return nil, err
	}
	if err := w.Int32(int32(len(m.Keys))); err != nil {
		return nil, err
	}
	if err := w.Int32s(m.Keys); err != nil {
		return nil, err
	}
	if err := w.Float32s(m.Values); err != nil {
		return nil, err
	}
	return w.Blob()
}

// DecodeRowGetReply decodes a row Get reply whose rows are cols wide.
func DecodeRowGetReply(b Blob, cols int) (RowGetReply, error) {
	r := NewReader(b)
	n, err := header(r, OpGet)
	if err != nil {
		return RowGetReply{}, err
	}
	keys, err := r.Int32s(n)
	if err != nil {
		return RowGetReply{}, err
	}
	values, err := r.Float32s(n * cols)
	if err != nil {
		return RowGetReply{}, err
	}
	return RowGetReply{Keys: keys, Values: values}, r.Finish()
}

// AddRequest accumulates one delta row per key.
type AddRequest struct {
	Keys   []int32
	Values []float32
}

func (m AddRequest) Encode() (Blob, error) {
	if _, err := rowWidth(m.Keys, m.Values); err != nil {
		return nil, err
	}
	w := NewWriter(word * (2 + len(m.Keys) + len(m.Values)))
	if err := w.Int32(int32(OpAdd)); err != nil {
		return nil, err
	}
	if err := w.Int32(int32(len(m.Keys))); err != nil {
		return nil, err
	}
	if err := w.Int32s(m.Keys); err != nil {
		return nil, err
	}
	if err := w.Float32s(m.Values); err != nil {
		return nil, err
	}
	return w.Blob()
}

// DecodeAddRequest decodes an Add request whose delta rows are cols wide.
func DecodeAddRequest(b Blob, cols int) (AddRequest, error) {
	r := NewReader(b)
	n, err := header(r, OpAdd)
	if err != nil {
		return AddRequest{}, err
	}
	keys, err := r.Int32s(n)
	if err != nil {
		return AddRequest{}, err
	}
	values, err := r.Float32s(n * cols)
	if err != nil {
		return AddRequest{}, err
	}
	return AddRequest{Keys: keys, Values: values}, r.Finish()
}

// AddReply acknowledges an Add by echoing its key block.
type AddReply struct {
	Keys []int32
}

func (m AddReply) Encode() (Blob, error) {
	w := NewWriter(word * (2 + len(m.Keys)))
	if err := w.Int32(int32(OpAdd)); err != nil {
		return nil, err
	}
	if err := w.Int32(int32(len(m.Keys))); err != nil {
		return nil, err
	}
	if err := w.Int32s(m.Keys); err != nil {
		return nil, err
	}
	return w.Blob()
}

func DecodeAddReply(b Blob) (AddReply, error) {
	r := NewReader(b)
	n, err := header(r, OpAdd)
	if err != nil {
		return AddReply{}, err
	}
	keys, err := r.Int32s(n)
	if err != nil {
		return AddReply{}, err
	}
	return AddReply{Keys: keys}, r.Finish()
}

// ColumnGetReply carries Count row slices of Width columns starting at
// column Offset of the logical table.
type ColumnGetReply struct {
	Count  int32
	Offset int32
	Width  int32
	Values []float32
}

func (m ColumnGetReply) Encode() (Blob, error) {
	if m.Count < 0 || m.Width < 0 || int(m.Count)*int(m.Width) != len(m.Values) {
		return nil, fmt.Errorf("%w: %d values for %dx%d slice", ErrMalformed, len(m.Values), m.Count, m.Width)
	}
	w := NewWriter(word * (4 + len(m.Values)))
	for _, v := range []int32{int32(OpGet), m.Count, m.Offset, m.Width} {
		if err := w.Int32(v); err != nil {
			return nil, err
		}
	}
	if err := w.Float32s(m.Values); err != nil {
		return nil, err
	}
	return w.Blob()
}

func DecodeColumnGetReply(b Blob) (ColumnGetReply, error) {
	r := NewReader(b)
	n, err := header(r, OpGet)
	if err != nil {
		return ColumnGetReply{}, err
	}
	offset, err := r.Int32()
	if err != nil {
		return ColumnGetReply{}, err
	}
	width, err := r.Count()
	if err != nil {
		return ColumnGetReply{}, err
	}
	values, err := r.Float32s(n * width)
	if err != nil {
		return ColumnGetReply{}, err
	}
	return ColumnGetReply{Count: int32(n), Offset: offset, Width: int32(width), Values: values}, r.Finish()
}

// DotProdRequest asks for the inner product of every (source, target) pair.
// Targets holds K+1 ids per source: the positive target then K negatives.
type DotProdRequest struct {
	K       int32
	Sources []int32
	Targets []int32
}

// NumPairs is the number of (source, target) pairs addressed.
func (m DotProdRequest) NumPairs() int { return len(m.Targets) }

// Source returns the source id of pair p.
func (m DotProdRequest) Source(p int) int32 { return m.Sources[p/int(m.K+1)] }

func checkPairs(k int32, sources, targets []int32) error {
	if k < 0 {
		return fmt.Errorf("%w: negative K %d", ErrMalformed, k)
	}
	if len(targets) != int(k+1)*len(sources) {
		return fmt.Errorf("%w: %d targets for %d sources with K=%d", ErrMalformed, len(targets), len(sources), k)
	}
	return nil
}

func (m DotProdRequest) Encode() (Blob, error) {
	if err := checkPairs(m.K, m.Sources, m.Targets); err != nil {
		return nil, err
	}
	w := NewWriter(word * (3 + len(m.Sources) + len(m.Targets)))
	for _, v := range []int32{int32(OpDotProd), int32(len(m.Sources)), m.K} {
		if err := w.Int32(v); err != nil {
			return nil, err
		}
	}
	if err := w.Int32s(m.Sources); err != nil {
		return nil, err
	}
	if err := w.Int32s(m.Targets); err != nil {
		return nil, err
	}
	return w.Blob()
}

func DecodeDotProdRequest(b Blob) (DotProdRequest, error) {
	r := NewReader(b)
	n, err := header(r, OpDotProd)
	if err != nil {
		return DotProdRequest{}, err
	}
	k, err := r.Count()
	if err != nil {
		return DotProdRequest{}, err
	}
	sources, err := r.Int32s(n)
	if err != nil {
		return DotProdRequest{}, err
	}
	targets, err := r.Int32s(n * (k + 1))
	if err != nil {
		return DotProdRequest{}, err
	}
	return DotProdRequest{K: int32(k), Sources: sources, Targets: targets}, r.Finish()
}

// DotProdReply carries one score per pair; from a shard it is a partial sum.
type DotProdReply struct {
	Scores []float32
}

func (m DotProdReply) Encode() (Blob, error) {
	w := NewWriter(word * (2 + len(m.Scores)))
	if err := w.Int32(int32(OpDotProd)); err != nil {
		return nil, err
	}
	if err := w.Int32(int32(len(m.Scores))); err != nil {
		return nil, err
	}
	if err := w.Float32s(m.Scores); err != nil {
		return nil, err
	}
	return w.Blob()
}

func DecodeDotProdReply(b Blob) (DotProdReply, error) {
	r := NewReader(b)
	n, err := header(r, OpDotProd)
	if err != nil {
		return DotProdReply{}, err
	}
	scores, err := r.Float32s(n)
	if err != nil {
		return DotProdReply{}, err
	}
	return DotProdReply{Scores: scores}, r.Finish()
}

// AdjustRequest applies Scales[p] * counterpart to both endpoints of pair p.
type AdjustRequest struct {
	K       int32
	Sources []int32
	Targets []int32
	Scales  []float32
}

// NumPairs is the number of (source, target) pairs addressed.
func (m AdjustRequest) NumPairs() int { return len(m.Targets) }

// Source returns the source id of pair p.
func (m AdjustRequest) Source(p int) int32 { return m.Sources[p/int(m.K+1)] }

func (m AdjustRequest) Encode() (Blob, error) {
	if err := checkPairs(m.K, m.Sources, m.Targets); err != nil {
		return nil, err
	}
	if len(m.Scales) != len(m.Targets) {
		return nil, fmt.Errorf("%w: %d scales for %d pairs", ErrMalformed, len(m.Scales), len(m.Targets))
	}
	w := NewWriter(word * (3 + len(m.Sources) + len(m.Targets) + len(m.Scales)))
	for _, v := range []int32{int32(OpAdjust), int32(len(m.Sources)), m.K} {
		if err := w.Int32(v); err != nil {
			return nil, err
		}
	}
	if err := w.Int32s(m.Sources); err != nil {
		return nil, err
	}
	if err := w.Int32s(m.Targets); err != nil {
		return nil, err
	}
	if err := w.Float32s(m.Scales); err != nil {
		return nil, err
	}
	return w.Blob()
}

func DecodeAdjustRequest(b Blob) (AdjustRequest, error) {
	r := NewReader(b)
	n, err := header(r, OpAdjust)
	if err != nil {
		return AdjustRequest{}, err
	}
	k, err := r.Count()
	if err != nil {
		return AdjustRequest{}, err
	}
	sources, err := r.Int32s(n)
	if err != nil {
		return AdjustRequest{}, err
	}
	pairs := n * (k + 1)
	targets, err := r.Int32s(pairs)
	if err != nil {
		return AdjustRequest{}, err
	}
	scales, err := r.Float32s(pairs)
	if err != nil {
		return AdjustRequest{}, err
	}
	return AdjustRequest{K: int32(k), Sources: sources, Targets: targets, Scales: scales}, r.Finish()
}

// AdjustReply acknowledges an Adjust with the number of pairs applied.
type AdjustReply struct {
	Pairs int32
}

func (m AdjustReply) Encode() (Blob, error) {
	w := NewWriter(2 * word)
	if err := w.Int32(int32(OpAdjust)); err != nil {
		return nil, err
	}
	if err := w.Int32(m.Pairs); err != nil {
		return nil, err
	}
	return w.Blob()
}

func DecodeAdjustReply(b Blob) (AdjustReply, error) {
	r := NewReader(b)
	n, err := header(r, OpAdjust)
	if err != nil {
		return AdjustReply{}, err
	}
	return AdjustReply{Pairs: int32(n)}, r.Finish()
}
