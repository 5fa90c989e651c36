package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/exp/slices"

	"github.com/dreamware/graphps/internal/table"
)

// scoreLimit bounds inner products before the logistic.
const scoreLimit = 10

// maxRedraws bounds the search for a negative distinct from the positive
// target. A dictionary holding only the target would otherwise never
// terminate.
const maxRedraws = 64

// Clamp limits an inner product to [-10, 10].
func Clamp(ip float32) float32 {
	return max(-scoreLimit, min(scoreLimit, ip))
}

// Sigmoid is the logistic function.
func Sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Block is a unit of training work: the edges read from the partition and
// the pairs built from them, K negatives per edge.
type Block struct {
	Edges []Edge
	Pairs table.Pairs
}

// Sampler turns edge blocks into training pairs.
type Sampler struct {
	dict *Dictionary
	k    int
}

// NewSampler draws k negatives per edge from dict. dict may be nil when k
// is zero.
func NewSampler(dict *Dictionary, k int) (*Sampler, error) {
	if k < 0 {
		return nil, fmt.Errorf("negative sample count %d", k)
	}
	if k > 0 && dict == nil {
		return nil, errors.New("negative sampling needs a dictionary")
	}
	return &Sampler{dict: dict, k: k}, nil
}

// Prepare builds the pairs for edges. Each negative is redrawn while it
// equals the edge's positive target.
func (s *Sampler) Prepare(edges []Edge, rng *rand.Rand) Block {
	pairs := table.Pairs{
		K:       s.k,
		Sources: make([]int32, len(edges)),
		Targets: make([]int32, 0, len(edges)*(s.k+1)),
	}
	for i, e := range edges {
		pairs.Sources[i] = e.Src
		pairs.Targets = append(pairs.Targets, e.Dst)
		for j := 0; j < s.k; j++ {
			neg := s.dict.Sample(rng)
			for r := 0; neg == e.Dst && r < maxRedraws; r++ {
				neg = s.dict.Sample(rng)
			}
			pairs.Targets = append(pairs.Targets, neg)
		}
	}
	return Block{Edges: edges, Pairs: pairs}
}

// Gradient turns pair scores into update scales lr·w·(label − σ(clamp(ip)))
// and returns them with the block's mean loss per pair. Slot 0 of each
// source is the positive pair.
func Gradient(b Block, scores []float32, lr float32) ([]float32, float32, error) {
	if len(scores) != b.Pairs.Len() {
		return nil, 0, fmt.Errorf("got %d scores for %d pairs", len(scores), b.Pairs.Len())
	}
	if len(b.Edges) == 0 {
		return nil, 0, nil
	}
	group := b.Pairs.K + 1
	scales := make([]float32, len(scores))
	var loss float64
	for p, ip := range scores {
		w := b.Edges[p/group].Weight
		sig := Sigmoid(Clamp(ip))
		var label float32
		if p%group == 0 {
			label = 1
			loss -= float64(w) * math.Log(float64(sig))
		} else {
			loss -= float64(w) * math.Log(float64(1-sig))
		}
		scales[p] = lr * w * (label - sig)
	}
	return scales, float32(loss / float64(len(b.Edges)) / float64(group)), nil
}

// Learner applies one block of training to the table and returns its loss.
type Learner interface {
	Step(ctx context.Context, b Block) (float32, error)
}

// PairTable is the column-layout table surface a ColumnLearner needs.
type PairTable interface {
	DotProd(ctx context.Context, pairs table.Pairs) ([]float32, error)
	Adjust(ctx context.Context, pairs table.Pairs, scales []float32) error
}

// ColumnLearner trains through server-side DotProd and Adjust; vectors
// never leave the servers.
type ColumnLearner struct {
	Table PairTable
	LR    float32
}

func (l *ColumnLearner) Step(ctx context.Context, b Block) (float32, error) {
	scores, err := l.Table.DotProd(ctx, b.Pairs)
	if err != nil {
		return 0, fmt.Errorf("dotprod: %w", err)
	}
	scales, loss, err := Gradient(b, scores, l.LR)
	if err != nil {
		return 0, err
	}
	if err := l.Table.Adjust(ctx, b.Pairs, scales); err != nil {
		return 0, fmt.Errorf("adjust: %w", err)
	}
	return loss, nil
}

// RowStore is the row-layout table surface a RowLearner needs.
type RowStore interface {
	Get(ctx context.Context, keys []int32, out [][]float32) error
	Add(ctx context.Context, keys []int32, deltas [][]float32) error
}

// RowLearner trains against two row tables, one holding source-role
// vectors and one holding target-role vectors. It fetches every touched
// row, computes the same updates ColumnLearner's servers would, and adds
// the deltas back.
type RowLearner struct {
	In, Out RowStore
	Cols    int
	LR      float32
}

// unique returns the sorted distinct keys.
func unique(keys []int32) []int32 {
	u := slices.Clone(keys)
	slices.Sort(u)
	return slices.Compact(u)
}

func alloc(rows, cols int) [][]float32 {
	flat := make([]float32, rows*cols)
	out := make([][]float32, rows)
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return out
}

func (l *RowLearner) Step(ctx context.Context, b Block) (float32, error) {
	srcKeys, dstKeys := unique(b.Pairs.Sources), unique(b.Pairs.Targets)
	in, out := alloc(len(srcKeys), l.Cols), alloc(len(dstKeys), l.Cols)
	if err := l.In.Get(ctx, srcKeys, in); err != nil {
		return 0, fmt.Errorf("get sources: %w", err)
	}
	if err := l.Out.Get(ctx, dstKeys, out); err != nil {
		return 0, fmt.Errorf("get targets: %w", err)
	}

	group := b.Pairs.K + 1
	si := make([]int, b.Pairs.Len())
	ti := make([]int, b.Pairs.Len())
	scores := make([]float32, b.Pairs.Len())
	for p, dst := range b.Pairs.Targets {
		si[p], _ = slices.BinarySearch(srcKeys, b.Pairs.Sources[p/group])
		ti[p], _ = slices.BinarySearch(dstKeys, dst)
		var ip float32
		for c, v := range in[si[p]] {
			ip += v * out[ti[p]][c]
		}
		scores[p] = ip
	}

	scales, loss, err := Gradient(b, scores, l.LR)
	if err != nil {
		return 0, err
	}

	dIn, dOut := alloc(len(srcKeys), l.Cols), alloc(len(dstKeys), l.Cols)
	for p, g := range scales {
		src, dst := in[si[p]], out[ti[p]]
		for c := range src {
			dIn[si[p]][c] += g * dst[c]
			dOut[ti[p]][c] += g * src[c]
		}
	}

	if err := l.In.Add(ctx, srcKeys, dIn); err != nil {
		return 0, fmt.Errorf("add sources: %w", err)
	}
	if err := l.Out.Add(ctx, dstKeys, dOut); err != nil {
		return 0, fmt.Errorf("add targets: %w", err)
	}
	return loss, nil
}
