package embedding

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphps/internal/blob"
	"github.com/dreamware/graphps/internal/shard"
	"github.com/dreamware/graphps/internal/table"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// direct calls one shard table per server in-process
type direct []shard.Table

func (d direct) Get(_ context.Context, server, _ int, req blob.Blob) (blob.Blob, error) {
	return d[server].ProcessGet(req)
}

func (d direct) Add(_ context.Context, server, _ int, req blob.Blob) (blob.Blob, error) {
	return d[server].ProcessAdd(req)
}

func newDirect(t *testing.T, layout shard.Layout, opts shard.Options, servers int) direct {
	t.Helper()
	d := make(direct, servers)
	for s := range d {
		tbl, err := shard.New(layout, opts, shard.Placement{Server: s, Servers: servers})
		require.NoError(t, err)
		d[s] = tbl
	}
	return d
}

func TestAlias(t *testing.T) {
	weights := []float32{1, 2, 3, 4, 0}
	a, err := NewAlias(weights)
	require.NoError(t, err)
	assert.Equal(t, 5, a.Len())

	rng := rand.New(rand.NewSource(1))
	const draws = 200000
	counts := make([]int, len(weights))
	for i := 0; i < draws; i++ {
		counts[a.Sample(rng)]++
	}
	for i, w := range weights {
		assert.InDelta(t, float64(w)/10, float64(counts[i])/draws, 0.01, "outcome %d", i)
	}
	assert.Zero(t, counts[4])
}

func TestAliasErrors(t *testing.T) {
	tests := []struct {
		name    string
		weights []float32
	}{
		{name: "empty"},
		{name: "zero sum", weights: []float32{0, 0}},
		{name: "negative", weights: []float32{1, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAlias(tt.weights)
			assert.Error(t, err)
		})
	}
}

func TestReadDictionary(t *testing.T) {
	d, err := ReadDictionary(strings.NewReader("7 1\n\n9 3\n"), "dict")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	rng := rand.New(rand.NewSource(3))
	nines := 0
	for i := 0; i < 40000; i++ {
		id := d.Sample(rng)
		require.Contains(t, []int32{7, 9}, id)
		if id == 9 {
			nines++
		}
	}
	assert.InDelta(t, 0.75, float64(nines)/40000, 0.02)

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: "\n", want: "empty"},
		{name: "fields", body: "1 2 3\n", want: "dict:1"},
		{name: "id", body: "x 1\n", want: "node id"},
		{name: "weight", body: "1 1\n2 heavy\n", want: "dict:2"},
		{name: "zero weights", body: "1 0\n", want: "zero"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadDictionary(strings.NewReader(tt.body), "dict")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err = LoadDictionary(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestGraph(t *testing.T) {
	path := writeTemp(t, "part", "0 1 0.5\n1 2\n\n2 0 2\n")

	g, err := OpenGraph(path, 7, 3)
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, int64(3), g.Edges())

	b1, err := g.ReadBlock()
	require.NoError(t, err)
	assert.Equal(t, []Edge{{0, 1, 0.5}, {1, 2, 1}, {2, 0, 2}}, b1)

	// wraps at EOF
	b2, err := g.ReadBlock()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	b3, err := g.ReadBlock()
	require.NoError(t, err)
	assert.Equal(t, []Edge{{0, 1, 0.5}}, b3)
	assert.Zero(t, g.Remaining())

	b4, err := g.ReadBlock()
	require.NoError(t, err)
	assert.Empty(t, b4)
}

func TestGraphErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		block int
		want  string
	}{
		{name: "empty", body: "\n\n", block: 1, want: "no edges"},
		{name: "bad line", body: "0 1 1\n0\n", block: 1, want: "part:2"},
		{name: "bad weight", body: "0 1 w\n", block: 1, want: "weight"},
		{name: "bad block", body: "0 1\n", block: 0, want: "block size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenGraph(writeTemp(t, "part", tt.body), 10, tt.block)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := OpenGraph(filepath.Join(t.TempDir(), "missing"), 10, 1)
	assert.Error(t, err)
}

func TestClampSigmoid(t *testing.T) {
	assert.Equal(t, float32(10), Clamp(25))
	assert.Equal(t, float32(-10), Clamp(-11))
	assert.Equal(t, float32(0.5), Clamp(0.5))
	assert.InDelta(t, 0.5, Sigmoid(0), 1e-7)
	assert.InDelta(t, 1/(1+math.Exp(-10)), Sigmoid(Clamp(1e6)), 1e-7)
}

func TestSamplerPrepare(t *testing.T) {
	d, err := ReadDictionary(strings.NewReader("0 1\n1 1\n2 1\n"), "dict")
	require.NoError(t, err)
	s, err := NewSampler(d, 4)
	require.NoError(t, err)

	edges := []Edge{{0, 1, 1}, {2, 0, 1}, {1, 2, 1}}
	b := s.Prepare(edges, rand.New(rand.NewSource(5)))

	assert.Equal(t, 4, b.Pairs.K)
	assert.Equal(t, []int32{0, 2, 1}, b.Pairs.Sources)
	require.Equal(t, 15, b.Pairs.Len())
	for i, e := range edges {
		assert.Equal(t, e.Dst, b.Pairs.Targets[i*5])
		for j := 1; j < 5; j++ {
			assert.NotEqual(t, e.Dst, b.Pairs.Targets[i*5+j])
		}
	}

	_, err = NewSampler(nil, 2)
	assert.Error(t, err)
	_, err = NewSampler(d, -1)
	assert.Error(t, err)

	none, err := NewSampler(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 0, 2}, none.Prepare(edges, nil).Pairs.Targets)
}

func TestSamplerSingletonDictionary(t *testing.T) {
	d, err := ReadDictionary(strings.NewReader("1 1\n"), "dict")
	require.NoError(t, err)
	s, err := NewSampler(d, 2)
	require.NoError(t, err)

	b := s.Prepare([]Edge{{0, 1, 1}}, rand.New(rand.NewSource(1)))
	assert.Equal(t, []int32{1, 1, 1}, b.Pairs.Targets)
}

func TestGradient(t *testing.T) {
	b := Block{
		Edges: []Edge{{0, 1, 2}},
		Pairs: table.Pairs{K: 1, Sources: []int32{0}, Targets: []int32{1, 2}},
	}
	scales, loss, err := Gradient(b, []float32{0, 50}, 0.1)
	require.NoError(t, err)

	sig10 := 1 / (1 + math.Exp(-10))
	// positive: 0.1*2*(1-0.5); negative clamped to 10: 0.1*2*(0-σ(10))
	assert.InDeltaSlice(t, []float32{0.1, float32(-0.2 * sig10)}, scales, 1e-6)
	want := (-2*math.Log(0.5) - 2*math.Log(1-sig10)) / 1 / 2
	assert.InDelta(t, want, loss, 5e-3)

	_, _, err = Gradient(b, []float32{0}, 0.1)
	assert.Error(t, err)

	scales, loss, err = Gradient(Block{}, nil, 0.1)
	require.NoError(t, err)
	assert.Empty(t, scales)
	assert.Zero(t, loss)
}

// toyBlock is two disconnected pairs of mutually linked nodes
func toyBlock(t *testing.T, rng *rand.Rand) Block {
	d, err := ReadDictionary(strings.NewReader("0 1\n1 1\n2 1\n3 1\n"), "dict")
	require.NoError(t, err)
	s, err := NewSampler(d, 1)
	require.NoError(t, err)
	return s.Prepare([]Edge{{0, 1, 1}, {1, 0, 1}, {2, 3, 1}, {3, 2, 1}}, rng)
}

func trainLoss(t *testing.T, l Learner) (first, last float32) {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	ctx := context.Background()
	for i := 0; i < 300; i++ {
		loss, err := l.Step(ctx, toyBlock(t, rng))
		require.NoError(t, err)
		if i == 0 {
			first = loss
		}
		last = loss
	}
	return first, last
}

func TestColumnLearner(t *testing.T) {
	opts := shard.Options{Rows: 4, Cols: 8, InitMin: -0.5, InitMax: 0.5, Seed: 3}
	tbl, err := table.NewColumnTable(newDirect(t, shard.LayoutColumn, opts, 2), table.Config{Rows: 4, Cols: 8, Servers: 2}, zerolog.Nop())
	require.NoError(t, err)

	first, last := trainLoss(t, &ColumnLearner{Table: tbl, LR: 0.5})
	assert.Less(t, last, first*0.5, "loss %v -> %v", first, last)
}

func TestRowLearner(t *testing.T) {
	opts := shard.Options{Rows: 4, Cols: 8, InitMin: -0.5, InitMax: 0.5, Seed: 3}
	cfg := table.Config{Rows: 4, Cols: 8, Servers: 2}
	in, err := table.NewRowTable(newDirect(t, shard.LayoutRow, opts, 2), cfg, zerolog.Nop())
	require.NoError(t, err)
	opts.Seed = 4
	out, err := table.NewRowTable(newDirect(t, shard.LayoutRow, opts, 2), cfg, zerolog.Nop())
	require.NoError(t, err)

	first, last := trainLoss(t, &RowLearner{In: in, Out: out, Cols: 8, LR: 0.5})
	assert.Less(t, last, first*0.5, "loss %v -> %v", first, last)
}

// TestRowLearnerStep checks one step against a naive update computed from
// the rows as they were before the step
func TestRowLearnerStep(t *testing.T) {
	ctx := context.Background()
	const cols = 3
	opts := shard.Options{Rows: 5, Cols: cols, InitMin: -1, InitMax: 1, Seed: 9}
	cfg := table.Config{Rows: 5, Cols: cols, Servers: 2}
	in, err := table.NewRowTable(newDirect(t, shard.LayoutRow, opts, 2), cfg, zerolog.Nop())
	require.NoError(t, err)
	opts.Seed = 10
	out, err := table.NewRowTable(newDirect(t, shard.LayoutRow, opts, 2), cfg, zerolog.Nop())
	require.NoError(t, err)

	all := []int32{0, 1, 2, 3, 4}
	in0, out0 := alloc(5, cols), alloc(5, cols)
	require.NoError(t, in.Get(ctx, all, in0))
	require.NoError(t, out.Get(ctx, all, out0))

	// source 0 twice, target 4 as both positive and negative
	b := Block{
		Edges: []Edge{{0, 4, 1}, {0, 2, 0.5}, {3, 4, 2}},
		Pairs: table.Pairs{K: 1, Sources: []int32{0, 0, 3}, Targets: []int32{4, 1, 2, 4, 4, 0}},
	}
	const lr = 0.1
	scores := make([]float32, 6)
	for p, dst := range b.Pairs.Targets {
		src := b.Pairs.Sources[p/2]
		for c := 0; c < cols; c++ {
			scores[p] += in0[src][c] * out0[dst][c]
		}
	}
	scales, wantLoss, err := Gradient(b, scores, lr)
	require.NoError(t, err)

	wantIn, wantOut := alloc(5, cols), alloc(5, cols)
	for i := range all {
		copy(wantIn[i], in0[i])
		copy(wantOut[i], out0[i])
	}
	for p, g := range scales {
		src, dst := b.Pairs.Sources[p/2], b.Pairs.Targets[p]
		for c := 0; c < cols; c++ {
			wantIn[src][c] += g * out0[dst][c]
			wantOut[dst][c] += g * in0[src][c]
		}
	}

	loss, err := (&RowLearner{In: in, Out: out, Cols: cols, LR: lr}).Step(ctx, b)
	require.NoError(t, err)
	assert.InDelta(t, wantLoss, loss, 1e-6)

	in1, out1 := alloc(5, cols), alloc(5, cols)
	require.NoError(t, in.Get(ctx, all, in1))
	require.NoError(t, out.Get(ctx, all, out1))
	for i := range all {
		assert.InDeltaSlice(t, wantIn[i], in1[i], 1e-5, "in row %d", i)
		assert.InDeltaSlice(t, wantOut[i], out1[i], 1e-5, "out row %d", i)
	}
}

// failingTable errors on DotProd
type failingTable struct{}

func (failingTable) DotProd(context.Context, table.Pairs) ([]float32, error) {
	return nil, errors.New("server gone")
}

func (failingTable) Adjust(context.Context, table.Pairs, []float32) error { return nil }

// countingLearner records the blocks it sees
type countingLearner struct {
	mu    sync.Mutex
	edges int
	steps int
	fail  int
}

func (c *countingLearner) Step(_ context.Context, b Block) (float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps++
	c.edges += len(b.Edges)
	if c.fail > 0 && c.steps == c.fail {
		return 0, errors.New("step failed")
	}
	return 1 / float32(c.steps), nil
}

func TestTrain(t *testing.T) {
	path := writeTemp(t, "part", "0 1\n1 2\n2 3\n3 0\n")
	d, err := ReadDictionary(strings.NewReader("0 1\n1 1\n2 1\n3 1\n"), "dict")
	require.NoError(t, err)
	s, err := NewSampler(d, 2)
	require.NoError(t, err)

	t.Run("spends budget", func(t *testing.T) {
		g, err := OpenGraph(path, 25, 4)
		require.NoError(t, err)
		defer g.Close()

		l := &countingLearner{}
		prog, err := Train(context.Background(), g, s, l, TrainOptions{QueueDepth: 2, Preprocessors: 3, DisplayIter: 2}, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 7, prog.Blocks)
		assert.Equal(t, int64(25), prog.Edges)
		assert.Equal(t, 25, l.edges)
		assert.Equal(t, float32(1)/7, prog.Loss)
	})

	t.Run("step error", func(t *testing.T) {
		g, err := OpenGraph(path, 100, 4)
		require.NoError(t, err)
		defer g.Close()

		_, err = Train(context.Background(), g, s, &countingLearner{fail: 3}, TrainOptions{}, zerolog.Nop())
		assert.EqualError(t, err, "step failed")
	})

	t.Run("table error", func(t *testing.T) {
		g, err := OpenGraph(path, 100, 4)
		require.NoError(t, err)
		defer g.Close()

		_, err = Train(context.Background(), g, s, &ColumnLearner{Table: failingTable{}, LR: 0.1}, TrainOptions{}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server gone")
	})
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	opts := shard.Options{Rows: SaveBatch + 3, Cols: 2, InitMin: -1, InitMax: 1}
	tbl, err := table.NewColumnTable(newDirect(t, shard.LayoutColumn, opts, 2), table.Config{Rows: opts.Rows, Cols: 2, Servers: 2}, zerolog.Nop())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(ctx, &buf, tbl, opts.Rows, 2))

	sc := bufio.NewScanner(&buf)
	require.True(t, sc.Scan())
	assert.Equal(t, "10003 2", sc.Text())

	want := alloc(1, 2)
	require.NoError(t, tbl.Get(ctx, []int32{SaveBatch + 1}, want))

	lines := 0
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		require.Len(t, fields, 3)
		assert.Equal(t, strconv.Itoa(lines), fields[0])
		if lines == SaveBatch+1 {
			for c := 0; c < 2; c++ {
				v, err := strconv.ParseFloat(fields[c+1], 32)
				require.NoError(t, err)
				assert.InDelta(t, want[0][c], v, 1e-6)
			}
		}
		lines++
	}
	assert.Equal(t, SaveBatch+3, lines)

	path := filepath.Join(t.TempDir(), "vec.txt")
	require.NoError(t, SaveFile(ctx, path, tbl, opts.Rows, 2))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "10003 2\n"))

	err = SaveFile(ctx, filepath.Join(t.TempDir(), "no", "such", "dir"), tbl, opts.Rows, 2)
	assert.Error(t, err)
}
