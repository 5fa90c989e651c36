package embedding

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dreamware/graphps/internal/pipeline"
)

// TrainOptions tunes the training pipeline.
type TrainOptions struct {
	QueueDepth    int   // Blocks buffered between stages
	Preprocessors int   // Goroutines building pairs
	DisplayIter   int   // Log progress every DisplayIter blocks
	Seed          int64 // Negative sampling seed; preprocessor i uses Seed+i
}

// Progress summarises a training run.
type Progress struct {
	Blocks int     `json:"blocks"`
	Edges  int64   `json:"edges"`
	Loss   float32 `json:"loss"` // Loss of the last block
}

// Train streams g through sampler into learner until the edge budget is
// spent:
//
//	read ──► prepare ×Preprocessors ──► step ──► report
//
// Steps run one at a time; the table proxies are single-flight anyway.
func Train(ctx context.Context, g *Graph, s *Sampler, l Learner, opts TrainOptions, log zerolog.Logger) (Progress, error) {
	depth := max(opts.QueueDepth, 1)
	display := max(opts.DisplayIter, 1)
	budget := g.Remaining()

	rngs := make([]*rand.Rand, max(opts.Preprocessors, 1))
	for i := range rngs {
		rngs[i] = rand.New(rand.NewSource(opts.Seed + int64(i)))
	}

	p, _ := pipeline.New(ctx)
	blocks := pipeline.Source(p, depth, func(context.Context) ([]Edge, bool, error) {
		edges, err := g.ReadBlock()
		return edges, len(edges) == 0, err
	})
	prepared := pipeline.Stage(p, blocks, len(rngs), depth, func(_ context.Context, w int, edges []Edge) (Block, error) {
		return s.Prepare(edges, rngs[w]), nil
	})
	type result struct {
		edges int
		loss  float32
	}
	trained := pipeline.Stage(p, prepared, 1, depth, func(ctx context.Context, _ int, b Block) (result, error) {
		loss, err := l.Step(ctx, b)
		return result{edges: len(b.Edges), loss: loss}, err
	})

	var prog Progress
	pipeline.Sink(p, trained, func(_ context.Context, r result) error {
		prog.Blocks++
		prog.Edges += int64(r.edges)
		prog.Loss = r.loss
		if prog.Blocks%display == 0 {
			log.Info().
				Int("iter", prog.Blocks).
				Float32("loss", r.loss).
				Float64("progress", min(1, float64(prog.Edges)/float64(max(budget, 1)))).
				Msg("training")
		}
		return nil
	})

	if err := p.Wait(); err != nil {
		return prog, err
	}
	log.Info().Int("blocks", prog.Blocks).Int64("edges", prog.Edges).Msg("training finished")
	return prog, nil
}

// Getter reads full-width source-role rows.
type Getter interface {
	Get(ctx context.Context, keys []int32, out [][]float32) error
}

// SaveBatch is the number of rows fetched per Get while saving.
const SaveBatch = 10000

// Save writes the "N D" header followed by one "id v1 ... vD" line per row.
func Save(ctx context.Context, w io.Writer, src Getter, rows, cols int) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%d %d\n", rows, cols); err != nil {
		return err
	}

	var line []byte
	for lo := 0; lo < rows; lo += SaveBatch {
		n := min(SaveBatch, rows-lo)
		keys := make([]int32, n)
		for i := range keys {
			keys[i] = int32(lo + i)
		}
		vecs := alloc(n, cols)
		if err := src.Get(ctx, keys, vecs); err != nil {
			return fmt.Errorf("get rows [%d, %d): %w", lo, lo+n, err)
		}
		for i, vec := range vecs {
			line = strconv.AppendInt(line[:0], int64(keys[i]), 10)
			for _, v := range vec {
				line = append(line, ' ')
				line = strconv.AppendFloat(line, float64(v), 'f', 6, 32)
			}
			line = append(line, '\n')
			if _, err := bw.Write(line); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// SaveFile writes the embedding to path.
func SaveFile(ctx context.Context, path string, src Getter, rows, cols int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	if err := Save(ctx, f, src, rows, cols); err != nil {
		f.Close()
		return fmt.Errorf("save embedding to %s: %w", path, err)
	}
	return f.Close()
}
