package table

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/graphps/internal/blob"
	"github.com/dreamware/graphps/internal/partition"
)

// Pairs is a batch of (source, target) pairs. Targets holds K+1 ids per
// source: the positive target followed by K negatives. Pair p belongs to
// source p/(K+1).
type Pairs struct {
	K       int
	Sources []int32
	Targets []int32
}

// Len is the number of pairs in the batch.
func (p Pairs) Len() int { return len(p.Targets) }

// ColumnTable is the client of a column-sharded embedding table. Every call
// is broadcast to all servers.
type ColumnTable struct {
	proxy
}

// NewColumnTable returns a proxy for the column-sharded table described by cfg.
func NewColumnTable(tr Transport, cfg Config, log zerolog.Logger) (*ColumnTable, error) {
	if err := cfg.validate(cfg.Cols); err != nil {
		return nil, err
	}
	return &ColumnTable{proxy: newProxy(tr, cfg, log)}, nil
}

type span struct {
	server int
	reply  blob.ColumnGetReply
}

// Get fills out[i] with the full-width source-role vector of keys[i],
// placing each server's slice at its column offset.
func (t *ColumnTable) Get(ctx context.Context, keys []int32, out [][]float32) error {
	if err := checkSlots(out, len(keys), t.cfg.Cols); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	req, err := blob.GetRequest{Keys: keys}.Encode()
	if err != nil {
		return err
	}
	replies, err := t.exchange(ctx, false, partition.Broadcast(req, t.cfg.Servers))
	if err != nil {
		return err
	}

	spans := make([]span, len(replies))
	for s, reply := range replies {
		got, err := blob.DecodeColumnGetReply(reply)
		if err != nil {
			return fmt.Errorf("table %d server %d: %w", t.cfg.ID, s, err)
		}
		if int(got.Count) != len(keys) {
			return fmt.Errorf("%w: server %d answered %d rows, asked %d", blob.ErrMalformed, s, got.Count, len(keys))
		}
		spans[s] = span{server: s, reply: got}
	}

	slices.SortFunc(spans, func(a, b span) int { return int(a.reply.Offset - b.reply.Offset) })
	next := 0
	for _, sp := range spans {
		if int(sp.reply.Offset) != next {
			return fmt.Errorf("%w: server %d slice starts at column %d, want %d", blob.ErrMalformed, sp.server, sp.reply.Offset, next)
		}
		next += int(sp.reply.Width)
	}
	if next != t.cfg.Cols {
		return fmt.Errorf("%w: slices cover %d of %d columns", blob.ErrMalformed, next, t.cfg.Cols)
	}

	for _, sp := range spans {
		off, w := int(sp.reply.Offset), int(sp.reply.Width)
		for i := range keys {
			copy(out[i][off:off+w], sp.reply.Values[i*w:(i+1)*w])
		}
	}
	return nil
}

// Add accumulates deltas[i] into the source-role vector of keys[i]. The
// full-width rows go to every server, which applies the columns it owns.
func (t *ColumnTable) Add(ctx context.Context, keys []int32, deltas [][]float32) error {
	if err := checkSlots(deltas, len(keys), t.cfg.Cols); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	values := make([]float32, 0, len(keys)*t.cfg.Cols)
	for _, d := range deltas {
		values = append(values, d...)
	}
	req, err := blob.AddRequest{Keys: keys, Values: values}.Encode()
	if err != nil {
		return err
	}
	replies, err := t.exchange(ctx, true, partition.Broadcast(req, t.cfg.Servers))
	if err != nil {
		return err
	}
	for s, reply := range replies {
		ack, err := blob.DecodeAddReply(reply)
		if err != nil {
			return fmt.Errorf("table %d server %d: %w", t.cfg.ID, s, err)
		}
		if !slices.Equal(ack.Keys, keys) {
			return fmt.Errorf("%w: server %d acknowledged %d keys, sent %d", blob.ErrMalformed, s, len(ack.Keys), len(keys))
		}
	}
	return nil
}

// DotProd returns the inner product of every pair, summed over the partial
// products of all servers.
func (t *ColumnTable) DotProd(ctx context.Context, pairs Pairs) ([]float32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, err := blob.DotProdRequest{K: int32(pairs.K), Sources: pairs.Sources, Targets: pairs.Targets}.Encode()
	if err != nil {
		return nil, err
	}
	replies, err := t.exchange(ctx, false, partition.Broadcast(req, t.cfg.Servers))
	if err != nil {
		return nil, err
	}

	scores := make([]float32, pairs.Len())
	for s, reply := range replies {
		got, err := blob.DecodeDotProdReply(reply)
		if err != nil {
			return nil, fmt.Errorf("table %d server %d: %w", t.cfg.ID, s, err)
		}
		if len(got.Scores) != len(scores) {
			return nil, fmt.Errorf("%w: server %d scored %d pairs, asked %d", blob.ErrMalformed, s, len(got.Scores), len(scores))
		}
		for p, v := range got.Scores {
			scores[p] += v
		}
	}
	return scores, nil
}

// Adjust applies scales[p] times the counterpart vector to both endpoints of
// pair p on every server. It returns after every server has acknowledged.
func (t *ColumnTable) Adjust(ctx context.Context, pairs Pairs, scales []float32) error {
	if len(scales) != pairs.Len() {
		return fmt.Errorf("%d scales for %d pairs", len(scales), pairs.Len())
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	req, err := blob.AdjustRequest{
		K:       int32(pairs.K),
		Sources: pairs.Sources,
		Targets: pairs.Targets,
		Scales:  scales,
	}.Encode()
	if err != nil {
		return err
	}
	replies, err := t.exchange(ctx, true, partition.Broadcast(req, t.cfg.Servers))
	if err != nil {
		return err
	}
	for s, reply := range replies {
		ack, err := blob.DecodeAdjustReply(reply)
		if err != nil {
			return fmt.Errorf("table %d server %d: %w", t.cfg.ID, s, err)
		}
		if int(ack.Pairs) != pairs.Len() {
			return fmt.Errorf("%w: server %d adjusted %d pairs, sent %d", blob.ErrMalformed, s, ack.Pairs, pairs.Len())
		}
	}
	return nil
}
