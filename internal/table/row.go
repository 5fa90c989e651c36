package table

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/graphps/internal/blob"
	"github.com/dreamware/graphps/internal/partition"
)

// RowTable is the client of a row-sharded table.
type RowTable struct {
	proxy
}

// NewRowTable returns a proxy for the row-sharded table described by cfg.
func NewRowTable(tr Transport, cfg Config, log zerolog.Logger) (*RowTable, error) {
	if err := cfg.validate(cfg.Rows); err != nil {
		return nil, err
	}
	return &RowTable{proxy: newProxy(tr, cfg, log)}, nil
}

// Get fills out[i] with row keys[i]. Each slot must be Cols wide.
func (t *RowTable) Get(ctx context.Context, keys []int32, out [][]float32) error {
	if err := checkSlots(out, len(keys), t.cfg.Cols); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	batches, err := partition.Rows(keys, nil, t.cfg.Cols, t.cfg.Rows, t.cfg.Servers)
	if err != nil {
		return err
	}
	reqs := make([]blob.Blob, len(batches))
	for s, b := range batches {
		if reqs[s], err = (blob.GetRequest{Keys: b.Keys}).Encode(); err != nil {
			return err
		}
	}

	replies, err := t.exchange(ctx, false, reqs)
	if err != nil {
		return err
	}
	for s, reply := range replies {
		got, err := blob.DecodeRowGetReply(reply, t.cfg.Cols)
		if err != nil {
			return fmt.Errorf("table %d server %d: %w", t.cfg.ID, s, err)
		}
		if !slices.Equal(got.Keys, batches[s].Keys) {
			return fmt.Errorf("%w: server %d answered %d keys, asked %d", blob.ErrMalformed, s, len(got.Keys), len(batches[s].Keys))
		}
		cols := t.cfg.Cols
		for i, idx := range batches[s].Index {
			copy(out[idx], got.Values[i*cols:(i+1)*cols])
		}
	}
	return nil
}

// Add accumulates deltas[i] into row keys[i]. Repeated keys accumulate once
// per occurrence. It returns after every server has acknowledged.
func (t *RowTable) Add(ctx context.Context, keys []int32, deltas [][]float32) error {
	if err := checkSlots(deltas, len(keys), t.cfg.Cols); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	values := make([]float32, 0, len(keys)*t.cfg.Cols)
	for _, d := range deltas {
		values = append(values, d...)
	}
	batches, err := partition.Rows(keys, values, t.cfg.Cols, t.cfg.Rows, t.cfg.Servers)
	if err != nil {
		return err
	}
	reqs := make([]blob.Blob, len(batches))
	for s, b := range batches {
		if reqs[s], err = (blob.AddRequest{Keys: b.Keys, Values: b.Values}).Encode(); err != nil {
			return err
		}
	}

	replies, err := t.exchange(ctx, true, reqs)
	if err != nil {
		return err
	}
	for s, reply := range replies {
		ack, err := blob.DecodeAddReply(reply)
		if err != nil {
			return fmt.Errorf("table %d server %d: %w", t.cfg.ID, s, err)
		}
		if !slices.Equal(ack.Keys, batches[s].Keys) {
			return fmt.Errorf("%w: server %d acknowledged %d keys, sent %d", blob.ErrMalformed, s, len(ack.Keys), len(batches[s].Keys))
		}
	}
	return nil
}
