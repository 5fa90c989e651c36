package embedding

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dreamware/graphps/internal/shard"
	"github.com/dreamware/graphps/internal/table"
)

// Table ids shared by servers and workers. The column layout keeps both
// vector roles in TableIn; the row layout holds target-role vectors in
// TableOut.
const (
	TableIn  = 0
	TableOut = 1
)

// ServerTables creates this server's shards of the embedding tables, in
// table id order.
func ServerTables(layout shard.Layout, opts shard.Options, place shard.Placement) ([]shard.Table, error) {
	switch layout {
	case shard.LayoutColumn:
		t, err := shard.NewColumnTable(opts, place)
		if err != nil {
			return nil, err
		}
		return []shard.Table{t}, nil
	case shard.LayoutRow:
		in, err := shard.NewRowTable(opts, place)
		if err != nil {
			return nil, err
		}
		// distinct seeds from every in-table shard
		opts.Seed += int64(place.Servers)
		out, err := shard.NewRowTable(opts, place)
		if err != nil {
			return nil, err
		}
		return []shard.Table{in, out}, nil
	}
	return nil, fmt.Errorf("unknown table layout %q", layout)
}

// NewLearner builds the worker-side proxies for layout and returns the
// learner that trains through them and the getter that reads source-role
// vectors for saving.
func NewLearner(layout shard.Layout, tr table.Transport, rows, cols, servers int, lr float32, log zerolog.Logger) (Learner, Getter, error) {
	cfg := table.Config{ID: TableIn, Rows: rows, Cols: cols, Servers: servers}
	switch layout {
	case shard.LayoutColumn:
		t, err := table.NewColumnTable(tr, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return &ColumnLearner{Table: t, LR: lr}, t, nil
	case shard.LayoutRow:
		in, err := table.NewRowTable(tr, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		cfg.ID = TableOut
		out, err := table.NewRowTable(tr, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return &RowLearner{In: in, Out: out, Cols: cols, LR: lr}, in, nil
	}
	return nil, nil, fmt.Errorf("unknown table layout %q", layout)
}
