// Package table is the worker-side client of a distributed table.
//
// A proxy turns typed calls (Get, Add, DotProd, Adjust) into one blob per
// server, sends them concurrently through a Transport and merges the
// replies into caller-owned memory. Every call addresses every server, so
// the number of replies is always the server count.
//
// A proxy admits one call at a time. Replies are merged into state keyed by
// the call, so a second call waits until the first has returned.
package table

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/graphps/internal/blob"
)

// ErrShardCountMismatch is returned when the replies of a call do not match
// the servers it addressed. It signals a transport or partitioning bug and
// is never retried.
var ErrShardCountMismatch = errors.New("shard reply count mismatch")

// Transport delivers a request blob to the table on one server and returns
// its reply. Get carries Get and DotProd; Add carries Add and Adjust.
type Transport interface {
	Get(ctx context.Context, server, table int, req blob.Blob) (blob.Blob, error)
	Add(ctx context.Context, server, table int, req blob.Blob) (blob.Blob, error)
}

// Config describes the logical table a proxy talks to.
type Config struct {
	ID      int // Table id, identical on every server
	Rows    int // Logical row count
	Cols    int // Logical column count
	Servers int // Number of shards
}

func (c Config) validate(span int) error {
	if c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("table %d: invalid shape %dx%d", c.ID, c.Rows, c.Cols)
	}
	if c.Servers <= 0 || span < c.Servers {
		return fmt.Errorf("table %d: cannot split %d across %d servers", c.ID, span, c.Servers)
	}
	return nil
}

type proxy struct {
	mu  sync.Mutex
	tr  Transport
	cfg Config
	log zerolog.Logger
}

func newProxy(tr Transport, cfg Config, log zerolog.Logger) proxy {
	return proxy{
		tr:  tr,
		cfg: cfg,
		log: log.With().Int("table", cfg.ID).Logger(),
	}
}

// exchange sends reqs[s] to server s, all servers concurrently, and returns
// the replies indexed by server once every server has answered.
func (p *proxy) exchange(ctx context.Context, add bool, reqs []blob.Blob) ([]blob.Blob, error) {
	if len(reqs) != p.cfg.Servers {
		return nil, fmt.Errorf("%w: %d requests for %d servers", ErrShardCountMismatch, len(reqs), p.cfg.Servers)
	}
	send := p.tr.Get
	if add {
		send = p.tr.Add
	}

	replies := make([]blob.Blob, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for s, req := range reqs {
		g.Go(func() error {
			reply, err := send(gctx, s, p.cfg.ID, req)
			if err != nil {
				return fmt.Errorf("table %d server %d: %w", p.cfg.ID, s, err)
			}
			replies[s] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	received := 0
	for _, r := range replies {
		if r != nil {
			received++
		}
	}
	if received != len(reqs) {
		p.log.Error().Int("received", received).Int("addressed", len(reqs)).Msg("missing shard replies")
		return nil, fmt.Errorf("%w: %d replies from %d servers", ErrShardCountMismatch, received, len(reqs))
	}
	return replies, nil
}

func checkSlots(out [][]float32, n, width int) error {
	if len(out) != n {
		return fmt.Errorf("%d output slots for %d keys", len(out), n)
	}
	for i, row := range out {
		if len(row) != width {
			return fmt.Errorf("output slot %d has width %d, want %d", i, len(row), width)
		}
	}
	return nil
}
