// Package pipeline connects processing stages with bounded queues.
//
// A stage reads from the previous stage's output channel and writes to its
// own, whose capacity is the stage's high-water mark: a send blocks while
// the queue is full and a receive blocks while it is empty. A stage's
// output is closed once every one of its workers has returned, which
// tells the next stage no more items will arrive. The first error from
// any stage cancels the pipeline and is returned by Wait.
//
//	Source ──[depth]──► Stage ×n ──[depth]──► Stage ×1 ──► Sink
package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pipeline owns the goroutines of a set of connected stages.
type Pipeline struct {
	g   *errgroup.Group
	ctx context.Context
}

// New returns an empty pipeline and the context its stages run under. The
// context is cancelled on the first stage error.
func New(ctx context.Context) (*Pipeline, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	return &Pipeline{g: g, ctx: gctx}, gctx
}

// Wait blocks until every stage has returned and reports the first error.
func (p *Pipeline) Wait() error {
	return p.g.Wait()
}

// send delivers v unless the pipeline is cancelled first.
func send[T any](ctx context.Context, out chan<- T, v T) error {
	select {
	case out <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Source starts a stage that calls next until it reports done or fails.
func Source[T any](p *Pipeline, depth int, next func(ctx context.Context) (v T, done bool, err error)) <-chan T {
	out := make(chan T, depth)
	p.g.Go(func() error {
		defer close(out)
		for {
			v, done, err := next(p.ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			if err := send(p.ctx, out, v); err != nil {
				return err
			}
		}
	})
	return out
}

// Stage starts workers goroutines applying fn to items from in. Items are
// emitted in completion order; with one worker that is arrival order.
func Stage[In, Out any](p *Pipeline, in <-chan In, workers, depth int, fn func(ctx context.Context, worker int, v In) (Out, error)) <-chan Out {
	if workers < 1 {
		workers = 1
	}
	out := make(chan Out, depth)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		p.g.Go(func() error {
			defer wg.Done()
			for {
				select {
				case v, ok := <-in:
					if !ok {
						return nil
					}
					r, err := fn(p.ctx, w, v)
					if err != nil {
						return err
					}
					if err := send(p.ctx, out, r); err != nil {
						return err
					}
				case <-p.ctx.Done():
					return p.ctx.Err()
				}
			}
		})
	}
	p.g.Go(func() error {
		wg.Wait()
		close(out)
		return nil
	})
	return out
}

// Sink consumes in with fn until in is closed.
func Sink[T any](p *Pipeline, in <-chan T, fn func(ctx context.Context, v T) error) {
	p.g.Go(func() error {
		for {
			select {
			case v, ok := <-in:
				if !ok {
					return nil
				}
				if err := fn(p.ctx, v); err != nil {
					return err
				}
			case <-p.ctx.Done():
				return p.ctx.Err()
			}
		}
	})
}
