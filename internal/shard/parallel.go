package shard

import "golang.org/x/sync/errgroup"

// parallelFor splits [0, n) into at most threads contiguous chunks and runs
// fn on each. Callers must only touch memory owned by their chunk.
func parallelFor(n, threads int, fn func(lo, hi int)) {
	if n == 0 {
		return
	}
	if threads <= 1 || n == 1 {
		fn(0, n)
		return
	}
	if threads > n {
		threads = n
	}
	chunk := (n + threads - 1) / threads

	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
