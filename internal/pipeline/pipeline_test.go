package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter returns a source emitting 0..n-1
func counter(n int) func(context.Context) (int, bool, error) {
	i := 0
	return func(context.Context) (int, bool, error) {
		if i == n {
			return 0, true, nil
		}
		i++
		return i - 1, false, nil
	}
}

func TestPipelineOrder(t *testing.T) {
	p, _ := New(context.Background())
	src := Source(p, 2, counter(100))
	doubled := Stage(p, src, 1, 2, func(_ context.Context, _ int, v int) (int, error) { return v * 2, nil })

	var got []int
	Sink(p, doubled, func(_ context.Context, v int) error {
		got = append(got, v)
		return nil
	})
	require.NoError(t, p.Wait())

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i*2, v)
	}
}

func TestPipelineParallelStage(t *testing.T) {
	p, _ := New(context.Background())
	src := Source(p, 4, counter(50))

	var seen [4]atomic.Int32
	sq := Stage(p, src, 4, 4, func(_ context.Context, w int, v int) (int, error) {
		seen[w].Add(1)
		return v * v, nil
	})

	var got []int
	Sink(p, sq, func(_ context.Context, v int) error {
		got = append(got, v)
		return nil
	})
	require.NoError(t, p.Wait())

	sort.Ints(got)
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
	var total int32
	for i := range seen {
		total += seen[i].Load()
	}
	assert.Equal(t, int32(50), total)
}

func TestPipelineCloseEmpty(t *testing.T) {
	p, _ := New(context.Background())
	src := Source(p, 1, counter(0))
	mid := Stage(p, src, 3, 1, func(_ context.Context, _ int, v int) (int, error) { return v, nil })

	calls := 0
	Sink(p, mid, func(context.Context, int) error {
		calls++
		return nil
	})
	require.NoError(t, p.Wait())
	assert.Zero(t, calls)
}

func TestPipelineError(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		build func(p *Pipeline)
	}{
		{name: "source", build: func(p *Pipeline) {
			src := Source(p, 1, func(context.Context) (int, bool, error) { return 0, false, boom })
			Sink(p, src, func(context.Context, int) error { return nil })
		}},
		{name: "stage", build: func(p *Pipeline) {
			src := Source(p, 1, counter(1000))
			mid := Stage(p, src, 2, 1, func(_ context.Context, _ int, v int) (int, error) {
				if v == 10 {
					return 0, boom
				}
				return v, nil
			})
			Sink(p, mid, func(context.Context, int) error { return nil })
		}},
		{name: "sink", build: func(p *Pipeline) {
			src := Source(p, 1, counter(1000))
			Sink(p, src, func(_ context.Context, v int) error {
				if v == 3 {
					return boom
				}
				return nil
			})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ctx := New(context.Background())
			tt.build(p)
			assert.ErrorIs(t, p.Wait(), boom)
			assert.Error(t, ctx.Err())
		})
	}
}

func TestPipelineBackpressure(t *testing.T) {
	p, _ := New(context.Background())

	var produced atomic.Int32
	src := Source(p, 2, func(context.Context) (int, bool, error) {
		n := produced.Add(1)
		if n > 20 {
			return 0, true, nil
		}
		return int(n), false, nil
	})

	release := make(chan struct{})
	Sink(p, src, func(ctx context.Context, _ int) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	// one item held by the sink, two queued, one blocked in send
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, produced.Load(), int32(4))

	close(release)
	require.NoError(t, p.Wait())
}

func TestPipelineCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, _ := New(ctx)
	src := Source(p, 1, counter(1<<30))
	Sink(p, src, func(context.Context, int) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, p.Wait(), context.Canceled)
}
