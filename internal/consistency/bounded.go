package consistency

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Bounded is the bounded-staleness controller. Each worker has one clock,
// advanced by every executed Add. A Get runs while its worker is at most
// bound rounds ahead of the slowest running worker; an Add runs while the
// worker is strictly less than bound ahead. A worker therefore never gets
// more than bound Adds ahead of the slowest one, and always reads its own
// writes.
type Bounded struct {
	exec    Executor
	bound   int
	clock   []int
	pending []*Message
	log     zerolog.Logger
}

// NewBounded returns a Bounded controller. bound must be at least one, or
// no Add could ever run.
func NewBounded(workers, bound int, exec Executor, log zerolog.Logger) (*Bounded, error) {
	if bound < 1 {
		return nil, fmt.Errorf("staleness bound %d must be at least 1", bound)
	}
	return &Bounded{
		exec:  exec,
		bound: bound,
		clock: make([]int, workers),
		log:   log,
	}, nil
}

// limit is the slowest running clock plus the bound, saturating.
func (b *Bounded) limit() int {
	m := finished
	for _, c := range b.clock {
		if c < m {
			m = c
		}
	}
	if m > finished-b.bound {
		return finished
	}
	return m + b.bound
}

// admit executes m if its worker is within the bound.
func (b *Bounded) admit(m *Message) bool {
	c := b.clock[m.Worker]
	switch m.Kind {
	case KindGet:
		if c > b.limit() {
			return false
		}
		b.exec.Get(m)
	case KindAdd:
		if c >= b.limit() {
			return false
		}
		b.exec.Add(m)
		b.clock[m.Worker]++
	}
	return true
}

// drain rescans the pending queue until a full pass executes nothing.
func (b *Bounded) drain() {
	for progress := true; progress && len(b.pending) > 0; {
		progress = false
		queue := b.pending
		b.pending = nil
		for _, m := range queue {
			if b.admit(m) {
				progress = true
			} else {
				b.pending = append(b.pending, m)
			}
		}
	}
	b.log.Debug().Ints("clock", b.clock).Int("pending", len(b.pending)).Msg("queue scanned")
}

func (b *Bounded) enqueue(m *Message) {
	if b.clock[m.Worker] == finished {
		m.reply(nil, ErrFinished)
		return
	}
	b.pending = append(b.pending, m)
	b.drain()
}

func (b *Bounded) ProcessGet(m *Message) { b.enqueue(m) }

func (b *Bounded) ProcessAdd(m *Message) { b.enqueue(m) }

// ProcessFinish retires the worker. Requests the worker queued before its
// finish run first, in arrival order and regardless of clocks, since a
// finished clock could never admit them. The rest of the queue is then
// rescanned against the new limit.
func (b *Bounded) ProcessFinish(m *Message) {
	if b.clock[m.Worker] != finished {
		queue := b.pending
		b.pending = nil
		for _, p := range queue {
			switch {
			case p.Worker != m.Worker:
				b.pending = append(b.pending, p)
			case p.Kind == KindGet:
				b.exec.Get(p)
			default:
				b.exec.Add(p)
			}
		}
		b.clock[m.Worker] = finished
	}
	b.drain()
	m.reply(nil, nil)
}

// Clocks returns a copy of the per-worker clocks.
func (b *Bounded) Clocks() []int {
	return append([]int(nil), b.clock...)
}

// Pending returns the number of deferred requests.
func (b *Bounded) Pending() int { return len(b.pending) }
