package consistency

import (
	"github.com/rs/zerolog"
)

// vectorClock counts one kind of operation per worker. global is the
// number of rounds every running worker has completed.
type vectorClock struct {
	local  []int
	global int
}

func newVectorClock(workers int) *vectorClock {
	return &vectorClock{local: make([]int, workers)}
}

func (v *vectorClock) min() int {
	m := v.local[0]
	for _, c := range v.local[1:] {
		if c < m {
			m = c
		}
	}
	return m
}

// max is the largest clock among running workers, at least global.
func (v *vectorClock) max() int {
	m := v.global
	for _, c := range v.local {
		if c != finished && c > m {
			m = c
		}
	}
	return m
}

// tick advances worker w and reports whether every running worker now
// stands on the same round.
func (v *vectorClock) tick(w int) bool {
	v.local[w]++
	if v.global < v.min() {
		v.global++
		return v.global == v.max()
	}
	return false
}

// finish retires worker w so it no longer holds the floor back.
func (v *vectorClock) finish(w int) bool {
	v.local[w] = finished
	if m := v.min(); v.global < m {
		v.global = m
		return v.global == v.max()
	}
	return false
}

func (v *vectorClock) ahead(w int) bool {
	return v.local[w] > v.global
}

// Sync is the barrier controller. A worker's Get waits while the worker is
// ahead of the global Add round or has an Add of its own deferred; its Add
// waits while it is ahead of the global Get round. When a round completes
// on one axis, every request deferred on the other axis is released.
type Sync struct {
	exec      Executor
	get       *vectorClock
	add       *vectorClock
	waitedAdd []int
	getCache  []*Message
	addCache  []*Message
	log       zerolog.Logger
}

// NewSync returns a Sync controller for workers workers.
func NewSync(workers int, exec Executor, log zerolog.Logger) *Sync {
	return &Sync{
		exec:      exec,
		get:       newVectorClock(workers),
		add:       newVectorClock(workers),
		waitedAdd: make([]int, workers),
		log:       log,
	}
}

func (s *Sync) ProcessGet(m *Message) {
	w := m.Worker
	if s.get.local[w] == finished {
		m.reply(nil, ErrFinished)
		return
	}
	if s.add.ahead(w) || s.waitedAdd[w] > 0 {
		s.getCache = append(s.getCache, m)
		return
	}
	s.exec.Get(m)
	if s.get.tick(w) {
		s.releaseAdds()
	}
}

func (s *Sync) ProcessAdd(m *Message) {
	w := m.Worker
	if s.add.local[w] == finished {
		m.reply(nil, ErrFinished)
		return
	}
	if s.get.ahead(w) {
		s.addCache = append(s.addCache, m)
		s.waitedAdd[w]++
		return
	}
	s.exec.Add(m)
	if s.add.tick(w) {
		s.releaseGets()
	}
}

func (s *Sync) ProcessFinish(m *Message) {
	w := m.Worker
	if s.add.finish(w) {
		s.releaseGets()
	}
	if s.get.finish(w) {
		s.releaseAdds()
	}
	s.log.Debug().Int("worker", w).Ints("get", s.get.local).Ints("add", s.add.local).Msg("worker finished")
	m.reply(nil, nil)
}

// releaseGets re-admits every deferred Get in arrival order.
func (s *Sync) releaseGets() {
	s.log.Debug().Int("round", s.add.global).Int("released", len(s.getCache)).Msg("add round complete")
	pending := s.getCache
	s.getCache = nil
	for _, m := range pending {
		s.ProcessGet(m)
	}
}

// releaseAdds re-admits every deferred Add in arrival order.
func (s *Sync) releaseAdds() {
	s.log.Debug().Int("round", s.get.global).Int("released", len(s.addCache)).Msg("get round complete")
	pending := s.addCache
	s.addCache = nil
	for _, m := range pending {
		s.waitedAdd[m.Worker]--
		s.ProcessAdd(m)
	}
}

// Pending returns the number of deferred Gets and Adds.
func (s *Sync) Pending() (gets, adds int) {
	return len(s.getCache), len(s.addCache)
}
