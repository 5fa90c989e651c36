// Package consistency decides when a server may act on a worker request.
//
// Every request a server receives becomes a Message. A Controller admits
// it immediately or defers it according to per-worker logical clocks, and
// hands admitted messages to an Executor that runs them against the
// registered tables and replies to the requester. Three controllers exist:
//
//   - Async runs every request on arrival.
//   - Sync releases a worker's i-th Get only after every worker finished the
//     Adds that precede it, and holds Adds until Gets of the same round
//     have been served everywhere.
//   - Bounded lets the fastest worker run at most a fixed number of Adds
//     ahead of the slowest.
//
// Controllers are not safe for concurrent use. A Server owns one controller
// and drives it from a single goroutine.
package consistency

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dreamware/graphps/internal/blob"
	"github.com/dreamware/graphps/internal/shard"
)

var (
	// ErrUnknownTable is returned for a message addressing an unregistered table.
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnknownWorker is returned for a message from a worker id outside
	// the configured worker count.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrFinished is returned for a request from a worker that already
	// signalled the end of training.
	ErrFinished = errors.New("worker already finished")
)

// Kind is the type of a message delivered to a controller.
type Kind int

const (
	KindGet Kind = iota
	KindAdd
	KindFinish
)

func (k Kind) String() string {
	switch k {
	case KindGet:
		return "get"
	case KindAdd:
		return "add"
	case KindFinish:
		return "finish"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message is one request from a worker. Done is called exactly once with
// the reply, possibly long after the message was handed to the controller.
type Message struct {
	Kind   Kind
	Worker int
	Table  int
	Data   blob.Blob
	Done   func(reply blob.Blob, err error)
}

func (m *Message) reply(b blob.Blob, err error) {
	if m.Done != nil {
		m.Done(b, err)
	}
}

// Executor runs admitted messages and replies to them.
type Executor interface {
	Get(m *Message)
	Add(m *Message)
}

// Dispatcher holds the tables registered on a server and executes messages
// against them.
type Dispatcher struct {
	tables []shard.Table
	log    zerolog.Logger
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{log: log.With().Str("component", "dispatcher").Logger()}
}

// RegisterTable adds t and returns its id. Ids are assigned in registration
// order starting at zero, so servers that register the same tables in the
// same order agree on them.
func (d *Dispatcher) RegisterTable(t shard.Table) int {
	d.tables = append(d.tables, t)
	return len(d.tables) - 1
}

// Table returns the table registered under id.
func (d *Dispatcher) Table(id int) (shard.Table, error) {
	if id < 0 || id >= len(d.tables) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTable, id)
	}
	return d.tables[id], nil
}

// Tables returns the number of registered tables.
func (d *Dispatcher) Tables() int { return len(d.tables) }

// Get runs a Get-path message (Get or DotProd).
func (d *Dispatcher) Get(m *Message) {
	t, err := d.Table(m.Table)
	if err != nil {
		m.reply(nil, err)
		return
	}
	reply, err := t.ProcessGet(m.Data)
	if err != nil {
		d.log.Warn().Err(err).Int("worker", m.Worker).Int("table", m.Table).Msg("get rejected")
	}
	m.reply(reply, err)
}

// Add runs an Add-path message (Add or Adjust).
func (d *Dispatcher) Add(m *Message) {
	t, err := d.Table(m.Table)
	if err != nil {
		m.reply(nil, err)
		return
	}
	reply, err := t.ProcessAdd(m.Data)
	if err != nil {
		d.log.Warn().Err(err).Int("worker", m.Worker).Int("table", m.Table).Msg("add rejected")
	}
	m.reply(reply, err)
}
