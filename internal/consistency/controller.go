package consistency

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// finished is the clock value of a worker that signalled completion. It is
// larger than any clock a running worker can reach.
const finished = math.MaxInt

// Protocol names a consistency controller.
type Protocol string

const (
	ProtocolAsync   Protocol = "async"
	ProtocolSync    Protocol = "sync"
	ProtocolBounded Protocol = "bounded"
)

// ParseProtocol validates a protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case ProtocolAsync, ProtocolSync, ProtocolBounded:
		return p, nil
	}
	return "", fmt.Errorf("unknown consistency protocol %q", s)
}

// Controller admits or defers worker requests. Deferred requests are
// executed later from within another Process call.
type Controller interface {
	ProcessGet(m *Message)
	ProcessAdd(m *Message)
	ProcessFinish(m *Message)
}

// Options configures a controller.
type Options struct {
	Protocol  Protocol
	Workers   int // Number of workers sending requests
	Staleness int // Clock bound for ProtocolBounded
}

// New returns the controller selected by opts, executing through exec.
func New(opts Options, exec Executor, log zerolog.Logger) (Controller, error) {
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("invalid worker count %d", opts.Workers)
	}
	log = log.With().Str("protocol", string(opts.Protocol)).Logger()
	switch opts.Protocol {
	case ProtocolAsync:
		return NewAsync(exec), nil
	case ProtocolSync:
		return NewSync(opts.Workers, exec, log), nil
	case ProtocolBounded:
		return NewBounded(opts.Workers, opts.Staleness, exec, log)
	}
	return nil, fmt.Errorf("unknown consistency protocol %q", opts.Protocol)
}

// Async executes every request on arrival. Requests from one worker run in
// arrival order.
type Async struct {
	exec Executor
}

// NewAsync returns an Async controller.
func NewAsync(exec Executor) *Async {
	return &Async{exec: exec}
}

func (a *Async) ProcessGet(m *Message) { a.exec.Get(m) }

func (a *Async) ProcessAdd(m *Message) { a.exec.Add(m) }

func (a *Async) ProcessFinish(m *Message) { m.reply(nil, nil) }
